package grpc

import (
	"context"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const authorKey ctxKey = "author"

// writeMethods need an access token; its subject becomes the author.
var writeMethods = map[string]bool{
	"/" + ServiceName + "/PutEntry":    true,
	"/" + ServiceName + "/DeleteEntry": true,
	"/" + ServiceName + "/Batch":       true,
	"/" + ServiceName + "/Obliterate":  true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if writeMethods[info.FullMethod] {

		var accessToken string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(common.AccessTokenHeaderName)
			if len(values) > 0 {
				accessToken = values[0]
			}
		}
		if len(accessToken) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		author, err := auth.AuthorFromToken(accessToken, s.jwtSecret)
		if err != nil {
			s.logger.Info(ctx, "token rejected", "method", info.FullMethod, "error", err)
			return nil, toStatus(err)
		}

		ctx = context.WithValue(ctx, authorKey, author)

	}

	return handler(ctx, req)
}

func authorFrom(ctx context.Context) string {
	author, _ := ctx.Value(authorKey).(string)
	return author
}
