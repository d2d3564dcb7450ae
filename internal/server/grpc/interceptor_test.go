package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// helper to build server
func newTestServer(secret string) *GRPCServer {
	return &GRPCServer{
		logger:    nopLogger{},
		jwtSecret: []byte(secret),
	}
}

func withToken(ctx context.Context, token string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(ctx, md)
}

func TestInterceptor_ReadMethod_AllowsWithoutToken(t *testing.T) {
	s := newTestServer("secret")

	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/GetFeed"}
	handlerCalled := false

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Fatal("handler was not called")
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
}

func TestInterceptor_WriteMethod_MissingToken(t *testing.T) {
	s := newTestServer("secret")

	for _, m := range []string{"PutEntry", "DeleteEntry", "Batch", "Obliterate"} {
		info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/" + m}

		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			t.Fatal("handler should not be called when token missing")
			return nil, nil
		}

		_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: expected Unauthenticated, got %v", m, status.Code(err))
		}
		if status.Convert(err).Message() != "missing token" {
			t.Fatalf("%s: expected 'missing token', got %q", m, status.Convert(err).Message())
		}
	}
}

func TestInterceptor_WriteMethod_InvalidToken(t *testing.T) {
	s := newTestServer("secret")

	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/PutEntry"}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called with invalid token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(withToken(context.Background(), "not-a-valid-jwt"), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}

	other, err := auth.GenerateToken("alice", []byte("other-secret"), time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	_, err = s.accessTokenInterceptor(withToken(context.Background(), other), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for foreign signature, got %v", status.Code(err))
	}
}

func TestInterceptor_WriteMethod_ExpiredToken(t *testing.T) {
	s := newTestServer("secret")

	token, err := auth.GenerateToken("alice", []byte("secret"), -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/Batch"}
	_, err = s.accessTokenInterceptor(withToken(context.Background(), token), nil, info,
		func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
}

func TestInterceptor_WriteMethod_PutsAuthorIntoContext(t *testing.T) {
	s := newTestServer("secret")

	token, err := auth.GenerateToken("alice", []byte("secret"), time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/PutEntry"}
	var got string
	_, err = s.accessTokenInterceptor(withToken(context.Background(), token), nil, info,
		func(ctx context.Context, req interface{}) (interface{}, error) {
			got = authorFrom(ctx)
			return nil, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "alice" {
		t.Fatalf("author = %q, want alice", got)
	}
}
