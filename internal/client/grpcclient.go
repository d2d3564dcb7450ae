package client

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "feedkeeper.FeedService"

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	accessToken string
	dialOpts    []grpc.DialOption
}

type Option func(*GRPCClient)

// WithToken attaches token to every call.
func WithToken(token string) Option {
	return func(c *GRPCClient) { c.accessToken = token }
}

// WithDialOptions appends dial options after the defaults.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *GRPCClient) { c.dialOpts = append(c.dialOpts, opts...) }
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.accessToken != "" {
		ctx = withAccessToken(ctx, s.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// New creates a client for endpointURL without transport security. The
// connection is established lazily on the first call.
func New(endpointURL string, opts ...Option) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	for _, o := range opts {
		o(c)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) invoke(ctx context.Context, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrBadRequest, err)
	}
	out := new(structpb.Struct)
	if err := s.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, out); err != nil {
		return nil, s.mapError(err)
	}
	return out.AsMap(), nil
}

func (s *GRPCClient) GetEntry(ctx context.Context, in map[string]any) (map[string]any, error) {
	return s.invoke(ctx, "GetEntry", in)
}

func (s *GRPCClient) PutEntry(ctx context.Context, in map[string]any) (map[string]any, error) {
	return s.invoke(ctx, "PutEntry", in)
}

func (s *GRPCClient) DeleteEntry(ctx context.Context, in map[string]any) (map[string]any, error) {
	return s.invoke(ctx, "DeleteEntry", in)
}

func (s *GRPCClient) GetFeed(ctx context.Context, in map[string]any) (map[string]any, error) {
	return s.invoke(ctx, "GetFeed", in)
}

func (s *GRPCClient) GetAggregate(ctx context.Context, in map[string]any) (map[string]any, error) {
	return s.invoke(ctx, "GetAggregate", in)
}

func (s *GRPCClient) GetAggregateFeed(ctx context.Context, in map[string]any) (map[string]any, error) {
	return s.invoke(ctx, "GetAggregateFeed", in)
}

// Batch sends items and returns the per-item results in request order.
func (s *GRPCClient) Batch(ctx context.Context, items []any) ([]any, error) {
	out, err := s.invoke(ctx, "Batch", map[string]any{"items": items})
	if err != nil {
		return nil, err
	}
	results, _ := out["results"].([]any)
	return results, nil
}

func (s *GRPCClient) Obliterate(ctx context.Context, in map[string]any) error {
	_, err := s.invoke(ctx, "Obliterate", in)
	return err
}

// mapError wraps err with the matching sentinel. The status message is
// kept so conflict details stay readable.
func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = common.ErrNotFound
	case codes.AlreadyExists:
		sentinel = common.ErrDuplicateEntry
	case codes.Aborted:
		sentinel = common.ErrConflict
	case codes.InvalidArgument:
		sentinel = common.ErrBadRequest
	case codes.FailedPrecondition:
		sentinel = common.ErrNotModified
	case codes.ResourceExhausted:
		sentinel = common.ErrPageLimitExceeded
	case codes.Unauthenticated, codes.PermissionDenied:
		sentinel = common.ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		sentinel = ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
