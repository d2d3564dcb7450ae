// Package grpc exposes the feed store over gRPC. Messages are
// google.protobuf.Struct values, so the service needs no generated code.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "feedkeeper.FeedService"

type EntryService interface {
	Content(ctx context.Context, id models.EntryIdentity) (*services.EntryContent, error)
	Insert(ctx context.Context, m models.Mutation) (*models.EntryRecord, error)
	Mutate(ctx context.Context, m models.Mutation) (*models.EntryRecord, error)
	Obliterate(ctx context.Context, id models.EntryIdentity) error
}

type FeedService interface {
	Entries(ctx context.Context, req models.FeedRequest) (*models.EntryPage, error)
	Aggregates(ctx context.Context, req models.FeedRequest) (*models.AggregatePage, error)
}

type AggregateService interface {
	Select(ctx context.Context, join, key string, workspaces []string) (*models.AggregateEntry, error)
}

type BatchService interface {
	Apply(ctx context.Context, items []models.BatchItem) ([]models.BatchResult, error)
}

// FeedServiceServer is the handler set registered under ServiceName.
type FeedServiceServer interface {
	GetEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	PutEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	DeleteEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetFeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetAggregate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetAggregateFeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Batch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Obliterate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type handlerFunc func(s *GRPCServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func method(name string, h handlerFunc) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*GRPCServer)
			if interceptor == nil {
				return h(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return h(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		method("GetEntry", (*GRPCServer).GetEntry),
		method("PutEntry", (*GRPCServer).PutEntry),
		method("DeleteEntry", (*GRPCServer).DeleteEntry),
		method("GetFeed", (*GRPCServer).GetFeed),
		method("GetAggregate", (*GRPCServer).GetAggregate),
		method("GetAggregateFeed", (*GRPCServer).GetAggregateFeed),
		method("Batch", (*GRPCServer).Batch),
		method("Obliterate", (*GRPCServer).Obliterate),
	},
	Streams: []grpc.StreamDesc{},
}

type GRPCServer struct {
	address    string
	entries    EntryService
	feeds      FeedService
	aggregates AggregateService
	batch      BatchService
	logger     logging.Logger
	jwtSecret  []byte
}

func NewGRPCServer(a string, l logging.Logger, es EntryService, fs FeedService, as AggregateService, bs BatchService, secretKey string) (*GRPCServer, error) {
	return &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		entries:    es,
		feeds:      fs,
		aggregates: as,
		batch:      bs,
		jwtSecret:  []byte(secretKey),
	}, nil
}

// Register adds the feed service to srv. Build srv with ServerOptions so
// write calls are authenticated.
func (s *GRPCServer) Register(srv *grpc.Server) {
	srv.RegisterService(&serviceDesc, s)
}

func (s *GRPCServer) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ChainUnaryInterceptor(s.accessTokenInterceptor)}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(s.ServerOptions()...)
	s.Register(srv)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
