// Package grpcapi exposes face code extraction and comparison over gRPC.
// Messages are protobuf well-known types, so no generated stubs are involved:
// Extract takes the raw image as a BytesValue and returns the face code as a
// Struct, Compare takes a Struct holding the vectors "a" and "b" and returns
// the score as a DoubleValue.
package grpcapi

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/salon-face/internal/facecode"
)

const serviceName = "salonface.FaceCode"

const (
	extractMethod = "/" + serviceName + "/Extract"
	compareMethod = "/" + serviceName + "/Compare"
)

// FaceCodeServer is implemented by the service registered with a gRPC server.
type FaceCodeServer interface {
	Extract(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error)
	Compare(ctx context.Context, req *structpb.Struct) (*wrapperspb.DoubleValue, error)
}

// Service is the default FaceCodeServer.
type Service struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds the face code gRPC service.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger.Named("grpc_facecode"), now: time.Now}
}

// ServerOptions returns the options a server hosting the service needs so
// that full-size uploads fit in one message.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}
}

// Extract derives a face code from the request image. Protobuf carries no
// null bytes; an absent value is the empty image.
func (s *Service) Extract(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	image := req.GetValue()
	if image == nil {
		image = []byte{}
	}
	code, err := facecode.ExtractAt(image, s.now())
	if err != nil {
		if errors.Is(err, facecode.ErrInvalidInput) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("extract failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "extract failed")
	}
	return faceCodeStruct(code), nil
}

// Compare never fails; missing or malformed vectors score 0.
func (s *Service) Compare(ctx context.Context, req *structpb.Struct) (*wrapperspb.DoubleValue, error) {
	fields := req.GetFields()
	score := facecode.CosineSimilarity(vectorFromValue(fields[fieldA]), vectorFromValue(fields[fieldB]))
	return wrapperspb.Double(score), nil
}

// Register attaches srv to a gRPC server.
func Register(server *grpc.Server, srv FaceCodeServer) {
	server.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FaceCodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: extractHandler},
		{MethodName: "Compare", Handler: compareHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "salonface/facecode",
}

func extractHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceCodeServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: extractMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceCodeServer).Extract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func compareHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceCodeServer).Compare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: compareMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceCodeServer).Compare(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// LoggingInterceptor logs every unary call with its duration and status code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
