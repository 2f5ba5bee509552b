package grpcapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/logging"
)

// Client calls a remote face code service.
type Client struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// Dial returns a ready-to-use client and the underlying connection, which the
// caller closes. Call sizes are raised to MaxMessageSize.
func Dial(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(MaxMessageSize),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
		),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcapi.dial", "", err)
		logger.Error("failed to dial face code service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, logger), conn, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, logger *zap.Logger) *Client {
	return &Client{conn: conn, logger: logger}
}

// Extract asks the remote service for the face code of imageBytes. A nil
// buffer fails locally with facecode.ErrInvalidInput because protobuf cannot
// tell it apart from an empty one.
func (c *Client) Extract(ctx context.Context, imageBytes []byte) (facecode.FaceCode, error) {
	if imageBytes == nil {
		return facecode.FaceCode{}, logging.NewOperationError("grpcapi.extract", "", facecode.ErrInvalidInput)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, extractMethod, wrapperspb.Bytes(imageBytes), out); err != nil {
		wrapped := logging.NewOperationError("grpcapi.extract", "", err)
		c.logger.Error("face code extraction call failed", zap.Error(wrapped))
		return facecode.FaceCode{}, wrapped
	}

	code, err := faceCodeFromStruct(out)
	if err != nil {
		wrapped := logging.NewOperationError("grpcapi.decode_face_code", "", err)
		c.logger.Error("malformed face code from service", zap.Error(wrapped))
		return facecode.FaceCode{}, wrapped
	}
	return code, nil
}

// Compare asks the remote service to score two vectors.
func (c *Client) Compare(ctx context.Context, a, b []float64) (float64, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.conn.Invoke(ctx, compareMethod, vectorsStruct(a, b), out); err != nil {
		wrapped := logging.NewOperationError("grpcapi.compare", "", err)
		c.logger.Error("compare call failed", zap.Error(wrapped))
		return 0, wrapped
	}
	return out.GetValue(), nil
}
