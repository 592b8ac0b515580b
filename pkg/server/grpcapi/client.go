package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/jacktea/sumgate/pkg/validator"
)

// Client calls a remote DataValidator.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security. Extra options are
// appended after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(DefaultMaxRecvBytes)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// ValidateData sends req and returns the server's response. Storage failures
// arrive as a status error with codes.Internal.
func (c *Client) ValidateData(ctx context.Context, req validator.Request, opts ...grpc.CallOption) (validator.Response, error) {
	out := dynamicpb.NewMessage(ResponseDescriptor)
	if err := c.conn.Invoke(ctx, ValidateDataMethod, NewRequestMessage(req), out, opts...); err != nil {
		return validator.Response{}, err
	}
	return ResponseFromMessage(out), nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
