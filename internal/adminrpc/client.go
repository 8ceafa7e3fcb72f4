package adminrpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client issues admin calls. The admin listener is expected on loopback, so
// the connection is not encrypted.
type Client struct {
	connection grpc.ClientConnInterface
	closer     func() error
}

// Dial returns a Client for address.
func Dial(address string, options ...grpc.DialOption) (*Client, error) {
	dialOptions := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, options...)
	connection, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, err
	}
	return &Client{connection: connection, closer: connection.Close}, nil
}

// NewClient wraps an existing connection.
func NewClient(connection grpc.ClientConnInterface) *Client {
	return &Client{connection: connection}
}

// Close releases the connection opened by Dial.
func (client *Client) Close() error {
	if client.closer == nil {
		return nil
	}
	return client.closer()
}

// Call invokes method with params and returns the decoded response.
func (client *Client) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	request, err := structpb.NewStruct(params)
	if err != nil {
		return nil, err
	}
	response := &structpb.Struct{}
	if err := client.connection.Invoke(ctx, FullMethod(method), request, response); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

// ErrorResponse renders err the way admin responses report failures.
func ErrorResponse(err error) map[string]any {
	message := err.Error()
	if converted, ok := status.FromError(err); ok {
		message = converted.Message()
	}
	if !strings.HasPrefix(message, errorPrefix) {
		message = errorPrefix + message
	}
	return map[string]any{fieldSuccess: false, "error": message}
}
