package simclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client wraps the gRPC connection to an external scenario simulator.
type Client struct {
	conn *grpc.ClientConn
}

// #endregion client-struct

// #region constructor
// Dial connects to the simulator at addr. Extra options follow the
// insecure transport default.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// #endregion close

// #region simulate
// Simulate replays one scenario and reports the simulator's verdict and
// score. It satisfies sandbox.Simulator.
func (c *Client) Simulate(ctx context.Context, kind, id string, payload map[string]any) (bool, float64, error) {
	req, err := structpb.NewStruct(map[string]any{
		"kind":    kind,
		"id":      id,
		"payload": payload,
	})
	if err != nil {
		return false, 0, fmt.Errorf("encode scenario %s: %w", id, err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ReplayMethod, req, resp); err != nil {
		return false, 0, fmt.Errorf("replay rpc: %w", err)
	}

	fields := resp.GetFields()
	passed, ok := fields["passed"].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, 0, fmt.Errorf("replay rpc: response for %s has no passed field", id)
	}
	return passed.BoolValue, fields["score"].GetNumberValue(), nil
}

// #endregion simulate
