package sessionsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// RecvTurnEvent reads the next streamed turn event off stream, returning
// it decoded as a plain map (structpb.Struct.AsMap) for callers like
// ariactl that just want to print it. Returns io.EOF when the turn ends.
func RecvTurnEvent(stream grpc.ClientStream) (map[string]any, error) {
	msg := new(structpb.Struct)
	if err := stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg.AsMap(), nil
}

// Client is a hand-written stub for the session service, playing the role
// a generated SessionServiceClient would: every call target string below
// must match the method names registered in ServiceDesc exactly.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a plaintext gRPC connection to addr. The session service sits
// behind the same host-local trust boundary as the ICC server; TLS is left
// to a reverse proxy in front of it, matching the teacher's own internal
// service-to-service calls.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// CreateSession calls the unary CreateSession RPC.
func (c *Client) CreateSession(ctx context.Context, userID, agent string) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"user_id": userID, "agent": agent})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/CreateSession", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession calls the unary GetSession RPC.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/GetSession", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteTurn opens the server-streaming ExecuteTurn RPC and sends its
// single request message, returning the stream for the caller to drain
// with RecvMsg until io.EOF.
func (c *Client) ExecuteTurn(ctx context.Context, sessionID, input string) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: "ExecuteTurn", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/"+ServiceName+"/ExecuteTurn")
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]any{"session_id": sessionID, "input": input})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
