package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/sqlgate-mcp/internal/tools"
	"github.com/alucardeht/sqlgate-mcp/internal/types"
	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

type Client struct {
	conn *jsonrpc2.Conn
}

func Dial(ctx context.Context, socketPath string) (*Client, error) {
	nc, err := NewSocketConnector(socketPath).Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}

	stream := jsonrpc2.NewBufferedStream(nc, jsonrpc2.PlainObjectCodec{})
	return &Client{
		conn: jsonrpc2.NewConn(context.Background(), stream, noopHandler{}),
	}, nil
}

// Call invokes method and decodes the result. JSON-RPC errors come back as
// *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, result any) error {
	if params == nil {
		params = map[string]any{}
	}

	err := c.conn.Call(ctx, method, params, result)
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return &protocol.Error{Code: int(rpcErr.Code), Message: rpcErr.Message}
	}
	return err
}

func (c *Client) ListTools(ctx context.Context) (*types.ToolsListResponse, error) {
	var resp types.ToolsListResponse
	if err := c.Call(ctx, tools.MethodToolsList, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DescribeSchema(ctx context.Context) (*types.SchemaDescribeResponse, error) {
	var resp types.SchemaDescribeResponse
	if err := c.Call(ctx, tools.ToolSchemaDescribe, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ExecuteReadOnly(ctx context.Context, query string) (*types.SQLExecuteResponse, error) {
	var resp types.SQLExecuteResponse
	err := c.Call(ctx, tools.ToolExecuteReadOnly, map[string]any{tools.ParamQuery: query}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}
