package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/overlay/idgen"
)

var mcpRequestID = idgen.Prefixed("mcp_", idgen.Default)

// MCPTool exposes endpoint as the MCP tool described by tool. Arguments are
// decoded into a fresh *Req; empty arguments leave it zero. The endpoint
// sees transport "mcp" and a generated request id.
//
// Bad arguments and endpoint failures become tool errors so the client model
// can read them; only a response that cannot be encoded is reported the same
// way, never as a protocol error.
func MCPTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req := new(Req)
		if args := call.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, req); err != nil {
				return toolError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err)), nil
			}
		}

		ctx = WithRequestID(WithTransport(ctx, "mcp"), mcpRequestID())
		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
