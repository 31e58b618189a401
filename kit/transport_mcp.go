package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesnap/idgen"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

var mcpRequestID = idgen.Prefixed("mcp_", idgen.Default)

// RegisterMCPTool exposes endpoint as an MCP tool. decode extracts the typed
// request from req.Params.Arguments. Each call gets its own request ID.
// Decode and endpoint failures come back as tool errors, never as protocol
// errors, so the client sees the message.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, TransportMCP)
		ctx = WithRequestID(ctx, mcpRequestID())

		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
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
