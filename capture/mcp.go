// CLAUDE:SUMMARY Registers the pagesnap MCP tools: capture, stop, status.
package capture

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesnap/kit"
)

// RegisterMCP registers the capture tools on an MCP server.
func (c *Capturer) RegisterMCP(srv *mcp.Server) {
	ep := c.Endpoints()
	c.registerCaptureTool(srv, ep)
	c.registerStopTool(srv, ep)
	c.registerStatusTool(srv, ep)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type captureToolRequest struct {
	StartRequest
	Wait bool `json:"wait,omitempty"`
}

func (c *Capturer) registerCaptureTool(srv *mcp.Server, ep Endpoints) {
	tool := &mcp.Tool{
		Name:        "pagesnap_capture",
		Description: "Capture a web page into an offline ZIP archive (index.html, assets, fetch report). Returns the session status, or the final result when wait is true.",
		InputSchema: inputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "Page URL (http or https)"},
			"wait": map[string]any{"type": "boolean", "description": "Block until the capture ends (default false)"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureToolRequest)
		if !r.Wait {
			return ep.Start(ctx, &r.StartRequest)
		}
		if err := c.checkTarget(r.URL); err != nil {
			return nil, err
		}
		return c.Capture(ctx, r.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r captureToolRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (c *Capturer) registerStopTool(srv *mcp.Server, ep Endpoints) {
	tool := &mcp.Tool{
		Name:        "pagesnap_stop",
		Description: "Stop a running capture. The session ends in the stopped state and no archive is produced.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Session ID returned by pagesnap_capture"},
		}, []string{"id"}),
	}
	kit.RegisterMCPTool(srv, tool, ep.Stop, decodeSession)
}

func (c *Capturer) registerStatusTool(srv *mcp.Server, ep Endpoints) {
	tool := &mcp.Tool{
		Name:        "pagesnap_status",
		Description: "Get the state, progress and outcome of a capture session.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Session ID returned by pagesnap_capture"},
		}, []string{"id"}),
	}
	kit.RegisterMCPTool(srv, tool, ep.Status, decodeSession)
}

func decodeSession(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r SessionRequest
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}
