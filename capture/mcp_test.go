package capture

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "pagesnap-test", Version: "0.1.0"}

// mcpSession registers the capture tools and returns a connected client
// session.
func mcpSession(t *testing.T, c *Capturer) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	c.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

// callToolErr invokes a tool that is expected to fail and returns the error text.
func callToolErr(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if !result.IsError {
		t.Fatalf("CallTool(%s): expected a tool error", name)
	}
	if len(result.Content) == 0 {
		return ""
	}
	if tc, ok := result.Content[0].(*mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func TestMCP_ListTools(t *testing.T) {
	c, _, _ := newTestCapturer(t, httpConfig(), &fakeDoc{})
	session := mcpSession(t, c)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"pagesnap_capture", "pagesnap_stop", "pagesnap_status"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

func TestMCP_CaptureWait(t *testing.T) {
	assets := assetServer(t)
	doc := &fakeDoc{url: assets.URL + "/page", html: fixturePage}
	c, _, _ := newTestCapturer(t, httpConfig(), doc)
	session := mcpSession(t, c)

	text := callTool(t, session, "pagesnap_capture", map[string]any{"url": doc.url, "wait": true})
	var res Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("decode: %v (%s)", err, text)
	}
	if res.State != StateDone || res.Report == nil || res.Report.Stats.CoveragePct != 75 {
		t.Fatalf("result = %s", text)
	}
	if !strings.HasPrefix(res.ArchiveName, "pagesnap-127.0.0.1-") {
		t.Errorf("archive name = %q", res.ArchiveName)
	}

	text = callTool(t, session, "pagesnap_status", map[string]any{"id": res.SessionID})
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != StateDone || st.Coverage != 75 {
		t.Errorf("status = %s", text)
	}
}

func TestMCP_StartAndStop(t *testing.T) {
	cfg := httpConfig()
	cfg.Limits.MaxScrollIterations = 1 << 20
	doc := &fakeDoc{url: "https://example.org/feed", html: "<html></html>", grow: true}
	c, _, _ := newTestCapturer(t, cfg, doc)
	session := mcpSession(t, c)

	text := callTool(t, session, "pagesnap_capture", map[string]any{"url": doc.url})
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if st.ID == "" || st.State.Terminal() {
		t.Fatalf("start = %s", text)
	}

	msg := callToolErr(t, session, "pagesnap_capture", map[string]any{"url": doc.url})
	if !strings.Contains(msg, "already running") {
		t.Errorf("duplicate start error = %q", msg)
	}

	callTool(t, session, "pagesnap_stop", map[string]any{"id": st.ID})
	if end := waitTerminal(t, c, st.ID); end.State != StateStopped {
		t.Errorf("end = %+v", end)
	}
}

func TestMCP_Errors(t *testing.T) {
	c, _, _ := newTestCapturer(t, httpConfig(), &fakeDoc{})
	session := mcpSession(t, c)

	if msg := callToolErr(t, session, "pagesnap_capture", map[string]any{"url": "javascript:alert(1)"}); !strings.Contains(msg, "invalid request") {
		t.Errorf("bad url error = %q", msg)
	}
	if msg := callToolErr(t, session, "pagesnap_status", map[string]any{"id": "cap_nope"}); !strings.Contains(msg, "not found") {
		t.Errorf("unknown status error = %q", msg)
	}
	callToolErr(t, session, "pagesnap_stop", map[string]any{"id": "cap_nope"})
}
