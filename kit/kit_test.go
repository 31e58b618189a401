package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order: got %v, want %v", order, expected)
	}
}

func TestLogging_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	errFail := errors.New("fail")

	ep := Logging(logger, "pagesnap_stop")(func(context.Context, any) (any, error) {
		return nil, errFail
	})
	ctx := WithRequestID(WithTransport(context.Background(), "mcp"), "req_1")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}

	out := buf.String()
	for _, want := range []string{"kit: endpoint failed", "endpoint=pagesnap_stop", "transport=mcp", "request_id=req_1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != TransportCLI {
		t.Fatalf("default transport: got %q", v)
	}
	if v := GetRequestID(ctx); v != "" {
		t.Fatalf("request id: got %q", v)
	}
	ctx = WithTransport(ctx, TransportHTTP)
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("transport: got %q", v)
	}
}
