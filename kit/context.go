package kit

import "context"

// Transport names the control surface a call arrived on.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportMCP  Transport = "mcp"
	TransportCLI  Transport = "cli"
)

type ctxKey int

const (
	transportKey ctxKey = iota
	requestIDKey
)

// WithTransport tags ctx with the surface serving the call.
func WithTransport(ctx context.Context, t Transport) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport returns the tagged surface, TransportCLI when untagged.
func GetTransport(ctx context.Context) Transport {
	if v, ok := ctx.Value(transportKey).(Transport); ok {
		return v
	}
	return TransportCLI
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
