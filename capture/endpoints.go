package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/pagesnap/horosafe"
	"github.com/hazyhaar/pagesnap/kit"
)

// ErrInvalidRequest wraps request validation failures of the control
// surfaces.
var ErrInvalidRequest = errors.New("capture: invalid request")

// StartRequest asks for a new capture.
type StartRequest struct {
	URL string `json:"url"`
}

// SessionRequest names an existing session.
type SessionRequest struct {
	ID string `json:"id"`
}

// Endpoints are the control operations shared by the HTTP and MCP surfaces.
type Endpoints struct {
	Start  kit.Endpoint
	Stop   kit.Endpoint
	Status kit.Endpoint
}

// Endpoints builds the control endpoints. Submitted URLs must resolve to a
// public address unless allowPrivate is set.
func (c *Capturer) Endpoints() Endpoints {
	mw := func(name string) kit.Middleware { return kit.Logging(c.logger, name) }
	return Endpoints{
		Start:  mw("capture.start")(c.startEndpoint),
		Stop:   mw("capture.stop")(c.stopEndpoint),
		Status: mw("capture.status")(c.statusEndpoint),
	}
}

func (c *Capturer) startEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*StartRequest)
	if err := c.checkTarget(r.URL); err != nil {
		return nil, err
	}
	return c.Start(ctx, r.URL)
}

func (c *Capturer) stopEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*SessionRequest)
	if err := c.Stop(r.ID); err != nil {
		return nil, err
	}
	return c.Status(ctx, r.ID)
}

func (c *Capturer) statusEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*SessionRequest)
	return c.Status(ctx, r.ID)
}

// checkTarget applies the SSRF guard to a submitted URL.
func (c *Capturer) checkTarget(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	cfg, _ := c.config()
	var err error
	if cfg.Server.AllowPrivate {
		_, err = horosafe.ValidateScheme(raw)
	} else {
		err = horosafe.ValidateURL(raw)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}
