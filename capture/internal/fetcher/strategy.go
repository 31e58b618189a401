package fetcher

import (
	"context"
	"fmt"
	"log/slog"
)

// Strategy tries Primary, then Fallback exactly once on error or non-2xx.
// No fallback is attempted once ctx is done.
type Strategy struct {
	Primary  Fetcher
	Fallback Fetcher
	Logger   *slog.Logger
}

// Fetch implements Fetcher.
func (s *Strategy) Fetch(ctx context.Context, req Request) (*Response, error) {
	resp, err := s.Primary.Fetch(ctx, req)
	if err == nil || s.Fallback == nil || ctx.Err() != nil {
		return resp, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("fetcher: falling back", "url", req.URL, "error", err)

	resp, ferr := s.Fallback.Fetch(ctx, req)
	if ferr != nil {
		return nil, fmt.Errorf("%w (direct: %v)", ferr, err)
	}
	return resp, nil
}
