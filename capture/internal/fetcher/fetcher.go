// CLAUDE:SUMMARY HTTP resource fetchers: direct (same-origin cookies only), privileged (browser cookie jar), two-step strategy.
// Package fetcher retrieves page resources. Direct forwards browser cookies
// only to same-origin URLs; Privileged always forwards them and sends the
// page as Referer, standing in for a host-level proxy fetch. Strategy tries
// Direct then Privileged exactly once.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hazyhaar/pagesnap/capture/internal/page"
	"github.com/hazyhaar/pagesnap/horosafe"
)

// Request is one resource to fetch.
type Request struct {
	URL     string
	PageURL string // origin and Referer source
}

// Response is a successful (2xx) fetch.
type Response struct {
	Status    int
	MediaType string // raw Content-Type
	Body      []byte
	Via       string // "direct" or "proxy"
}

// Fetcher fetches one resource.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// StatusError is a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d", e.Status) }

// Status extracts the HTTP status carried by err, 0 if none.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

type credentials int

const (
	sameOrigin credentials = iota
	always
)

// Client is an HTTP fetcher.
type Client struct {
	client  *http.Client
	cookies page.CookieSource
	creds   credentials
	via     string
	ua      string
	timeout time.Duration
	maxBody int64
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Client) { f.client = c }
}

// WithCookies sets the browser cookie source.
func WithCookies(src page.CookieSource) Option {
	return func(f *Client) { f.cookies = src }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Client) { f.ua = ua }
}

// WithTimeout sets the per-request timeout. Default 20s.
func WithTimeout(d time.Duration) Option {
	return func(f *Client) { f.timeout = d }
}

// WithMaxBody caps response bodies. 0 means unlimited.
func WithMaxBody(n int64) Option {
	return func(f *Client) { f.maxBody = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Client) { f.logger = l }
}

func newClient(creds credentials, via string, opts []Option) *Client {
	f := &Client{
		client:  &http.Client{},
		creds:   creds,
		via:     via,
		ua:      "Mozilla/5.0 (compatible; pagesnap/1.0)",
		timeout: 20 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Direct returns a Client that sends cookies only to same-origin URLs.
func Direct(opts ...Option) *Client { return newClient(sameOrigin, "direct", opts) }

// Privileged returns a Client that always sends the browser cookies for the
// resource URL and the page as Referer.
func Privileged(opts ...Option) *Client { return newClient(always, "proxy", opts) }

// Fetch GETs req.URL within the per-request timeout.
func (f *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if _, err := horosafe.ValidateScheme(req.URL); err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	hreq.Header.Set("User-Agent", f.ua)
	hreq.Header.Set("Accept", "*/*")
	if f.creds == always && req.PageURL != "" {
		hreq.Header.Set("Referer", req.PageURL)
	}
	if f.cookies != nil && (f.creds == always || SameOrigin(req.URL, req.PageURL)) {
		cookies, err := f.cookies.Cookies(ctx, req.URL)
		if err != nil {
			f.logger.Debug("fetcher: cookies unavailable", "url", req.URL, "error", err)
		}
		for _, c := range cookies {
			hreq.AddCookie(c)
		}
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %s: %w", f.via, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: req.URL, Status: resp.StatusCode}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.maxBody)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %s: read body: %w", f.via, err)
	}

	f.logger.Debug("fetcher: fetched", "url", req.URL, "via", f.via, "status", resp.StatusCode, "size", len(body))
	return &Response{
		Status:    resp.StatusCode,
		MediaType: resp.Header.Get("Content-Type"),
		Body:      body,
		Via:       f.via,
	}, nil
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}
