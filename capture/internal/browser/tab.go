// CLAUDE:SUMMARY Capture tab: stealth page navigation plus the page.Document and page.CookieSource capabilities backed by Rod.
package browser

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagesnap/capture/internal/page"
)

//go:embed snapshot.js
var snapshotJS string

const (
	scrollJS = `() => window.scrollTo(0, Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0))`
	heightJS = `() => Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0)`
)

// Tab is one capture tab. It implements page.Document and
// page.CookieSource.
type Tab struct {
	Page    *rod.Page
	pageURL string
	router  *rod.HijackRouter
	manager *Manager
	closed  bool
}

var (
	_ page.Document     = (*Tab)(nil)
	_ page.CookieSource = (*Tab)(nil)
)

// OpenTab creates a stealth tab, applies media blocking and navigates to
// pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b, err := mgr.acquire(ctx)
	if err != nil {
		return nil, err
	}
	log := mgr.cfg.Logger

	p, err := stealth.Page(b)
	if err != nil {
		mgr.release()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: p, pageURL: pageURL, manager: mgr}

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             mgr.cfg.ViewportWidth,
		Height:            mgr.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		log.Warn("browser: set viewport failed", "error", err)
	}
	if mgr.cfg.BlockMedia {
		t.router = blockMedia(p)
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigationTimeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// URL returns the current location of the tab.
func (t *Tab) URL() string {
	info, err := t.Page.Info()
	if err != nil || info.URL == "" {
		return t.pageURL
	}
	return info.URL
}

func (t *Tab) ScrollToBottom(ctx context.Context) error {
	if _, err := t.Page.Context(ctx).Eval(scrollJS); err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

func (t *Tab) ContentHeight(ctx context.Context) (float64, error) {
	res, err := t.Page.Context(ctx).Eval(heightJS)
	if err != nil {
		return 0, fmt.Errorf("browser: height: %w", err)
	}
	return res.Value.Num(), nil
}

type snapshotResult struct {
	HTML     string   `json:"html"`
	BaseURL  string   `json:"baseURL"`
	PageURL  string   `json:"pageURL"`
	Title    string   `json:"title"`
	Computed []string `json:"computed"`
}

// Snapshot serialises the rendered document, including open shadow roots,
// and collects computed-style URLs.
func (t *Tab) Snapshot(ctx context.Context) (*page.Snapshot, error) {
	res, err := t.Page.Context(ctx).Eval(snapshotJS)
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	var r snapshotResult
	if err := res.Value.Unmarshal(&r); err != nil {
		return nil, fmt.Errorf("browser: snapshot decode: %w", err)
	}
	return &page.Snapshot{
		HTML:         r.HTML,
		BaseURL:      r.BaseURL,
		PageURL:      r.PageURL,
		Title:        r.Title,
		ComputedURLs: r.Computed,
	}, nil
}

// Cookies returns the browser cookies sent with a request to rawURL.
func (t *Tab) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	cs, err := t.Page.Context(ctx).Cookies([]string{rawURL})
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	return convertCookies(cs), nil
}

func convertCookies(cs []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cs))
	for _, c := range cs {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = c.Expires.Time()
		}
		out = append(out, hc)
	}
	return out
}

// Close closes the tab and releases it from the manager.
func (t *Tab) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.manager.release()
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

// Opener opens capture tabs on a shared Manager. It implements page.Opener.
type Opener struct {
	Manager *Manager
}

var _ page.Opener = Opener{}

func (o Opener) Open(ctx context.Context, target string) (page.Document, error) {
	start := time.Now()
	t, err := OpenTab(ctx, o.Manager, target)
	if err != nil {
		return nil, err
	}
	o.Manager.cfg.Logger.Debug("browser: tab open", "url", target, "duration", time.Since(start))
	return t, nil
}
