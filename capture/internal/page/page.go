// Package page defines the document capability the capture pipeline drives:
// scrolling, height sampling and a serialised snapshot of the rendered tree.
package page

import (
	"context"
	"net/http"
)

// Snapshot is the serialised rendered document. Open shadow roots are
// materialised inline as <template shadowrootmode="open">.
type Snapshot struct {
	HTML    string
	BaseURL string // document.baseURI
	PageURL string // location.href
	Title   string
	// ComputedURLs are url() values read from computed presentation
	// properties (background, mask, border-image, content, cursor, list-style)
	// including ::before and ::after.
	ComputedURLs []string
}

// Document is a live rendered page.
type Document interface {
	URL() string
	ScrollToBottom(ctx context.Context) error
	ContentHeight(ctx context.Context) (float64, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
	Close() error
}

// CookieSource returns the browser cookies that apply to rawURL.
type CookieSource interface {
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
}

// Opener opens target in a fresh document. It is only called once the
// denylist gate has passed.
type Opener interface {
	Open(ctx context.Context, target string) (Document, error)
}
