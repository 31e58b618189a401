package capture

import (
	"log/slog"

	"github.com/hazyhaar/pagesnap/capture/internal/browser"
	"github.com/hazyhaar/pagesnap/capture/internal/config"
)

// Browser is the shared Chrome instance captures render pages in. Chrome
// starts on the first capture that passes the denylist gate.
type Browser struct {
	mgr *browser.Manager
}

// NewBrowser prepares a Browser from cfg. It does not launch Chrome.
func NewBrowser(cfg BrowserConfig, logger *slog.Logger) (*Browser, error) {
	level, err := browser.ParseStealth(cfg.Stealth)
	if err != nil {
		return nil, err
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:         cfg.Remote,
		Bin:               cfg.Bin,
		Stealth:           level,
		XvfbDisplay:       cfg.XvfbDisplay,
		NavigationTimeout: cfg.NavigationTimeout,
		ViewportWidth:     cfg.ViewportWidth,
		ViewportHeight:    cfg.ViewportHeight,
		BlockMedia:        config.Enabled(cfg.BlockMedia),
		Logger:            logger,
	})
	return &Browser{mgr: mgr}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	return b.mgr.Close()
}

// WithBrowser renders pages in b.
func WithBrowser(b *Browser) Option {
	return WithOpener(browser.Opener{Manager: b.mgr})
}
