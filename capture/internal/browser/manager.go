// CLAUDE:SUMMARY Manages the Chrome process used for captures: launch or remote connect, Xvfb for headful mode, idle-time recycling.
// Package browser drives Chrome through Rod for page captures: process
// lifecycle, tabs with stealth and media blocking, and the snapshot script.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel controls the browser automation mode.
type StealthLevel int

const (
	LevelHeadless StealthLevel = 1 // Rod headless + stealth
	LevelHeadful  StealthLevel = 2 // Rod headful + Xvfb
)

// ParseStealth maps the config value to a level.
func ParseStealth(s string) (StealthLevel, error) {
	switch s {
	case "", "headless":
		return LevelHeadless, nil
	case "headful":
		return LevelHeadful, nil
	}
	return 0, fmt.Errorf("browser: unknown stealth mode %q", s)
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin overrides the Chrome binary used by the launcher.
	Bin string

	// RecycleInterval is the maximum lifetime of a Chrome process. The
	// process is only recycled while no tab is open. Default: 1h.
	RecycleInterval time.Duration

	Stealth     StealthLevel
	XvfbDisplay string // headful mode, default ":99"

	NavigationTimeout time.Duration // default 30s
	ViewportWidth     int
	ViewportHeight    int

	// BlockMedia fails audio/video requests inside the tab.
	BlockMedia bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = time.Hour
	}
	if c.Stealth == 0 {
		c.Stealth = LevelHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1366
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 900
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process. Chrome is started lazily on the first
// tab so gated captures never launch a browser.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	tabs    int
	closed  bool
}

// NewManager creates a browser Manager.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// acquire returns a connected browser and counts one more open tab.
func (m *Manager) acquire(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil && m.tabs == 0 && time.Since(m.startAt) > m.cfg.RecycleInterval {
		m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
		m.cleanup()
	}
	if m.browser == nil {
		b, err := m.launch(ctx)
		if err != nil {
			m.cleanup()
			return nil, err
		}
		m.browser = b
		m.startAt = time.Now()
	}
	m.tabs++
	return m.browser, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	if m.tabs > 0 {
		m.tabs--
	}
	m.mu.Unlock()
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Stealth == LevelHeadful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.Stealth == LevelHeadful {
			l = l.Headless(false).Env("DISPLAY="+m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "stealth", m.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}
