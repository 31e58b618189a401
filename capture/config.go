package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/pagesnap/capture/internal/config"
	"github.com/hazyhaar/pagesnap/capture/internal/store"
	"github.com/hazyhaar/pagesnap/capture/internal/watch"
)

// Config is the top-level pagesnap configuration. Re-exported from internal.
type Config = config.Config

// LimitsConfig bounds one capture session.
type LimitsConfig = config.LimitsConfig

// CaptureConfig toggles optional pipeline stages.
type CaptureConfig = config.CaptureConfig

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// ServerConfig configures the HTTP control surface.
type ServerConfig = config.ServerConfig

// SinkConfig defines an event backend.
type SinkConfig = config.SinkConfig

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStoreOverrides returns a copy of base with the settings rows of st
// applied. A non-empty denylist table replaces the configured denylist.
func LoadStoreOverrides(ctx context.Context, st *store.Store, base *Config) (*Config, error) {
	cfg := base.Clone()
	settings, err := st.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	if err := cfg.ApplySettings(settings); err != nil {
		return nil, err
	}
	patterns, err := st.DenyPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("denylist: %w", err)
	}
	if len(patterns) > 0 {
		cfg.Denylist = patterns
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WatchSettings reloads the configuration whenever the settings or denylist
// rows of the store change, until ctx is cancelled. Without a store it
// returns at once.
func (c *Capturer) WatchSettings(ctx context.Context, base *Config, interval time.Duration) {
	if c.store == nil {
		return
	}
	w := watch.New(c.store.Fingerprint, watch.Options{
		Interval: interval,
		Debounce: interval / 2,
		Logger:   c.logger,
	})
	w.OnChange(ctx, func() error { return c.Reload(ctx, base) })
}

// CheckDenyPattern reports whether p is a valid denylist pattern.
func CheckDenyPattern(p string) error {
	_, err := config.ParsePattern(p)
	return err
}

// CheckSetting reports whether the settings row key=value would apply
// cleanly on top of base.
func CheckSetting(base *Config, key string, value json.RawMessage) error {
	cfg := base.Clone()
	if err := cfg.ApplySettings(map[string]json.RawMessage{key: value}); err != nil {
		return err
	}
	return cfg.Validate()
}
