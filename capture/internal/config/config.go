// CLAUDE:SUMMARY Defines pagesnap config structs, parses YAML files with defaults, overlays SQLite settings and compiles the denylist.
// Package config handles pagesnap configuration from YAML files and SQLite
// settings rows.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pagesnap configuration.
type Config struct {
	Limits   LimitsConfig  `yaml:"limits"`
	Capture  CaptureConfig `yaml:"capture"`
	Browser  BrowserConfig `yaml:"browser"`
	Output   OutputConfig  `yaml:"output"`
	Server   ServerConfig  `yaml:"server"`
	Sinks    []SinkConfig  `yaml:"sinks"`
	DB       string        `yaml:"db"` // SQLite path, empty disables history
	Denylist []string      `yaml:"denylist"`
}

// LimitsConfig bounds one capture session.
type LimitsConfig struct {
	MaxDuration         time.Duration `yaml:"max_duration"`
	MaxAssets           int           `yaml:"max_assets"`
	MaxZipMB            int           `yaml:"max_zip_mb"`
	Concurrency         int           `yaml:"concurrency"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	ScrollInterval      time.Duration `yaml:"scroll_interval"`
	ScrollIdle          time.Duration `yaml:"scroll_idle"`
	MaxScrollIterations int           `yaml:"max_scroll_iterations"`
	MaxCSSDepth         int           `yaml:"max_css_depth"`
}

// MaxBytes is MaxZipMB in bytes.
func (l LimitsConfig) MaxBytes() int64 { return int64(l.MaxZipMB) << 20 }

// CaptureConfig toggles optional pipeline stages. Pointer fields default to
// true when absent.
type CaptureConfig struct {
	Redact        bool   `yaml:"redact"`
	RedactSeed    uint64 `yaml:"redact_seed"`
	SkipVideo     *bool  `yaml:"skip_video"`
	ReplaceEmbeds *bool  `yaml:"replace_embeds"`
	SafetyStyles  *bool  `yaml:"safety_styles"`
	StripScripts  bool   `yaml:"strip_scripts"`
	Markdown      bool   `yaml:"markdown"`
	UserAgent     string `yaml:"user_agent"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Bin               string        `yaml:"bin"`
	Stealth           string        `yaml:"stealth"` // headless | headful
	XvfbDisplay       string        `yaml:"xvfb_display"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	BlockMedia        *bool         `yaml:"block_media"`
}

// OutputConfig says where archives are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	AllowPrivate  bool   `yaml:"allow_private"`
	BasicAuthUser string `yaml:"basic_auth_user"`
	BasicAuthHash string `yaml:"basic_auth_hash"` // bcrypt
	MaxSessions   int    `yaml:"max_sessions"`
	RateLimit     int    `yaml:"rate_limit"` // capture starts per client IP per minute, 0 disables
}

// SinkConfig defines an event backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// DefaultDenylist names sites whose pages are infinite feeds.
var DefaultDenylist = []string{
	`/https?:\/\/(www\.)?google\.[^\/]+\/search/i`,
	`/https?:\/\/([^\/]+\.)?(x\.com|twitter\.com)\//i`,
	`/https?:\/\/([^\/]+\.)?(facebook\.com|instagram\.com|tiktok\.com)\//i`,
	`/https?:\/\/([^\/]+\.)?(reddit\.com)\//i`,
	`/https?:\/\/([^\/]+\.)?linkedin\.com\/feed/i`,
	`/https?:\/\/([^\/]+\.)?pinterest\.[^\/]+\//i`,
	`/https?:\/\/([^\/]+\.)?medium\.com\/$/i`,
	`/https?:\/\/news\.google\.com\//i`,
	`/https?:\/\/([^\/]+\.)?quora\.com\//i`,
	`/https?:\/\/([^\/]+\.)?youtube\.com\/feed\//i`,
	`/https?:\/\/([^\/]+\.)?tumblr\.com\/dashboard/i`,
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	l := &c.Limits
	if l.MaxDuration <= 0 {
		l.MaxDuration = 90 * time.Second
	}
	if l.MaxAssets <= 0 {
		l.MaxAssets = 2500
	}
	if l.MaxZipMB <= 0 {
		l.MaxZipMB = 750
	}
	if l.Concurrency <= 0 {
		l.Concurrency = 8
	}
	if l.RequestTimeout <= 0 {
		l.RequestTimeout = 20 * time.Second
	}
	if l.ScrollInterval <= 0 {
		l.ScrollInterval = 300 * time.Millisecond
	}
	if l.ScrollIdle <= 0 {
		l.ScrollIdle = 2 * time.Second
	}
	if l.MaxScrollIterations <= 0 {
		l.MaxScrollIterations = 200
	}
	if l.MaxCSSDepth <= 0 {
		l.MaxCSSDepth = 3
	}

	setDefault(&c.Capture.SkipVideo, true)
	setDefault(&c.Capture.ReplaceEmbeds, true)
	setDefault(&c.Capture.SafetyStyles, true)

	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1366
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 900
	}
	setDefault(&c.Browser.BlockMedia, true)

	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.MaxSessions <= 0 {
		c.Server.MaxSessions = 4
	}

	// An explicit empty list disables the denylist; only a missing key
	// falls back to the defaults.
	if c.Denylist == nil {
		c.Denylist = append([]string(nil), DefaultDenylist...)
	}
}

func setDefault(p **bool, v bool) {
	if *p == nil {
		*p = &v
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Capture.SkipVideo = cloneBool(c.Capture.SkipVideo)
	cp.Capture.ReplaceEmbeds = cloneBool(c.Capture.ReplaceEmbeds)
	cp.Capture.SafetyStyles = cloneBool(c.Capture.SafetyStyles)
	cp.Browser.BlockMedia = cloneBool(c.Browser.BlockMedia)
	cp.Sinks = append([]SinkConfig(nil), c.Sinks...)
	if c.Denylist != nil {
		cp.Denylist = append([]string{}, c.Denylist...)
	}
	return &cp
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Enabled dereferences an optional flag; nil is false.
func Enabled(p *bool) bool { return p != nil && *p }

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	if (c.Server.BasicAuthUser == "") != (c.Server.BasicAuthHash == "") {
		return fmt.Errorf("config: server.basic_auth_user and basic_auth_hash go together")
	}
	return nil
}

// ApplySettings overlays settings rows onto c. Keys are dotted YAML paths
// ("limits.max_assets") and values are JSON. Unknown keys are an error.
func (c *Config) ApplySettings(settings map[string]json.RawMessage) error {
	if len(settings) == 0 {
		return nil
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tree := map[string]any{}
	for _, k := range keys {
		var v any
		jd := json.NewDecoder(bytes.NewReader(settings[k]))
		jd.UseNumber()
		if err := jd.Decode(&v); err != nil {
			return fmt.Errorf("config: setting %s: %w", k, err)
		}
		if err := insert(tree, strings.Split(k, "."), v); err != nil {
			return fmt.Errorf("config: setting %s: %w", k, err)
		}
	}

	doc, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("config: settings: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: settings: %w", err)
	}
	c.applyDefaults()
	return nil
}

func insert(tree map[string]any, path []string, v any) error {
	for i, p := range path {
		if p == "" {
			return fmt.Errorf("empty path segment")
		}
		if i == len(path)-1 {
			tree[p] = v
			return nil
		}
		next, ok := tree[p].(map[string]any)
		if !ok {
			if _, exists := tree[p]; exists {
				return fmt.Errorf("%s is not a section", p)
			}
			next = map[string]any{}
			tree[p] = next
		}
		tree = next
	}
	return nil
}
