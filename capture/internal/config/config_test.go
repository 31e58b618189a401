package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Limits.MaxDuration != 90*time.Second || c.Limits.MaxAssets != 2500 || c.Limits.MaxZipMB != 750 {
		t.Errorf("limits = %+v", c.Limits)
	}
	if c.Limits.Concurrency != 8 || c.Limits.RequestTimeout != 20*time.Second {
		t.Errorf("fetch limits = %+v", c.Limits)
	}
	if c.Limits.ScrollIdle != 2*time.Second || c.Limits.MaxScrollIterations != 200 || c.Limits.ScrollInterval != 300*time.Millisecond {
		t.Errorf("scroll limits = %+v", c.Limits)
	}
	if c.Limits.MaxBytes() != 750<<20 {
		t.Errorf("MaxBytes = %d", c.Limits.MaxBytes())
	}
	if c.Capture.Redact || !Enabled(c.Capture.SkipVideo) || !Enabled(c.Capture.SafetyStyles) || !Enabled(c.Capture.ReplaceEmbeds) {
		t.Errorf("capture = %+v", c.Capture)
	}
	if len(c.Denylist) != len(DefaultDenylist) {
		t.Errorf("denylist len = %d", len(c.Denylist))
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagesnap.yaml")
	data := `
limits:
  max_assets: 5
  max_duration: 30s
capture:
  skip_video: false
  markdown: true
sinks:
  - type: webhook
    url: http://127.0.0.1:9/hook
denylist: []
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Limits.MaxAssets != 5 || c.Limits.MaxDuration != 30*time.Second || c.Limits.MaxZipMB != 750 {
		t.Errorf("limits = %+v", c.Limits)
	}
	if Enabled(c.Capture.SkipVideo) || !c.Capture.Markdown {
		t.Errorf("capture = %+v", c.Capture)
	}
	if len(c.Denylist) != 0 {
		t.Errorf("explicit empty denylist replaced by %d defaults", len(c.Denylist))
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"stealth", func(c *Config) { c.Browser.Stealth = "invisible" }},
		{"sink type", func(c *Config) { c.Sinks = []SinkConfig{{Type: "nats"}} }},
		{"webhook url", func(c *Config) { c.Sinks = []SinkConfig{{Type: "webhook"}} }},
		{"auth pair", func(c *Config) { c.Server.BasicAuthUser = "admin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mod(c)
			if err := c.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplySettings(t *testing.T) {
	c := Default()
	err := c.ApplySettings(map[string]json.RawMessage{
		"limits.max_assets":   json.RawMessage(`100`),
		"limits.max_duration": json.RawMessage(`"45s"`),
		"capture.redact":      json.RawMessage(`true`),
		"denylist":            json.RawMessage(`["/example\\.com/"]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Limits.MaxAssets != 100 || c.Limits.MaxDuration != 45*time.Second || !c.Capture.Redact {
		t.Errorf("after settings: %+v %+v", c.Limits, c.Capture)
	}
	if c.Limits.Concurrency != 8 {
		t.Errorf("untouched field changed: concurrency = %d", c.Limits.Concurrency)
	}
	if len(c.Denylist) != 1 || c.Denylist[0] != `/example\.com/` {
		t.Errorf("denylist = %v", c.Denylist)
	}

	if err := c.ApplySettings(map[string]json.RawMessage{"limits.bogus": json.RawMessage(`1`)}); err == nil {
		t.Error("unknown key accepted")
	}
	if err := c.ApplySettings(map[string]json.RawMessage{"limits": json.RawMessage(`1`), "limits.max_assets": json.RawMessage(`1`)}); err == nil {
		t.Error("conflicting keys accepted")
	}
}

func TestClone(t *testing.T) {
	c := Default()
	cp := c.Clone()
	*cp.Capture.SkipVideo = false
	cp.Denylist[0] = "changed"
	cp.Limits.MaxAssets = 1
	if !Enabled(c.Capture.SkipVideo) || c.Denylist[0] == "changed" || c.Limits.MaxAssets != 2500 {
		t.Errorf("clone shares state with original: %+v", c)
	}

	empty := &Config{Denylist: []string{}}
	if got := empty.Clone().Denylist; got == nil || len(got) != 0 {
		t.Errorf("empty denylist clone = %#v", got)
	}
}

func TestParsePattern(t *testing.T) {
	tests := []struct {
		pattern, url string
		want         bool
	}{
		{`/https?:\/\/([^\/]+\.)?reddit\.com\//i`, "https://old.REDDIT.com/r/golang", true},
		{`/https?:\/\/([^\/]+\.)?reddit\.com\//`, "https://www.Reddit.com/", true},
		{`/example\.com\/Path/g`, "https://example.com/path", false},
		{`/https?:\/\/([^\/]+\.)?medium\.com\/$/i`, "https://medium.com/", true},
		{`/https?:\/\/([^\/]+\.)?medium\.com\/$/i`, "https://medium.com/@a/post", false},
	}
	for _, tt := range tests {
		re, err := ParsePattern(tt.pattern)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", tt.pattern, err)
		}
		if got := re.MatchString(tt.url); got != tt.want {
			t.Errorf("%s on %s = %v, want %v", tt.pattern, tt.url, got, tt.want)
		}
	}
	for _, bad := range []string{"reddit.com", "/(unclosed/i"} {
		if _, err := ParsePattern(bad); err == nil {
			t.Errorf("ParsePattern(%q) accepted", bad)
		}
	}
}

func TestCompileDenylist(t *testing.T) {
	d, errs := CompileDenylist(append([]string{"not-a-literal", DefaultDenylist[0]}, DefaultDenylist...))
	if len(errs) != 1 {
		t.Errorf("errors = %v, want 1", errs)
	}
	if d.Len() != len(DefaultDenylist) {
		t.Errorf("compiled = %d, want %d", d.Len(), len(DefaultDenylist))
	}
	for _, u := range []string{
		"https://www.google.com/search?q=go",
		"https://x.com/golang",
		"https://www.linkedin.com/feed/",
		"https://www.youtube.com/feed/subscriptions",
	} {
		if !d.Match(u) {
			t.Errorf("%s not denied", u)
		}
	}
	for _, u := range []string{"https://go.dev/doc/", "https://www.youtube.com/watch?v=x", "https://en.wikipedia.org/wiki/Go"} {
		if d.Match(u) {
			t.Errorf("%s denied", u)
		}
	}
	var nilList *Denylist
	if nilList.Match("https://x.com/") {
		t.Error("nil denylist matched")
	}
}
