package browser

import (
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestParseStealth(t *testing.T) {
	for in, want := range map[string]StealthLevel{"": LevelHeadless, "headless": LevelHeadless, "headful": LevelHeadful} {
		got, err := ParseStealth(in)
		if err != nil || got != want {
			t.Errorf("ParseStealth(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseStealth("http"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.Stealth != LevelHeadless || m.cfg.NavigationTimeout != 30*time.Second || m.cfg.XvfbDisplay != ":99" {
		t.Errorf("defaults = %+v", m.cfg)
	}
	if m.cfg.Logger == nil {
		t.Error("nil logger")
	}
}

func TestShouldBlock(t *testing.T) {
	if !shouldBlock(proto.NetworkResourceTypeMedia) {
		t.Error("media not blocked")
	}
	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeStylesheet,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeDocument,
	} {
		if shouldBlock(rt) {
			t.Errorf("%s blocked", rt)
		}
	}
}

func TestConvertCookies(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got := convertCookies([]*proto.NetworkCookie{
		{Name: "sid", Value: "abc", Domain: ".ex.com", Path: "/", Secure: true, HTTPOnly: true, Expires: proto.TimeSinceEpoch(exp.Unix())},
		{Name: "session", Value: "1", Domain: "ex.com", Path: "/", Expires: -1},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if c := got[0]; c.Name != "sid" || c.Value != "abc" || !c.Secure || !c.HttpOnly || !c.Expires.Equal(exp) {
		t.Errorf("cookie 0 = %+v", c)
	}
	if !got[1].Expires.IsZero() {
		t.Errorf("session cookie expires = %v", got[1].Expires)
	}
}

func TestCloseTwiceReleasesOnce(t *testing.T) {
	m := NewManager(Config{})
	m.tabs = 1
	tab := &Tab{manager: m}
	tab.Close()
	tab.Close()
	if m.tabs != 0 {
		t.Errorf("tabs = %d", m.tabs)
	}
}

func TestSnapshotScriptEmbedded(t *testing.T) {
	for _, want := range []string{"shadowrootmode", "getComputedStyle", "baseURL", "computed"} {
		if !strings.Contains(snapshotJS, want) {
			t.Errorf("snapshot.js missing %q", want)
		}
	}
}
