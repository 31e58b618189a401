package horosafe

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/data/archives", "pagesnap-example.com.zip", false},
		{"/data/archives", "../etc/passwd", true},
		{"/data/archives", "abc/../def", true},
		{"/data/archives", "sub/dir.zip", false},
	}
	for _, tt := range tests {
		_, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/article", false},
		{"ftp://evil.com/data", true},
		{"javascript:alert(1)", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://[::1]/api", true},
		{"http://172.16.0.1/secret", true},
		{"https:///nohost", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateScheme_AllowsLoopback(t *testing.T) {
	if _, err := ValidateScheme("http://127.0.0.1:8080/page"); err != nil {
		t.Fatalf("ValidateScheme: unexpected error %v", err)
	}
	if _, err := ValidateScheme("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("ValidateScheme: got %v, want ErrUnsafeScheme", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(got))
	}

	_, err = LimitedReadAll(strings.NewReader(data), 50)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	got, err = LimitedReadAll(strings.NewReader(data), 0)
	if err != nil || len(got) != 100 {
		t.Fatalf("unlimited read: got %d bytes, err %v", len(got), err)
	}
}

func TestSafeFileName(t *testing.T) {
	if got := SafeFileName("www.example.com"); got != "www.example.com" {
		t.Errorf("SafeFileName: got %q", got)
	}
	if got := SafeFileName("bad host/name:1"); got != "bad-host-name-1" {
		t.Errorf("SafeFileName: got %q", got)
	}
	if got := SafeFileName(".."); got != "page" {
		t.Errorf("SafeFileName(..): got %q", got)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.1.1", true},
		{"8.8.8.8", false},
		{"::1", true},
		{"fc00::1", true},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if got := isPrivateIP(ip); got != tt.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}
