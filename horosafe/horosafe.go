// Package horosafe provides the safety primitives pagesnap applies at its
// edges: URL checks for targets submitted over the control surface (SSRF
// prevention), bounded body reads for fetched assets, and path guards for
// archives written to disk.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrSSRF is returned when a URL targets a private/loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrTooLarge is returned by LimitedReadAll when the reader yields more than
// the allowed number of bytes.
var ErrTooLarge = errors.New("horosafe: body exceeds limit")

// SafePath validates that joining base and userInput does not escape base.
// Returns the cleaned path or ErrPathTraversal.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP.
func ValidateURL(rawURL string) error {
	u, err := ValidateScheme(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable hosts fail later at navigation time.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateScheme parses rawURL and checks the scheme and host only.
func ValidateScheme(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("horosafe: URL has no host")
	}
	return u, nil
}

// LimitedReadAll reads at most maxBytes from r. Returns an error wrapping
// ErrTooLarge if the limit is exceeded. maxBytes <= 0 means unlimited.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SafeFileName replaces every character outside [a-zA-Z0-9.-] with '-'.
func SafeFileName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "-")
	if s == "" || strings.Trim(s, ".") == "" {
		return "page"
	}
	return s
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	return ip.IsPrivate()
}
