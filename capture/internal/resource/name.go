package resource

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	nonAlnum = regexp.MustCompile(`(?i)[^a-z0-9]+`)
	pathExt  = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)
)

// extByMediaType is consulted when the URL path carries no usable extension.
var extByMediaType = map[string]string{
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
	"image/webp":               ".webp",
	"image/gif":                ".gif",
	"image/svg+xml":            ".svg",
	"image/avif":               ".avif",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
	"text/css":                 ".css",
	"text/javascript":          ".js",
	"application/javascript":   ".js",
	"application/x-javascript": ".js",
	"application/json":         ".json",
	"font/woff2":               ".woff2",
	"font/woff":                ".woff",
	"font/ttf":                 ".ttf",
	"font/otf":                 ".otf",
	"audio/mpeg":               ".mp3",
	"video/mp4":                ".mp4",
}

// BaseName flattens rawURL into a filesystem-safe stem of at most 80 bytes.
func BaseName(rawURL string) string {
	s := nonAlnum.ReplaceAllString(rawURL, "-")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "asset"
	}
	return s
}

// Extension returns the file extension for an asset: the URL path extension
// when it is short, else one derived from the media type, else "".
func Extension(rawURL, mediaType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); pathExt.MatchString(ext) {
			return ext
		}
	}
	if ext, ok := extByMediaType[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// NormalizeMediaType drops parameters and lowercases a Content-Type value.
func NormalizeMediaType(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt, _, _ = strings.Cut(ct, ";")
		mt = strings.TrimSpace(mt)
	}
	if mt == "" {
		return "application/octet-stream"
	}
	return strings.ToLower(mt)
}

// IsStylesheet reports whether an asset needs the CSS rewrite pass.
func IsStylesheet(rawURL, mediaType string) bool {
	if mediaType == "text/css" {
		return true
	}
	u, err := url.Parse(rawURL)
	return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".css")
}

// suffixed inserts "-n" before the extension: name.ext -> name-n.ext.
func suffixed(name string, n int) string {
	ext := path.Ext(name)
	if ext == "" || ext == name {
		return name + "-" + itoa(n)
	}
	return strings.TrimSuffix(name, ext) + "-" + itoa(n) + ext
}
