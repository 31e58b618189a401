// CLAUDE:SUMMARY Extracts and rewrites url() and @import references in CSS text, tolerant of entity-quoted values.
// Package cssref finds and rewrites resource references in CSS text.
package cssref

import (
	"regexp"
	"strings"
)

var (
	urlRe    = regexp.MustCompile(`url\(([^)]+)\)`)
	importRe = regexp.MustCompile(`@import\s+(?:url\()?\s*['"]?([^'"\)]+)['"]?\s*\)?`)
)

// quotes are stripped from both ends of a url() argument. Serialised style
// attributes carry entity-encoded quotes.
var quotes = []string{"&quot;", "&#34;", "&#39;", "&apos;", `"`, `'`}

// Unquote trims whitespace and one layer of (possibly entity-encoded) quotes.
func Unquote(raw string) string {
	s := strings.TrimSpace(raw)
	for _, q := range quotes {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	for _, q := range quotes {
		s = strings.TrimPrefix(s, q)
		s = strings.TrimSuffix(s, q)
	}
	return strings.TrimSpace(s)
}

// IsData reports whether ref is an inline data URI.
func IsData(ref string) bool {
	return len(ref) >= 5 && strings.EqualFold(ref[:5], "data:")
}

// URLs returns the url() references of css in order, excluding data URIs.
func URLs(css string) []string {
	var out []string
	for _, m := range urlRe.FindAllStringSubmatch(css, -1) {
		if raw := Unquote(m[1]); raw != "" && !IsData(raw) {
			out = append(out, raw)
		}
	}
	return out
}

// Imports returns the @import targets of css in order.
func Imports(css string) []string {
	var out []string
	for _, m := range importRe.FindAllStringSubmatch(css, -1) {
		if raw := strings.TrimSpace(m[1]); raw != "" && !IsData(raw) {
			out = append(out, raw)
		}
	}
	return out
}

// References returns URLs followed by Imports.
func References(css string) []string {
	return append(URLs(css), Imports(css)...)
}

// Resolver maps a raw reference to its replacement. ok=false leaves the
// reference byte-for-byte unchanged.
type Resolver func(raw string) (replacement string, ok bool)

// Rewrite replaces url() and then @import references that resolve.
func Rewrite(css string, resolve Resolver) string {
	css = urlRe.ReplaceAllStringFunc(css, func(m string) string {
		raw := Unquote(m[len("url(") : len(m)-1])
		if raw == "" || IsData(raw) {
			return m
		}
		if rep, ok := resolve(raw); ok {
			return "url(" + rep + ")"
		}
		return m
	})
	return importRe.ReplaceAllStringFunc(css, func(m string) string {
		sub := importRe.FindStringSubmatch(m)
		raw := strings.TrimSpace(sub[1])
		if raw == "" || IsData(raw) {
			return m
		}
		if rep, ok := resolve(raw); ok {
			return "@import url(" + rep + ")"
		}
		return m
	})
}
