package config

import (
	"fmt"
	"regexp"
	"strings"
)

var literalRe = regexp.MustCompile(`^/(.*)/(\w*)$`)

// ParsePattern compiles a denylist entry written as /expr/flags. Flags i, m
// and s map to the RE2 flags of the same name; others are ignored. Without
// flags the match is case-insensitive.
func ParsePattern(s string) (*regexp.Regexp, error) {
	m := literalRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, fmt.Errorf("config: denylist %q: want /expr/flags", s)
	}
	expr, flags := m[1], m[2]
	if flags == "" {
		flags = "i"
	}
	var re2 strings.Builder
	for _, f := range "ims" {
		if strings.ContainsRune(flags, f) {
			re2.WriteRune(f)
		}
	}
	if re2.Len() > 0 {
		expr = "(?" + re2.String() + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("config: denylist %q: %w", s, err)
	}
	return re, nil
}

// Denylist matches page URLs against compiled patterns.
type Denylist struct {
	res []*regexp.Regexp
}

// CompileDenylist compiles every valid pattern. Invalid entries are skipped
// and returned as errors so callers can log them.
func CompileDenylist(patterns []string) (*Denylist, []error) {
	d := &Denylist{}
	var errs []error
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		if seen[p] {
			continue
		}
		seen[p] = true
		re, err := ParsePattern(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.res = append(d.res, re)
	}
	return d, errs
}

// Match reports whether rawURL is denied.
func (d *Denylist) Match(rawURL string) bool {
	if d == nil {
		return false
	}
	for _, re := range d.res {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (d *Denylist) Len() int {
	if d == nil {
		return 0
	}
	return len(d.res)
}
