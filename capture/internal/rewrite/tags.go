package rewrite

import (
	"regexp"
	"strings"
)

var (
	// rawRe matches regions whose content is not markup: comments and
	// script/style elements. Their start tags are still visited.
	rawRe = regexp.MustCompile(`(?is)<!--.*?-->|(<script\b[^>]*>)(.*?)(</script\s*>)|(<style\b[^>]*>)(.*?)(</style\s*>)`)

	tagRe = regexp.MustCompile("<([a-zA-Z][a-zA-Z0-9:-]*)((?:\\s+[^\\s\"'<>/=]+(?:\\s*=\\s*(?:\"[^\"]*\"|'[^']*'|[^\\s\"'=<>`]+))?)*)(\\s*)(/?)>")

	attrRe = regexp.MustCompile("(\\s+)([^\\s\"'<>/=]+)(?:(\\s*=\\s*)(\"[^\"]*\"|'[^']*'|[^\\s\"'=<>`]+))?")
)

// attr is one attribute of a start tag, kept in source form.
type attr struct {
	lead  string // whitespace before the name
	name  string // as written
	eq    string // "=" with surrounding whitespace, "" for bare attributes
	value string // raw value including quotes
}

// key is the lowercased attribute name.
func (a *attr) key() string { return strings.ToLower(a.name) }

// Value returns the value without its quotes.
func (a *attr) Value() string {
	v := a.value
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// set replaces the value, keeping the original quote character.
func (a *attr) set(v string) {
	q := `"`
	if len(a.value) > 0 && a.value[0] == '\'' {
		q = "'"
	}
	if a.eq == "" {
		a.eq = "="
	}
	a.value = q + v + q
}

// tag is a parsed start tag.
type tag struct {
	name    string // as written
	attrs   []*attr
	tail    string // whitespace before the closing bracket
	slash   string
	changed bool
	drop    bool
}

// Name is the lowercased tag name.
func (t *tag) Name() string { return strings.ToLower(t.name) }

func (t *tag) get(key string) *attr {
	for _, a := range t.attrs {
		if a.key() == key {
			return a
		}
	}
	return nil
}

func (t *tag) remove(key string) {
	kept := t.attrs[:0]
	for _, a := range t.attrs {
		if a.key() == key {
			t.changed = true
			continue
		}
		kept = append(kept, a)
	}
	t.attrs = kept
}

func (t *tag) setAttr(a *attr, v string) {
	if a.Value() == v {
		return
	}
	a.set(v)
	t.changed = true
}

func (t *tag) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(t.name)
	for _, a := range t.attrs {
		b.WriteString(a.lead)
		b.WriteString(a.name)
		b.WriteString(a.eq)
		b.WriteString(a.value)
	}
	b.WriteString(t.tail)
	b.WriteString(t.slash)
	b.WriteByte('>')
	return b.String()
}

func parseTag(m []string) *tag {
	t := &tag{name: m[1], tail: m[3], slash: m[4]}
	for _, am := range attrRe.FindAllStringSubmatch(m[2], -1) {
		t.attrs = append(t.attrs, &attr{lead: am[1], name: am[2], eq: am[3], value: am[4]})
	}
	return t
}

// mapTags calls fn on every start tag outside comments and raw-text
// bodies. Tags fn leaves unchanged are copied byte for byte.
func mapTags(markup string, fn func(*tag)) string {
	apply := func(src string) string {
		return tagRe.ReplaceAllStringFunc(src, func(m string) string {
			t := parseTag(tagRe.FindStringSubmatch(m))
			fn(t)
			switch {
			case t.drop:
				return ""
			case t.changed:
				return t.String()
			}
			return m
		})
	}

	var b strings.Builder
	last := 0
	for _, loc := range rawRe.FindAllStringSubmatchIndex(markup, -1) {
		b.WriteString(apply(markup[last:loc[0]]))
		switch {
		case loc[2] >= 0: // script
			b.WriteString(apply(markup[loc[2]:loc[3]]))
			b.WriteString(markup[loc[3]:loc[1]])
		case loc[8] >= 0: // style
			b.WriteString(apply(markup[loc[8]:loc[9]]))
			b.WriteString(markup[loc[9]:loc[1]])
		default: // comment
			b.WriteString(markup[loc[0]:loc[1]])
		}
		last = loc[1]
	}
	b.WriteString(apply(markup[last:]))
	return b.String()
}
