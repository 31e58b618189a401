// CLAUDE:SUMMARY Points captured markup and stylesheets at archived copies in fixed passes that leave unresolved text untouched, so a second run is a no-op.
// Package rewrite points captured markup and stylesheets at their archived
// copies.
package rewrite

import (
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/hazyhaar/pagesnap/capture/internal/cssref"
	"github.com/hazyhaar/pagesnap/capture/internal/locate"
	"github.com/hazyhaar/pagesnap/capture/internal/resource"
)

var (
	headCloseRe  = regexp.MustCompile(`(?i)</head\s*>`)
	bodyOpenRe   = regexp.MustCompile(`(?i)<body\b`)
	styleBlockRe = regexp.MustCompile(`(?is)(<style\b[^>]*>)(.*?)(</style\s*>)`)
	iframeRe     = regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`)
	scriptRe     = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
)

// policyAttrs are removed from every tag: they pin resources to origins or
// hashes the archive no longer matches.
var policyAttrs = []string{"integrity", "crossorigin", "referrerpolicy", "nonce"}

// Options selects the optional passes.
type Options struct {
	SafetyStyles  bool
	StripScripts  bool
	ReplaceEmbeds bool
	Fixups        []FixupRule // nil uses DefaultFixups
}

// DefaultOptions enables safety styles and embed replacement.
func DefaultOptions() Options {
	return Options{SafetyStyles: true, ReplaceEmbeds: true}
}

// Rewriter rewrites references found in a resource.Map.
type Rewriter struct {
	m      *resource.Map
	opts   Options
	logger *slog.Logger
}

// New creates a Rewriter over m.
func New(m *resource.Map, opts Options, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Fixups == nil {
		opts.Fixups = DefaultFixups
	}
	return &Rewriter{m: m, opts: opts, logger: logger}
}

// placement decides how a replacement is encoded.
type placement int

const (
	inAttr placement = iota // attribute value in page markup
	inBlock                 // <style> body in page markup
	inAsset                 // stylesheet stored under resource.Dir
)

// resolver maps a raw reference to its archive path. Fragments survive;
// empty, data:, same-document and already-local references never resolve.
func (r *Rewriter) resolver(base *url.URL, where placement) cssref.Resolver {
	return func(raw string) (string, bool) {
		v := strings.TrimSpace(html.UnescapeString(raw))
		target, frag, hasFrag := strings.Cut(v, "#")
		if target == "" || cssref.IsData(target) || r.m.IsLocalPath(target) {
			return "", false
		}
		abs, ok := locate.Resolve(base, target)
		if !ok {
			return "", false
		}
		p, ok := r.m.Lookup(abs)
		if !ok {
			return "", false
		}
		if where == inAsset {
			p = strings.TrimPrefix(p, resource.Dir)
		}
		if hasFrag {
			if where == inAttr {
				frag = html.EscapeString(frag)
			}
			p += "#" + frag
		}
		return p, true
	}
}

// Document rewrites page markup. base is the document base URL and embeds
// are the video substitutions found while locating.
func (r *Rewriter) Document(markup string, base *url.URL, embeds []locate.Embed) string {
	res := r.resolver(base, inAttr)

	out := stripPolicy(markup)
	out = promotePreloads(out)
	out = rewriteRefs(out, res)
	out = rewriteSrcsets(out, res)
	out = rewriteStyleAttrs(out, res)
	if r.opts.SafetyStyles {
		out = injectSafety(out, base.Hostname(), r.opts.Fixups)
	}
	out = rewriteStyleBlocks(out, r.resolver(base, inBlock))
	out = rewriteSprites(out, res)
	if r.opts.ReplaceEmbeds && len(embeds) > 0 {
		out = r.replaceEmbeds(out, base, embeds)
	}
	if r.opts.StripScripts {
		out = stripScripts(out)
	}

	r.logger.Debug("rewrite: document", "in_bytes", len(markup), "out_bytes", len(out))
	return out
}

// Stylesheets rewrites every stylesheet asset against its own URL and
// stores the result back into the map. It returns how many changed.
func (r *Rewriter) Stylesheets() int {
	n := 0
	for _, a := range r.m.Assets() {
		if !a.Stylesheet {
			continue
		}
		base, err := url.Parse(a.URL)
		if err != nil {
			continue
		}
		css := string(a.Content)
		out := cssref.Rewrite(css, r.resolver(base, inAsset))
		if out != css && r.m.SetContent(a.URL, []byte(out)) {
			n++
		}
	}
	r.logger.Debug("rewrite: stylesheets", "rewritten", n)
	return n
}

// stripPolicy drops <base>, CSP meta tags and integrity-style attributes.
func stripPolicy(markup string) string {
	return mapTags(markup, func(t *tag) {
		switch t.Name() {
		case "base":
			t.drop = true
			return
		case "meta":
			if a := t.get("http-equiv"); a != nil && strings.HasPrefix(strings.ToLower(a.Value()), "content-security-policy") {
				t.drop = true
				return
			}
		}
		for _, k := range policyAttrs {
			t.remove(k)
		}
	})
}

// promotePreloads turns <link rel=preload as=style> into a stylesheet link
// because the onload swap that would do it never runs offline.
func promotePreloads(markup string) string {
	return mapTags(markup, func(t *tag) {
		if t.Name() != "link" {
			return
		}
		rel, as := t.get("rel"), t.get("as")
		if rel == nil || as == nil || !strings.EqualFold(strings.TrimSpace(as.Value()), "style") {
			return
		}
		if !hasToken(rel.Value(), "preload") {
			return
		}
		t.setAttr(rel, "stylesheet")
		t.remove("as")
		t.remove("onload")
	})
}

func rewriteRefs(markup string, res cssref.Resolver) string {
	return mapTags(markup, func(t *tag) {
		name := t.Name()
		if name == "use" {
			return
		}
		for _, a := range t.attrs {
			switch k := a.key(); {
			case k == "src", k == "href", k == "poster", k == "data" && name == "object":
				if rep, ok := res(a.Value()); ok {
					t.setAttr(a, rep)
				}
			}
		}
	})
}

func rewriteSrcsets(markup string, res cssref.Resolver) string {
	return mapTags(markup, func(t *tag) {
		if a := t.get("srcset"); a != nil {
			if rep, ok := rewriteSrcset(a.Value(), res); ok {
				t.setAttr(a, rep)
			}
		}
	})
}

// rewriteSrcset rewrites each candidate URL and keeps its descriptor. It
// reports false when no candidate resolved.
func rewriteSrcset(v string, res cssref.Resolver) (string, bool) {
	cands := locate.ParseSrcset(v)
	changed := false
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		if rep, ok := res(c.URL); ok {
			c.URL = rep
			changed = true
		}
		if c.Descriptor != "" {
			out = append(out, c.URL+" "+c.Descriptor)
		} else {
			out = append(out, c.URL)
		}
	}
	if !changed {
		return v, false
	}
	return strings.Join(out, ", "), true
}

func rewriteStyleAttrs(markup string, res cssref.Resolver) string {
	return mapTags(markup, func(t *tag) {
		if a := t.get("style"); a != nil {
			v := a.Value()
			if out := cssref.Rewrite(v, res); out != v {
				t.setAttr(a, out)
			}
		}
	})
}

// injectSafety adds the safety style block once, before </head>.
func injectSafety(markup, host string, rules []FixupRule) string {
	if strings.Contains(markup, safetyMarker) {
		return markup
	}
	block := safetyBlock(host, rules)
	if loc := headCloseRe.FindStringIndex(markup); loc != nil {
		return markup[:loc[0]] + block + "\n" + markup[loc[0]:]
	}
	if loc := bodyOpenRe.FindStringIndex(markup); loc != nil {
		return markup[:loc[0]] + block + "\n" + markup[loc[0]:]
	}
	return block + "\n" + markup
}

func rewriteStyleBlocks(markup string, res cssref.Resolver) string {
	return styleBlockRe.ReplaceAllStringFunc(markup, func(m string) string {
		sm := styleBlockRe.FindStringSubmatch(m)
		body := cssref.Rewrite(sm[2], res)
		if body == sm[2] {
			return m
		}
		return sm[1] + body + sm[3]
	})
}

// rewriteSprites handles <use href> and <use xlink:href>, which
// rewriteRefs leaves alone so the fragment-only form stays intact.
func rewriteSprites(markup string, res cssref.Resolver) string {
	return mapTags(markup, func(t *tag) {
		if t.Name() != "use" {
			return
		}
		for _, a := range t.attrs {
			if k := a.key(); k == "href" || k == "xlink:href" {
				if rep, ok := res(a.Value()); ok {
					t.setAttr(a, rep)
				}
			}
		}
	})
}

// replaceEmbeds swaps recognised video iframes for a link wrapping the
// archived poster image.
func (r *Rewriter) replaceEmbeds(markup string, base *url.URL, embeds []locate.Embed) string {
	bySrc := make(map[string]locate.Embed, len(embeds))
	for _, e := range embeds {
		bySrc[e.Src] = e
	}
	return iframeRe.ReplaceAllStringFunc(markup, func(m string) string {
		open := tagRe.FindStringSubmatch(m)
		if open == nil {
			return m
		}
		src := parseTag(open).get("src")
		if src == nil {
			return m
		}
		abs, ok := locate.Resolve(base, html.UnescapeString(src.Value()))
		if !ok {
			return m
		}
		e, ok := bySrc[abs]
		if !ok {
			return m
		}
		return r.embedMarkup(e)
	})
}

func (r *Rewriter) embedMarkup(e locate.Embed) string {
	alt := e.Title
	if alt == "" {
		alt = e.Provider + " video"
	}
	var b strings.Builder
	b.WriteString(`<a class="pagesnap-embed" href="`)
	b.WriteString(html.EscapeString(e.Link))
	b.WriteString(`" target="_blank" rel="noopener">`)
	if p, ok := r.m.Lookup(e.Poster); ok {
		b.WriteString(`<img src="`)
		b.WriteString(p)
		b.WriteString(`" alt="`)
		b.WriteString(html.EscapeString(alt))
		b.WriteString(`" loading="lazy">`)
	} else {
		b.WriteString(html.EscapeString("Watch on " + e.Provider + ": " + alt))
	}
	b.WriteString(`</a>`)
	return b.String()
}

// stripScripts removes script elements and inline handlers and disarms
// javascript: URLs.
func stripScripts(markup string) string {
	markup = scriptRe.ReplaceAllString(markup, "")
	return mapTags(markup, func(t *tag) {
		var handlers []string
		for _, a := range t.attrs {
			k := a.key()
			if strings.HasPrefix(k, "on") {
				handlers = append(handlers, k)
				continue
			}
			if k != "href" && k != "src" && k != "action" && k != "formaction" {
				continue
			}
			v := strings.ToLower(strings.TrimSpace(html.UnescapeString(a.Value())))
			if strings.HasPrefix(v, "javascript:") {
				if k == "href" {
					t.setAttr(a, "#")
				} else {
					t.setAttr(a, "about:blank")
				}
			}
		}
		for _, k := range handlers {
			t.remove(k)
		}
	})
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}
