// CLAUDE:SUMMARY Resource locator: walks the snapshot markup, inline/external CSS and computed styles into an ordered, deduplicated URL set.
// Package locate discovers every remote resource a rendered page needs.
package locate

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pagesnap/capture/internal/cssref"
	"github.com/hazyhaar/pagesnap/capture/internal/fetcher"
	"github.com/hazyhaar/pagesnap/capture/internal/page"
	"github.com/hazyhaar/pagesnap/capture/report"
)

// Context records where a reference was discovered.
type Context string

const (
	CtxSrc           Context = "src"
	CtxPoster        Context = "poster"
	CtxSrcset        Context = "srcset"
	CtxStylesheet    Context = "stylesheet"
	CtxIcon          Context = "icon"
	CtxPreload       Context = "preload"
	CtxInlineStyle   Context = "inline-style"
	CtxStyleBlock    Context = "style-block"
	CtxCSSImport     Context = "css-import"
	CtxCSSURL        Context = "css-url"
	CtxComputedStyle Context = "computed-style"
	CtxSprite        Context = "sprite"
	CtxVideoPoster   Context = "video-poster"
)

// Reference is one discovered absolute URL.
type Reference struct {
	URL     string
	Context Context
}

// Result of a locate pass.
type Result struct {
	References []Reference // discovery order, unique URLs
	Skipped    []report.Skip
	InlineCSS  []string
	Embeds     []Embed
	Title      string
	BaseURL    string
}

// URLs returns the reference URLs in discovery order.
func (r *Result) URLs() []string {
	out := make([]string, len(r.References))
	for i, ref := range r.References {
		out[i] = ref.URL
	}
	return out
}

// Options tune a Locator.
type Options struct {
	SkipVideo     bool
	MaxCSSDepth   int // external stylesheet recursion, default 3
	CSSFetchLimit int // concurrent stylesheet fetches, default 4
	EmbedRules    []EmbedRule
}

// Locator finds resources in a snapshot.
type Locator struct {
	fetch  fetcher.Fetcher
	opts   Options
	logger *slog.Logger
}

// New creates a Locator. f is used to read external stylesheets; nil
// disables that step.
func New(f fetcher.Fetcher, opts Options, logger *slog.Logger) *Locator {
	if opts.MaxCSSDepth <= 0 {
		opts.MaxCSSDepth = 3
	}
	if opts.CSSFetchLimit <= 0 {
		opts.CSSFetchLimit = 4
	}
	if opts.EmbedRules == nil {
		opts.EmbedRules = DefaultEmbedRules
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{fetch: f, opts: opts, logger: logger}
}

var iconRels = map[string]bool{
	"icon":                         true,
	"shortcut":                     true,
	"apple-touch-icon":             true,
	"apple-touch-icon-precomposed": true,
	"mask-icon":                    true,
}

var preloadAs = map[string]bool{
	"style":  true,
	"script": true,
	"font":   true,
	"image":  true,
	"fetch":  true,
}

// collector accumulates references for one pass.
type collector struct {
	res      *Result
	seen     map[string]bool
	seenSkip map[string]bool
	sheets   []string
}

// Locate scans snap. Only the external stylesheet step performs network
// access; its failures are ignored.
func (l *Locator) Locate(ctx context.Context, snap *page.Snapshot) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, err
	}

	base := documentBase(doc, snap)
	c := &collector{
		res:      &Result{BaseURL: base.String()},
		seen:     make(map[string]bool),
		seenSkip: make(map[string]bool),
	}

	c.res.Title = snap.Title
	if c.res.Title == "" {
		c.res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	doc.Find("img[src], script[src], audio[src], video[src], source[src], track[src], embed[src], input[type=image][src]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("src")
		if l.opts.SkipVideo && isVideoElement(s) {
			if abs, ok := resolve(base, raw); ok {
				c.skip(abs, "video")
			}
			return
		}
		c.add(base, raw, CtxSrc)
	})
	doc.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("data")
		c.add(base, raw, CtxSrc)
	})
	doc.Find("video[poster]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("poster")
		c.add(base, raw, CtxPoster)
	})
	doc.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		if l.opts.SkipVideo && isVideoElement(s) {
			return
		}
		ss, _ := s.Attr("srcset")
		for _, cand := range SrcsetURLs(ss) {
			c.add(base, cand, CtxSrcset)
		}
	})
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rels := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		for _, rel := range rels {
			switch {
			case rel == "stylesheet":
				if abs, ok := c.add(base, href, CtxStylesheet); ok {
					c.sheets = append(c.sheets, abs)
				}
				return
			case iconRels[rel]:
				c.add(base, href, CtxIcon)
				return
			case rel == "preload" && preloadAs[strings.ToLower(s.AttrOr("as", ""))]:
				abs, ok := c.add(base, href, CtxPreload)
				if ok && strings.EqualFold(s.AttrOr("as", ""), "style") {
					c.sheets = append(c.sheets, abs)
				}
				return
			}
		}
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if style == "" {
			return
		}
		for _, u := range cssref.URLs(style) {
			c.add(base, u, CtxInlineStyle)
		}
		c.res.InlineCSS = append(c.res.InlineCSS, style)
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if text == "" {
			return
		}
		for _, u := range cssref.URLs(text) {
			c.add(base, u, CtxStyleBlock)
		}
		for _, u := range cssref.Imports(text) {
			if abs, ok := c.add(base, u, CtxCSSImport); ok {
				c.sheets = append(c.sheets, abs)
			}
		}
		c.res.InlineCSS = append(c.res.InlineCSS, text)
	})
	for _, u := range snap.ComputedURLs {
		c.add(base, cssref.Unquote(u), CtxComputedStyle)
	}
	doc.Find("use").Each(func(_ int, s *goquery.Selection) {
		raw := SpriteHref(s.Get(0))
		if raw == "" || strings.HasPrefix(raw, "#") {
			return
		}
		c.add(base, raw, CtxSprite)
	})
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("src")
		abs, ok := resolve(base, raw)
		if !ok {
			return
		}
		e, ok := MatchEmbed(l.opts.EmbedRules, abs)
		if !ok {
			return
		}
		e.Title = s.AttrOr("title", "")
		c.res.Embeds = append(c.res.Embeds, e)
		c.add(base, e.Poster, CtxVideoPoster)
	})

	l.followStylesheets(ctx, c, snap.PageURL)

	l.logger.Debug("locate: done",
		"references", len(c.res.References), "skipped", len(c.res.Skipped),
		"embeds", len(c.res.Embeds), "inline_css", len(c.res.InlineCSS))
	return c.res, nil
}

// followStylesheets reads external stylesheets breadth-first up to
// MaxCSSDepth levels, adding their url() and @import references.
func (l *Locator) followStylesheets(ctx context.Context, c *collector, pageURL string) {
	if l.fetch == nil {
		return
	}
	visited := make(map[string]bool)
	level := c.sheets
	for depth := 1; depth <= l.opts.MaxCSSDepth && len(level) > 0; depth++ {
		var todo []string
		for _, u := range level {
			if !visited[u] {
				visited[u] = true
				todo = append(todo, u)
			}
		}

		texts := make([]string, len(todo))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.opts.CSSFetchLimit)
		for i, u := range todo {
			g.Go(func() error {
				resp, err := l.fetch.Fetch(gctx, fetcher.Request{URL: u, PageURL: pageURL})
				if err != nil {
					l.logger.Debug("locate: stylesheet unavailable", "url", u, "error", err)
					return nil
				}
				texts[i] = string(resp.Body)
				return nil
			})
		}
		g.Wait()
		if ctx.Err() != nil {
			return
		}

		var next []string
		for i, u := range todo {
			if texts[i] == "" {
				continue
			}
			sheetBase, err := url.Parse(u)
			if err != nil {
				continue
			}
			for _, ref := range cssref.URLs(texts[i]) {
				c.add(sheetBase, ref, CtxCSSURL)
			}
			for _, ref := range cssref.Imports(texts[i]) {
				if abs, ok := resolve(sheetBase, ref); ok {
					c.add(sheetBase, ref, CtxCSSImport)
					next = append(next, abs)
				}
			}
		}
		level = next
	}
}

// add records raw resolved against base. It returns the absolute URL and
// whether raw was an http(s) reference.
func (c *collector) add(base *url.URL, raw string, ctx Context) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if cssref.IsData(raw) {
		shown := raw
		if len(shown) > 64 {
			shown = shown[:64] + "..."
		}
		c.skip(shown, "data-uri")
		return "", false
	}
	abs, ok := resolve(base, raw)
	if !ok {
		return "", false
	}
	if !c.seen[abs] {
		c.seen[abs] = true
		c.res.References = append(c.res.References, Reference{URL: abs, Context: ctx})
	}
	return abs, true
}

func (c *collector) skip(u, reason string) {
	if c.seenSkip[u] {
		return
	}
	c.seenSkip[u] = true
	c.res.Skipped = append(c.res.Skipped, report.Skip{URL: u, Reason: reason})
}

// resolve absolutizes raw against base, keeps only http(s) and strips the
// fragment.
func resolve(base *url.URL, raw string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

// Resolve is resolve for callers outside the package.
func Resolve(base *url.URL, raw string) (string, bool) { return resolve(base, raw) }

func documentBase(doc *goquery.Document, snap *page.Snapshot) *url.URL {
	pageURL, err := url.Parse(snap.PageURL)
	if err != nil || pageURL == nil {
		pageURL = &url.URL{}
	}
	if snap.BaseURL != "" {
		if u, err := url.Parse(snap.BaseURL); err == nil {
			return u
		}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := url.Parse(strings.TrimSpace(href)); err == nil {
			return pageURL.ResolveReference(u)
		}
	}
	return pageURL
}

// isVideoElement reports video, or source/track inside a video.
func isVideoElement(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "video":
		return true
	case "source", "track":
		return s.Closest("video").Length() > 0
	}
	return false
}

// SrcsetURLs returns the URL of each srcset candidate.
func SrcsetURLs(srcset string) []string {
	cands := ParseSrcset(srcset)
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.URL)
	}
	return out
}

// SrcsetCandidate is one image candidate of a srcset attribute.
type SrcsetCandidate struct {
	URL        string
	Descriptor string // "2x", "480w" or empty
}

// ParseSrcset splits a srcset value the way browsers do: a URL runs to the
// next whitespace, so commas inside it (CDN transforms, data: URIs) are
// kept. A comma ends a candidate only when it trails the URL or appears
// outside parentheses in the descriptor.
func ParseSrcset(v string) []SrcsetCandidate {
	var out []SrcsetCandidate
	i := 0
	for i < len(v) {
		for i < len(v) && (isSrcsetSpace(v[i]) || v[i] == ',') {
			i++
		}
		if i >= len(v) {
			break
		}
		start := i
		for i < len(v) && !isSrcsetSpace(v[i]) {
			i++
		}
		u := v[start:i]
		if strings.HasSuffix(u, ",") {
			if u = strings.TrimRight(u, ","); u != "" {
				out = append(out, SrcsetCandidate{URL: u})
			}
			continue
		}

		dstart, depth := i, 0
	descriptor:
		for ; i < len(v); i++ {
			switch v[i] {
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case ',':
				if depth == 0 {
					break descriptor
				}
			}
		}
		out = append(out, SrcsetCandidate{URL: u, Descriptor: strings.Join(strings.Fields(v[dstart:i]), " ")})
		if i < len(v) {
			i++
		}
	}
	return out
}

func isSrcsetSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// SpriteHref returns the href or xlink:href of a <use> node. Inside SVG the
// parser stores xlink:href with Namespace "xlink" and Key "href".
func SpriteHref(n *html.Node) string {
	if n == nil {
		return ""
	}
	var plain, xlink string
	for _, a := range n.Attr {
		switch {
		case a.Key == "href" && a.Namespace == "":
			plain = a.Val
		case a.Key == "href" && a.Namespace == "xlink", a.Key == "xlink:href":
			xlink = a.Val
		}
	}
	if plain != "" {
		return plain
	}
	return xlink
}
