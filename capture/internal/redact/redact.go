// CLAUDE:SUMMARY Best-effort redaction of account-bound text in captured markup using a seeded lorem generator.
// Package redact scrubs text that is likely tied to the signed-in user:
// elements flagged by data attributes or id/class hints, then any text node
// that looks like an e-mail address or an opaque token. Replacement text is
// lorem ipsum drawn from an injected generator so runs are reproducible.
package redact

import (
	"bytes"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// DefaultCap bounds each redaction pass.
const DefaultCap = 200

// maxLength bounds the recorded length of an element redaction.
const maxLength = 2000

// Pattern is a text pattern replaced wherever it occurs in a text node.
type Pattern struct {
	Label string
	Re    *regexp.Regexp
}

// DefaultPatterns match e-mail addresses and long opaque tokens.
var DefaultPatterns = []Pattern{
	{Label: "email", Re: regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)},
	{Label: "token-like", Re: regexp.MustCompile(`(?i)\b[a-z0-9]{24,}\b`)},
}

// DefaultSelectors flag elements carrying user or hydration state.
var DefaultSelectors = []string{
	"[data-user]", "[data-username]", "[data-email]", "[data-profile]", "[data-account]",
	"[data-private]", "[data-auth]", "[data-customer]", "[data-member]", "[data-name]",
	"[data-reactroot]", "[data-hydrate]", "[data-hydration]", "[data-props]", "[data-state]",
	"[data-initial-state]", `[data-testid*="user"]`, `[data-qa*="user"]`,
}

// DefaultHint matches id and class names of account-bound elements.
var DefaultHint = regexp.MustCompile(`(?i)(user|account|profile|email|token|auth|dashboard|name|customer|member|secure|private)`)

var loremWords = strings.Fields("lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor incididunt ut labore et dolore magna aliqua")

// Redactor rewrites markup. It is not safe for concurrent use because of
// the shared generator.
type Redactor struct {
	rng       *rand.Rand
	cap       int
	selectors []string
	hint      *regexp.Regexp
	patterns  []Pattern
}

// New returns a Redactor drawing replacement words from rng.
func New(rng *rand.Rand) *Redactor {
	return &Redactor{
		rng:       rng,
		cap:       DefaultCap,
		selectors: DefaultSelectors,
		hint:      DefaultHint,
		patterns:  DefaultPatterns,
	}
}

// NewSeeded returns a Redactor with a PCG generator seeded from seed.
func NewSeeded(seed uint64) *Redactor {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Redact returns the scrubbed markup and one record per replacement.
func (r *Redactor) Redact(markup string) (string, []report.Redaction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return markup, nil, err
	}

	var out []report.Redaction
	out = append(out, r.elements(doc)...)
	out = append(out, r.textPatterns(doc)...)

	var buf bytes.Buffer
	root := doc.Get(0)
	if !hasDoctype(root) {
		buf.WriteString("<!doctype html>\n")
	}
	if err := html.Render(&buf, root); err != nil {
		return markup, nil, err
	}
	return buf.String(), out, nil
}

// elements replaces the text of flagged elements. Descendants of an already
// redacted element are not counted again.
func (r *Redactor) elements(doc *goquery.Document) []report.Redaction {
	var candidates []*html.Node
	seen := make(map[*html.Node]bool)
	push := func(n *html.Node) {
		if !seen[n] {
			seen[n] = true
			candidates = append(candidates, n)
		}
	}
	for _, sel := range r.selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) { push(s.Get(0)) })
	}
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if skipElement(s.Get(0)) {
			return
		}
		if r.hint.MatchString(s.AttrOr("id", "")) {
			push(s.Get(0))
			return
		}
		for _, c := range strings.Fields(s.AttrOr("class", "")) {
			if r.hint.MatchString(c) {
				push(s.Get(0))
				return
			}
		}
	})

	var out []report.Redaction
	done := make(map[*html.Node]bool)
	for _, n := range candidates {
		if len(out) >= r.cap {
			break
		}
		if insideAny(n, done) || skipElement(n) {
			continue
		}
		text := strings.TrimSpace(textContent(n))
		if text == "" {
			continue
		}
		length := min(utf8.RuneCountInString(text), maxLength)
		replaceText(n, chunks(r.lorem(length)))
		done[n] = true
		out = append(out, report.Redaction{Selector: Selector(n), Length: length, Reason: "authenticated"})
	}
	return out
}

// textPatterns replaces whole text nodes under body that match a pattern.
func (r *Redactor) textPatterns(doc *goquery.Document) []report.Redaction {
	var out []report.Redaction
	body := doc.Find("body").Get(0)
	if body == nil {
		return nil
	}
	walkText(body, func(t *html.Node) bool {
		for _, p := range r.patterns {
			if p.Re.MatchString(t.Data) {
				length := utf8.RuneCountInString(t.Data)
				t.Data = r.lorem(length)
				out = append(out, report.Redaction{Selector: Selector(t.Parent), Length: length, Reason: p.Label})
				break
			}
		}
		return len(out) < r.cap
	})
	return out
}

// lorem returns n bytes of lorem ipsum.
func (r *Redactor) lorem(n int) string {
	var b strings.Builder
	for b.Len() < n {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(loremWords[r.rng.IntN(len(loremWords))])
	}
	return b.String()[:n]
}

// chunks splits s into pieces of max(8, len/6) bytes.
func chunks(s string) []string {
	size := max(8, len(s)/6)
	var parts []string
	for i := 0; i < len(s); i += size {
		parts = append(parts, s[i:min(i+size, len(s))])
	}
	if len(parts) == 0 {
		return []string{s}
	}
	return parts
}

// replaceText assigns the parts round-robin to the text nodes under n.
func replaceText(n *html.Node, parts []string) {
	i := 0
	walkText(n, func(t *html.Node) bool {
		t.Data = parts[i%len(parts)]
		i++
		return true
	})
}

// walkText visits text nodes outside script, style and contenteditable
// subtrees until fn returns false.
func walkText(n *html.Node, fn func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if !fn(c) {
				return false
			}
		case html.ElementNode:
			if skipElement(c) {
				continue
			}
			if !walkText(c, fn) {
				return false
			}
		}
	}
	return true
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walkText(n, func(t *html.Node) bool {
		b.WriteString(t.Data)
		return true
	})
	return b.String()
}

func skipElement(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "script", "style", "noscript", "template", "head", "title":
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "contenteditable" && a.Val != "false" {
			return true
		}
	}
	return false
}

func insideAny(n *html.Node, set map[*html.Node]bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if set[p] {
			return true
		}
	}
	return false
}

func hasDoctype(root *html.Node) bool {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.DoctypeNode {
			return true
		}
	}
	return false
}

var cssUnsafe = regexp.MustCompile(`(?i)[^a-z0-9_-]`)

// Selector describes n by id, or by up to four tag.class levels.
func Selector(n *html.Node) string {
	if n == nil {
		return ""
	}
	if id := attr(n, "id"); id != "" {
		return "#" + cssUnsafe.ReplaceAllString(id, "-")
	}
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode && len(parts) < 4; cur = cur.Parent {
		sel := cur.Data
		if classes := strings.Fields(attr(cur, "class")); len(classes) > 0 {
			if len(classes) > 2 {
				classes = classes[:2]
			}
			for i, c := range classes {
				classes[i] = cssUnsafe.ReplaceAllString(c, "-")
			}
			sel += "." + strings.Join(classes, ".")
		}
		parts = append([]string{sel}, parts...)
	}
	return strings.Join(parts, " > ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key && a.Namespace == "" {
			return a.Val
		}
	}
	return ""
}
