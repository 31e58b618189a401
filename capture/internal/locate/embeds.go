package locate

import (
	"fmt"
	"regexp"
)

// EmbedRule maps a third-party video player URL to a static poster image
// and an outbound link. Pattern group 1 is the video ID.
type EmbedRule struct {
	Provider string
	Pattern  *regexp.Regexp
	Poster   string // fmt template, %s = video ID
	Link     string // fmt template, %s = video ID
}

// DefaultEmbedRules cover YouTube (including youtube-nocookie) and Vimeo.
var DefaultEmbedRules = []EmbedRule{
	{
		Provider: "youtube",
		Pattern:  regexp.MustCompile(`^https?://(?:www\.)?youtube(?:-nocookie)?\.com/embed/([A-Za-z0-9_-]{6,})`),
		Poster:   "https://i.ytimg.com/vi/%s/hqdefault.jpg",
		Link:     "https://www.youtube.com/watch?v=%s",
	},
	{
		Provider: "vimeo",
		Pattern:  regexp.MustCompile(`^https?://player\.vimeo\.com/video/([0-9]+)`),
		Poster:   "https://vumbnail.com/%s.jpg",
		Link:     "https://vimeo.com/%s",
	},
}

// Embed is an iframe-hosted video replaced offline by a poster and a link.
type Embed struct {
	Provider string
	Src      string // absolute iframe src
	Poster   string
	Link     string
	Title    string
}

// MatchEmbed returns the substitution for an absolute iframe src.
func MatchEmbed(rules []EmbedRule, src string) (Embed, bool) {
	for _, r := range rules {
		if m := r.Pattern.FindStringSubmatch(src); m != nil {
			return Embed{
				Provider: r.Provider,
				Src:      src,
				Poster:   fmt.Sprintf(r.Poster, m[1]),
				Link:     fmt.Sprintf(r.Link, m[1]),
			}, true
		}
	}
	return Embed{}, false
}
