package rewrite

import (
	"regexp"
	"strings"
)

// safetyMarker identifies the injected style block.
const safetyMarker = "data-pagesnap-safety"

// baseSafetyCSS keeps archived pages readable without their scripts.
const baseSafetyCSS = `img,video,svg,canvas{max-width:100%;height:auto}
.sr-only,.visually-hidden{position:absolute!important;width:1px!important;height:1px!important;padding:0!important;margin:-1px!important;overflow:hidden!important;clip:rect(0,0,0,0)!important;white-space:nowrap!important;border:0!important}
.material-icons,.material-symbols-outlined{font-family:"Material Icons","Material Symbols Outlined","Segoe UI Symbol","Noto Sans Symbols",sans-serif}`

// FixupRule is one entry of the site fix-up table. A nil Host applies the
// rule to every page.
type FixupRule struct {
	Name         string
	Host         *regexp.Regexp
	Selector     string
	Declarations string
}

// Applies reports whether the rule targets host.
func (r FixupRule) Applies(host string) bool {
	return r.Host == nil || r.Host.MatchString(strings.ToLower(host))
}

// CSS renders the rule as one stylesheet line.
func (r FixupRule) CSS() string {
	return r.Selector + "{" + r.Declarations + "}"
}

// DefaultFixups undo layout states that only make sense with live scripts:
// pinned headers covering content, loading overlays that never clear,
// dialogs that were mid-animation and parallax offsets.
var DefaultFixups = []FixupRule{
	{
		Name:         "pinned-headers",
		Selector:     ".sticky-top,.fixed-top,.sticky-header,.fixed-header,header.sticky,header.fixed",
		Declarations: "position:relative!important;top:auto!important",
	},
	{
		Name:         "loading-overlays",
		Selector:     ".loading-overlay,.page-loader,.spinner,.skeleton,.shimmer",
		Declarations: "display:none!important",
	},
	{
		Name:         "lazy-fade",
		Selector:     ".lazyload,.lazyloading,.fade-in,[data-aos]",
		Declarations: "opacity:1!important;visibility:visible!important;transform:none!important",
	},
	{
		Name:         "parallax",
		Selector:     ".parallax,[data-parallax],.rellax",
		Declarations: "transform:none!important;background-attachment:scroll!important",
	},
	{
		Name:         "modal-backdrops",
		Selector:     ".modal-backdrop,.overlay-backdrop",
		Declarations: "display:none!important",
	},
	{
		Name:         "scroll-locked-body",
		Selector:     "html,body",
		Declarations: "overflow:auto!important;height:auto!important",
	},
	{
		Name:         "wikipedia-sticky",
		Host:         regexp.MustCompile(`(^|\.)wikipedia\.org$`),
		Selector:     ".vector-sticky-header,.vector-sticky-pinned-container",
		Declarations: "position:static!important",
	},
}

// safetyBlock renders the style element for host.
func safetyBlock(host string, rules []FixupRule) string {
	var b strings.Builder
	b.WriteString("<style ")
	b.WriteString(safetyMarker)
	b.WriteString(">\n")
	b.WriteString(baseSafetyCSS)
	for _, r := range rules {
		if r.Applies(host) {
			b.WriteString("\n/* ")
			b.WriteString(r.Name)
			b.WriteString(" */ ")
			b.WriteString(r.CSS())
		}
	}
	b.WriteString("\n</style>")
	return b.String()
}
