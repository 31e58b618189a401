package pack

import (
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// TopFailures is how many failures the human-readable reports list.
const TopFailures = 20

var limitations = []string{
	"Third-party iframes left as-is and may not work offline.",
	"Back-end APIs are not mirrored.",
	"Infinite feeds are blocked or timed out by heuristic.",
}

func topFailures(r *report.Report) []report.Failure {
	if len(r.Failures) > TopFailures {
		return r.Failures[:TopFailures]
	}
	return r.Failures
}

// Readme renders report/README.md.
func Readme(generator string, r *report.Report) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("# %s capture report", generator)
	line("")
	line("Source: %s", r.PageURL)
	if t := clean(r.Title); t != "" {
		line("Title: %s", t)
	}
	line("Captured: %s", r.CapturedAt.UTC().Format(time.RFC3339))
	line("")

	line("## Summary")
	line("- Assets total: %d", r.Stats.AssetsTotal)
	line("- Downloaded: %d", r.Stats.AssetsDownloaded)
	line("- Failed: %d", r.Stats.AssetsFailed)
	line("- Skipped: %d", r.Stats.AssetsSkipped)
	line("- Coverage: %d%%", r.Stats.CoveragePct)
	line("- Bytes downloaded: %d", r.Stats.BytesDownloaded)
	line("- ZIP bytes: %d", r.Stats.ArchiveBytes)
	line("- Duration ms: %d", r.Stats.DurationMs)
	line("")

	reason := r.Endless.Reason
	if reason == "" {
		reason = "n/a"
	}
	line("## Endless detection")
	line("- Denied by list: %t", r.Endless.DeniedByList)
	line("- Stabilized: %t", r.Endless.Stabilized)
	line("- Reason: %s", reason)
	line("- Iterations: %d", r.Endless.Iterations)
	line("- Final height: %.0f px", r.Endless.FinalHeight)
	line("")

	line("## Failures (top %d)", TopFailures)
	for _, f := range topFailures(r) {
		if f.Status != 0 {
			line("- %d %s - %s", f.Status, f.URL, clean(f.Reason))
		} else {
			line("- %s - %s", f.URL, clean(f.Reason))
		}
	}
	line("")

	line("## Redactions")
	for _, red := range r.Redactions {
		line("- %s (len=%d) - %s", red.Selector, red.Length, red.Reason)
	}
	line("")

	line("## Notes")
	for _, n := range r.Notes {
		line("- %s", n)
	}
	line("")

	line("## Limitations")
	for _, l := range limitations {
		line("- %s", l)
	}
	return b.String()
}
