// CLAUDE:SUMMARY Public capture report: stats, endless detection, failure/skip/redaction lists, asset manifest, events.
// Package report holds the public types describing the outcome of a capture.
// A Report is embedded verbatim into the archive as report/fetch-report.json.
package report

import (
	"encoding/json"
	"math"
	"time"
)

// Stats are the counters of a finished capture.
// AssetsDownloaded + AssetsFailed + AssetsSkipped == AssetsTotal.
type Stats struct {
	AssetsTotal      int   `json:"assets_total"`
	AssetsDownloaded int   `json:"assets_downloaded"`
	AssetsFailed     int   `json:"assets_failed"`
	AssetsSkipped    int   `json:"assets_skipped"`
	CoveragePct      int   `json:"coverage_pct"`
	BytesDownloaded  int64 `json:"bytes_downloaded"`
	ArchiveBytes     int64 `json:"archive_bytes"`
	DurationMs       int64 `json:"duration_ms"`
}

// EndlessDetection records the gate and stabilization outcome.
type EndlessDetection struct {
	DeniedByList bool    `json:"denied_by_list"`
	Stabilized   bool    `json:"stabilized"`
	Reason       string  `json:"reason,omitempty"`
	Iterations   int     `json:"iterations"`
	FinalHeight  float64 `json:"final_height"`
}

// Failure is a resource that could not be fetched, even through the fallback.
type Failure struct {
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason"`
}

// Skip is a resource intentionally not fetched (video, data-uri).
type Skip struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Redaction is one scrubbed element of the captured markup.
type Redaction struct {
	Selector string `json:"selector"`
	Length   int    `json:"length"`
	Reason   string `json:"reason"`
}

// Report accumulates the outcome of one capture.
type Report struct {
	PageURL    string           `json:"page_url"`
	Title      string           `json:"title,omitempty"`
	CapturedAt time.Time        `json:"captured_at"`
	Stats      Stats            `json:"stats"`
	Endless    EndlessDetection `json:"endless_detection"`
	Failures   []Failure        `json:"failures"`
	Skipped    []Skip           `json:"skipped"`
	Redactions []Redaction      `json:"redactions"`
	Notes      []string         `json:"notes"`
}

// New returns an empty report for pageURL. Lists are non-nil so they
// serialise as [] rather than null.
func New(pageURL string) *Report {
	return &Report{
		PageURL:    pageURL,
		Failures:   []Failure{},
		Skipped:    []Skip{},
		Redactions: []Redaction{},
		Notes:      []string{},
	}
}

// Note appends a free-form note.
func (r *Report) Note(s string) { r.Notes = append(r.Notes, s) }

// Finalize derives the counters from the accumulated lists. downloaded is
// the number of assets in the resource map.
func (r *Report) Finalize(downloaded int, bytes int64, capturedAt time.Time, elapsed time.Duration) {
	r.CapturedAt = capturedAt.UTC()
	r.Stats.AssetsDownloaded = downloaded
	r.Stats.AssetsFailed = len(r.Failures)
	r.Stats.AssetsSkipped = len(r.Skipped)
	r.Stats.AssetsTotal = downloaded + r.Stats.AssetsFailed + r.Stats.AssetsSkipped
	r.Stats.CoveragePct = Coverage(downloaded, r.Stats.AssetsTotal)
	r.Stats.BytesDownloaded = bytes
	r.Stats.DurationMs = elapsed.Milliseconds()
}

// Coverage is round(success*100/total). A page without resources is fully
// covered.
func Coverage(success, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(success) * 100 / float64(total)))
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ManifestEntry describes one archived asset.
type ManifestEntry struct {
	Path      string `json:"path"`
	Bytes     int64  `json:"bytes"`
	MediaType string `json:"media_type"`
	SHA256    string `json:"sha256"`
}

// Manifest maps each original URL to its archived copy.
type Manifest map[string]ManifestEntry
