package pack

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pagesnap/capture/internal/resource"
	"github.com/hazyhaar/pagesnap/capture/report"
)

// Archive layout.
const (
	IndexFile      = "index.html"
	QuickCheckFile = "quick-check.html"
	ReadmeFile     = "report/README.md"
	ReportFile     = "report/fetch-report.json"
	ManifestFile   = "report/asset-manifest.json"
	MarkdownFile   = "report/page.md"
)

// DefaultGenerator is the name written into the index banner.
const DefaultGenerator = "pagesnap"

// ErrTooLarge is returned when the archive exceeds Input.MaxBytes.
var ErrTooLarge = errors.New("pack: archive exceeds size cap")

var strict = bluemonday.StrictPolicy()

// clean strips markup from page-controlled text before it is embedded.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Input is everything the archive is built from.
type Input struct {
	Document  string // rewritten page markup
	Report    *report.Report
	Assets    *resource.Map
	Markdown  bool  // add report/page.md
	MaxBytes  int64 // 0 disables the cap
	Generator string
	Logger    *slog.Logger
}

// Result is a built archive.
type Result struct {
	Archive []byte
	Files   int
}

// Build renders the archive until the size recorded in the embedded report
// equals the archive's own size. Asset entries are the same bytes in every
// pass. When the size has not settled after maxPasses, the last archive is
// kept and its report holds the size of the previous pass.
func Build(a Archiver, in Input) (*Result, error) {
	if a == nil {
		return nil, errors.New("pack: nil archiver")
	}
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if in.Generator == "" {
		in.Generator = DefaultGenerator
	}
	rep := in.Report
	if in.Assets == nil {
		in.Assets = resource.NewMap()
	}

	assets := in.Assets.Assets()
	manifest, err := json.MarshalIndent(in.Assets.Manifest(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("pack: manifest: %w", err)
	}
	index := Banner(in.Generator, rep.PageURL, rep.CapturedAt) + in.Document

	var md string
	if in.Markdown {
		md, err = mdConverter.ConvertString(in.Document, converter.WithDomain(rep.PageURL))
		if err != nil {
			logger.Warn("pack: markdown failed", "error", err)
			rep.Note("Markdown rendition unavailable: " + err.Error())
			md = ""
		}
	}

	render := func() ([]byte, int, error) {
		files, err := renderFiles(in.Generator, index, md, manifest, rep, assets)
		if err != nil {
			return nil, 0, err
		}
		out, err := a.Archive(files, rep.CapturedAt)
		return out, len(files), err
	}

	rep.Stats.ArchiveBytes = 0
	first, _, err := render()
	if err != nil {
		return nil, err
	}
	if err := checkSize(in.MaxBytes, len(first)); err != nil {
		return nil, err
	}

	final, n := first, 0
	for pass := 2; pass <= maxPasses; pass++ {
		rep.Stats.ArchiveBytes = int64(len(final))
		next, files, err := render()
		if err != nil {
			return nil, err
		}
		if err := checkSize(in.MaxBytes, len(next)); err != nil {
			return nil, err
		}
		settled := len(next) == len(final)
		final, n = next, files
		if settled {
			break
		}
		if pass == maxPasses {
			logger.Debug("pack: archive size did not settle", "passes", pass, "bytes", len(final))
		}
	}

	logger.Debug("pack: built", "files", n, "bytes", len(final), "assets", len(assets))
	return &Result{Archive: final, Files: n}, nil
}

// maxPasses bounds the renders of Build.
const maxPasses = 6

func checkSize(limit int64, n int) error {
	if limit > 0 && int64(n) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, n, limit)
	}
	return nil
}

func renderFiles(generator, index, md string, manifest []byte, rep *report.Report, assets []resource.Asset) ([]File, error) {
	reportJSON, err := rep.JSON()
	if err != nil {
		return nil, fmt.Errorf("pack: report: %w", err)
	}
	quick, err := QuickCheck(generator, rep, reportJSON)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(assets)+6)
	files = append(files,
		File{Name: IndexFile, Body: []byte(index)},
		File{Name: QuickCheckFile, Body: quick},
		File{Name: ReadmeFile, Body: []byte(Readme(generator, rep))},
		File{Name: ReportFile, Body: reportJSON},
		File{Name: ManifestFile, Body: manifest},
	)
	if md != "" {
		files = append(files, File{Name: MarkdownFile, Body: []byte(md)})
	}
	for _, a := range assets {
		files = append(files, File{Name: a.Path, Body: a.Content})
	}
	return files, nil
}

// Banner is the comment prepended to index.html.
func Banner(generator, pageURL string, at time.Time) string {
	// "--" would close the comment early.
	u := strings.ReplaceAll(pageURL, "--", "%2D%2D")
	return fmt.Sprintf("<!-- Saved by %s on %s from %s -->\n", generator, at.UTC().Format(time.RFC3339), u)
}
