package pack

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/hazyhaar/pagesnap/capture/report"
)

var quickCheckTmpl = template.Must(template.New("quick-check").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Generator}} quick check{{if .Title}}: {{.Title}}{{end}}</title>
<style>
body{font:14px/1.5 system-ui,sans-serif;margin:0;display:grid;grid-template-columns:320px 1fr;height:100vh}
aside{padding:12px;border-right:1px solid #ddd;overflow:auto}
main{height:100%}
iframe{width:100%;height:100%;border:0}
h2{margin:8px 0;font-size:16px}
.ok{color:#0a0}
.fail{color:#a00}
code{font-family:ui-monospace,SFMono-Regular,Menlo,Consolas,monospace;font-size:12px;word-break:break-all}
ul{padding-left:18px}
</style>
</head>
<body>
<aside>
<h2>Quick Check</h2>
<div id="summary">
<div><b>URL:</b> <code>{{.PageURL}}</code></div>
<div><b>Captured:</b> {{.Captured}}</div>
<div><b>Assets:</b> {{.Stats.AssetsDownloaded}} ok, {{.Stats.AssetsFailed}} failed, {{.Stats.AssetsSkipped}} skipped ({{.Stats.CoveragePct}}%)</div>
<div><b>ZIP:</b> {{.Stats.ArchiveBytes}} bytes</div>
{{- if .Notes}}
<div><b>Notes:</b> {{join .Notes "; "}}</div>
{{- end}}
</div>
<h3>Top failures</h3>
<ul id="fails">
{{- range .Failures}}
<li class="fail">{{if .Status}}[{{.Status}}] {{end}}{{.URL}}{{if .Reason}} - {{.Reason}}{{end}}</li>
{{- else}}
<li class="ok">none</li>
{{- end}}
</ul>
</aside>
<main>
<iframe src="index.html"></iframe>
</main>
<script type="application/json" id="pagesnap-report">{{.ReportJSON}}</script>
</body>
</html>
`))

type quickCheckView struct {
	Generator  string
	Title      string
	PageURL    string
	Captured   string
	Stats      report.Stats
	Notes      []string
	Failures   []report.Failure
	ReportJSON template.JS
}

// QuickCheck renders quick-check.html: a summary sidebar next to the
// archived page, with the full report embedded as JSON so the viewer works
// from file:// without fetching.
func QuickCheck(generator string, r *report.Report, reportJSON []byte) ([]byte, error) {
	fails := topFailures(r)
	view := quickCheckView{
		Generator:  generator,
		Title:      clean(r.Title),
		PageURL:    r.PageURL,
		Captured:   r.CapturedAt.UTC().Format(time.RFC3339),
		Stats:      r.Stats,
		Notes:      r.Notes,
		Failures:   make([]report.Failure, len(fails)),
		ReportJSON: template.JS(reportJSON), // json.Marshal escapes <, > and &
	}
	for i, f := range fails {
		f.Reason = clean(f.Reason)
		view.Failures[i] = f
	}
	var buf bytes.Buffer
	if err := quickCheckTmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("pack: quick-check: %w", err)
	}
	return buf.Bytes(), nil
}
