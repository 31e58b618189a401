package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hazyhaar/pagesnap/capture/internal/config"
	"github.com/hazyhaar/pagesnap/capture/internal/download"
	"github.com/hazyhaar/pagesnap/capture/internal/fetcher"
	"github.com/hazyhaar/pagesnap/capture/internal/locate"
	"github.com/hazyhaar/pagesnap/capture/internal/pack"
	"github.com/hazyhaar/pagesnap/capture/internal/page"
	"github.com/hazyhaar/pagesnap/capture/internal/redact"
	"github.com/hazyhaar/pagesnap/capture/internal/rewrite"
	"github.com/hazyhaar/pagesnap/capture/internal/session"
	"github.com/hazyhaar/pagesnap/capture/internal/stabilize"
	"github.com/hazyhaar/pagesnap/capture/internal/store"
	"github.com/hazyhaar/pagesnap/capture/report"
)

// Status texts emitted at stage boundaries.
const (
	textScrolling   = "Scrolling to load all content..."
	textCollecting  = "Collecting assets..."
	textRedacting   = "Redacting authenticated text..."
	textRewriting   = "Rewriting HTML & CSS..."
	textPacking     = "Packing ZIP..."
	textDone        = "Done."
	noteIframes     = "Third-party iframes left as-is; may not work offline"
	noteIterCap     = "Scrolling stopped at the iteration cap; the page may continue below."
	noteRedactError = "Redaction failed; page text was left as captured: "
)

// job is one pipeline execution. It owns the report until the terminal
// transition.
type job struct {
	c      *Capturer
	e      *entry
	sess   *session.Session
	cfg    *config.Config
	deny   *config.Denylist
	rep    *report.Report
	logger *slog.Logger

	archive []byte
}

// run executes the pipeline for e and performs the terminal bookkeeping.
func (c *Capturer) run(e *entry) *Result {
	cfg, deny := c.config()
	j := &job{
		c:      c,
		e:      e,
		sess:   e.sess,
		cfg:    cfg,
		deny:   deny,
		rep:    report.New(e.sess.Target),
		logger: c.logger.With("session", e.sess.ID),
	}

	err := j.execute(j.sess.Context())
	if err != nil && j.sess.Stopped() {
		err = session.StoppedError()
	}
	return j.finish(err)
}

func (j *job) execute(ctx context.Context) error {
	if j.c.opener == nil {
		return session.DependencyError("opener")
	}
	if j.c.archiver == nil {
		return session.DependencyError("archiver")
	}

	// Gate.
	if j.deny.Match(j.sess.Target) {
		j.rep.Endless.DeniedByList = true
		j.rep.Endless.Reason = "denylist"
		j.logger.Info("capture: target denied", "url", j.sess.Target)
		return session.GateError()
	}

	// Stabilize.
	if err := j.advance(session.Stabilizing, textScrolling); err != nil {
		return err
	}
	doc, err := j.c.opener.Open(ctx, j.sess.Target)
	if err != nil {
		return session.LoadError(err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			j.logger.Debug("capture: close document", "error", cerr)
		}
	}()
	if err := j.stabilize(ctx, doc); err != nil {
		return err
	}

	// Collect.
	if err := j.advance(session.Collecting, textCollecting); err != nil {
		return err
	}
	snap, err := doc.Snapshot(ctx)
	if err != nil {
		return session.LoadError(fmt.Errorf("snapshot: %w", err))
	}
	fetch := j.fetcher(doc)
	loc, err := locate.New(fetch, locate.Options{
		SkipVideo:   config.Enabled(j.cfg.Capture.SkipVideo),
		MaxCSSDepth: j.cfg.Limits.MaxCSSDepth,
	}, j.logger).Locate(ctx, snap)
	if err != nil {
		return session.LoadError(fmt.Errorf("locate: %w", err))
	}
	j.rep.Title = loc.Title
	j.rep.Skipped = append(j.rep.Skipped, loc.Skipped...)

	// Redact.
	markup := snap.HTML
	if j.cfg.Capture.Redact {
		if err := j.advance(session.Redacting, textRedacting); err != nil {
			return err
		}
		markup = j.redact(markup)
	}

	// Download.
	if err := j.advance(session.Downloading, fmt.Sprintf("Downloading %d assets...", len(loc.References))); err != nil {
		return err
	}
	j.progress(0, len(loc.References))
	dl := download.New(fetch, download.Config{
		Concurrency: j.cfg.Limits.Concurrency,
		MaxAssets:   j.cfg.Limits.MaxAssets,
		MaxBytes:    j.cfg.Limits.MaxBytes(),
		Deadline:    j.deadline(),
		SkipVideo:   config.Enabled(j.cfg.Capture.SkipVideo),
		PageURL:     snap.PageURL,
	}, download.WithProgress(j.progress), download.WithLogger(j.logger))
	got := dl.Run(ctx, loc.URLs())
	j.rep.Failures = append(j.rep.Failures, got.Failures...)
	j.rep.Skipped = append(j.rep.Skipped, got.Skipped...)
	if got.StopReason != "" {
		return session.BudgetError(got.StopReason)
	}

	// Rewrite.
	if err := j.advance(session.Rewriting, textRewriting); err != nil {
		return err
	}
	base, err := url.Parse(loc.BaseURL)
	if err != nil {
		return session.LoadError(fmt.Errorf("base url: %w", err))
	}
	rw := rewrite.New(got.Map, rewrite.Options{
		SafetyStyles:  config.Enabled(j.cfg.Capture.SafetyStyles),
		StripScripts:  j.cfg.Capture.StripScripts,
		ReplaceEmbeds: config.Enabled(j.cfg.Capture.ReplaceEmbeds),
	}, j.logger)
	index := rw.Document(markup, base, loc.Embeds)
	sheets := rw.Stylesheets()
	j.logger.Debug("capture: rewritten", "stylesheets", sheets)
	j.rep.Note(noteIframes)

	// Package.
	if err := j.advance(session.Packaging, textPacking); err != nil {
		return err
	}
	j.rep.Finalize(got.Map.Len(), got.Map.TotalBytes(), j.c.now(), time.Since(j.sess.Started))
	built, err := pack.Build(j.c.archiver, pack.Input{
		Document: index,
		Report:   j.rep,
		Assets:   got.Map,
		Markdown: j.cfg.Capture.Markdown,
		MaxBytes: j.cfg.Limits.MaxBytes(),
		Logger:   j.logger,
	})
	if errors.Is(err, pack.ErrTooLarge) {
		return session.PackageError(err)
	}
	if err != nil {
		return session.LoadError(fmt.Errorf("pack: %w", err))
	}
	if ctx.Err() != nil {
		return session.StoppedError()
	}
	j.archive = built.Archive
	j.rep.Stats.ArchiveBytes = int64(len(built.Archive))
	return nil
}

// advance moves the session to the next stage and announces it.
func (j *job) advance(to session.State, text string) error {
	if err := j.sess.Advance(to); err != nil {
		return err
	}
	j.status(text)
	if j.c.store != nil {
		if err := j.c.store.UpdateState(context.Background(), j.sess.ID, string(to)); err != nil {
			j.logger.Warn("capture: record state", "state", to, "error", err)
		}
	}
	return nil
}

func (j *job) deadline() time.Time {
	if j.cfg.Limits.MaxDuration <= 0 {
		return time.Time{}
	}
	return j.sess.Started.Add(j.cfg.Limits.MaxDuration)
}

func (j *job) stabilize(ctx context.Context, doc page.Document) error {
	st := stabilize.New(stabilize.Config{
		Interval:      j.cfg.Limits.ScrollInterval,
		Idle:          j.cfg.Limits.ScrollIdle,
		MaxIterations: j.cfg.Limits.MaxScrollIterations,
		Deadline:      j.deadline(),
	}, stabilize.WithLogger(j.logger))

	res, err := st.Run(ctx, doc)
	j.rep.Endless.Stabilized = res.Stabilized
	j.rep.Endless.Reason = res.Reason
	j.rep.Endless.Iterations = res.Iterations
	j.rep.Endless.FinalHeight = res.FinalHeight
	switch {
	case errors.Is(err, stabilize.ErrStopped):
		return session.StoppedError()
	case errors.Is(err, stabilize.ErrTimeout):
		return session.StabilizeError("timeout", err)
	case err != nil:
		return session.StabilizeError("error", err)
	}
	if res.Reason == stabilize.ReasonIterCap {
		j.rep.Note(noteIterCap)
	}
	return nil
}

// fetcher builds the direct-then-privileged strategy. Browser cookies are
// forwarded when the document exposes them.
func (j *job) fetcher(doc page.Document) fetcher.Fetcher {
	opts := []fetcher.Option{
		fetcher.WithClient(j.c.client),
		fetcher.WithTimeout(j.cfg.Limits.RequestTimeout),
		fetcher.WithLogger(j.logger),
	}
	if ua := j.cfg.Capture.UserAgent; ua != "" {
		opts = append(opts, fetcher.WithUserAgent(ua))
	}
	if src, ok := doc.(page.CookieSource); ok {
		opts = append(opts, fetcher.WithCookies(src))
	}
	return &fetcher.Strategy{
		Primary:  fetcher.Direct(opts...),
		Fallback: fetcher.Privileged(opts...),
		Logger:   j.logger,
	}
}

// redact scrubs markup. Failures leave the markup unchanged.
func (j *job) redact(markup string) string {
	seed := j.cfg.Capture.RedactSeed
	if seed == 0 {
		seed = uint64(j.c.now().UnixNano())
	}
	out, recs, err := redact.NewSeeded(seed).Redact(markup)
	if err != nil {
		j.logger.Warn("capture: redaction failed", "error", err)
		j.rep.Note(noteRedactError + err.Error())
		return markup
	}
	j.rep.Redactions = append(j.rep.Redactions, recs...)
	j.logger.Info("capture: redacted", "count", len(recs))
	return out
}

func (j *job) status(text string) {
	j.e.mu.Lock()
	j.e.text = text
	j.e.mu.Unlock()
	j.emit(report.Event{Type: report.EventStatus, State: string(j.sess.State()), Text: text})
}

func (j *job) progress(done, total int) {
	j.e.mu.Lock()
	j.e.done, j.e.total = done, total
	j.e.mu.Unlock()
	j.emit(report.Event{Type: report.EventProgress, State: string(session.Downloading), Done: done, Total: total})
}

func (j *job) emit(ev report.Event) {
	ev.SessionID = j.sess.ID
	ev.Time = j.c.now()
	// Sinks are queued or non-blocking; delivery errors never reach the pipeline.
	_ = j.c.router.Send(context.Background(), ev)
}

// finish performs the single terminal transition, writes the archive,
// records history and emits the terminal event.
func (j *job) finish(err error) *Result {
	res := &Result{
		SessionID: j.sess.ID,
		URL:       j.sess.Target,
		Report:    j.rep,
	}

	if err == nil && j.c.out != nil {
		res.ArchiveName = ArchiveName(j.sess.Target, j.rep.CapturedAt)
		path, werr := j.c.out.Write(res.ArchiveName, j.archive)
		if werr != nil {
			err = &session.Error{Kind: session.KindPackage, Reason: "write", Message: "Could not save the archive.", Err: werr}
		} else {
			res.ArchivePath = path
		}
	} else if err == nil {
		res.ArchiveName = ArchiveName(j.sess.Target, j.rep.CapturedAt)
	}

	if !j.sess.Finish(err) {
		j.logger.Warn("capture: session already terminated")
	}
	res.State = j.sess.State()
	if se := j.sess.Err(); se != nil {
		res.err = se
		res.Reason = se.Reason
		res.Message = se.Message
	} else {
		res.Archive = j.archive
	}

	if res.State == session.Done {
		total := j.rep.Stats.AssetsTotal
		j.progress(total, total)
		j.status(textDone)
		j.emit(report.Event{Type: report.EventDone, State: string(res.State), Text: res.ArchiveName})
		j.logger.Info("capture: done",
			"url", j.sess.Target, "archive", res.ArchiveName,
			"assets", j.rep.Stats.AssetsDownloaded, "failed", j.rep.Stats.AssetsFailed,
			"coverage", j.rep.Stats.CoveragePct, "bytes", j.rep.Stats.ArchiveBytes)
	} else {
		j.emit(report.Event{Type: report.EventError, State: string(res.State), Text: res.Message, Reason: res.Reason})
		j.logger.Info("capture: ended", "url", j.sess.Target, "state", res.State, "reason", res.Reason, "error", res.err)
	}

	j.record(res)
	j.c.metrics.sessionFinished(res)

	j.e.mu.Lock()
	kept := *res
	if kept.ArchivePath != "" {
		kept.Archive = nil
	}
	j.e.result = &kept
	j.e.mu.Unlock()
	j.c.retain(j.sess.ID)
	return res
}

func (j *job) record(res *Result) {
	if j.c.store == nil {
		return
	}
	st := j.rep.Stats
	rec := &store.Capture{
		ID:               j.sess.ID,
		State:            string(res.State),
		Reason:           res.Reason,
		Message:          res.Message,
		FinishedAt:       j.sess.Ended().UnixMilli(),
		AssetsTotal:      st.AssetsTotal,
		AssetsDownloaded: st.AssetsDownloaded,
		AssetsFailed:     st.AssetsFailed,
		AssetsSkipped:    st.AssetsSkipped,
		CoveragePct:      st.CoveragePct,
		ArchiveBytes:     st.ArchiveBytes,
		ArchivePath:      res.ArchivePath,
	}
	if err := j.c.store.FinishCapture(context.Background(), rec); err != nil {
		j.logger.Warn("capture: record finish", "error", err)
	}
}
