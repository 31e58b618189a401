package capture

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hazyhaar/pagesnap/capture/internal/page"
	"github.com/hazyhaar/pagesnap/capture/internal/session"
	"github.com/hazyhaar/pagesnap/capture/internal/store"
	"github.com/hazyhaar/pagesnap/capture/report"
	"github.com/hazyhaar/pagesnap/dbopen"
)

// fakeDoc is a rendered page with a fixed snapshot. When grow is set its
// height increases on every sample, so it never stabilizes.
type fakeDoc struct {
	url     string
	html    string
	grow    bool
	height  atomic.Int64
	scrolls atomic.Int32
	closed  atomic.Bool
}

func (d *fakeDoc) URL() string { return d.url }

func (d *fakeDoc) ScrollToBottom(ctx context.Context) error {
	d.scrolls.Add(1)
	return ctx.Err()
}

func (d *fakeDoc) ContentHeight(context.Context) (float64, error) {
	if d.grow {
		return float64(d.height.Add(500)), nil
	}
	return 2000, nil
}

func (d *fakeDoc) Snapshot(context.Context) (*page.Snapshot, error) {
	return &page.Snapshot{HTML: d.html, BaseURL: d.url, PageURL: d.url, Title: "Fixture"}, nil
}

func (d *fakeDoc) Close() error {
	d.closed.Store(true)
	return nil
}

type fakeOpener struct {
	doc    *fakeDoc
	err    error
	opened atomic.Int32
}

func (o *fakeOpener) Open(ctx context.Context, target string) (page.Document, error) {
	o.opened.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

// recorder is a callback sink keeping every event.
type recorder struct {
	mu     sync.Mutex
	events []report.Event
}

func (r *recorder) send(_ context.Context, ev report.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []report.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report.Event(nil), r.events...)
}

// settled waits until a terminal event has been delivered and returns the
// events received so far.
func (r *recorder) settled(t *testing.T) []report.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		evs := r.all()
		for _, ev := range evs {
			if ev.Type == report.EventDone || ev.Type == report.EventError {
				return evs
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no terminal event delivered: %+v", evs)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

const fixturePage = `<!doctype html><html><head><title>Fixture</title>
<link rel="stylesheet" href="/style.css"></head>
<body><img src="/a.png" alt="a"><img src="/missing.png" alt="gone">
<iframe src="https://maps.example.net/embed"></iframe></body></html>`

// assetServer serves the fixture assets; /missing.png is a 404.
func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, `body{background:url(bg.png)}`)
	})
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG-a"))
	})
	mux.HandleFunc("/bg.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG-bg"))
	})
	mux.HandleFunc("/big.bin", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 2<<20))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Limits.ScrollInterval = 2 * time.Millisecond
	cfg.Limits.ScrollIdle = 10 * time.Millisecond
	cfg.Limits.RequestTimeout = 5 * time.Second
	return cfg
}

var fixedNow = time.Date(2024, 3, 5, 10, 20, 30, 456e6, time.UTC)

func newTestCapturer(t *testing.T, cfg *Config, doc *fakeDoc, opts ...Option) (*Capturer, *fakeOpener, *recorder) {
	t.Helper()
	op := &fakeOpener{doc: doc}
	rec := &recorder{}
	all := append([]Option{
		WithOpener(op),
		WithSink(NewCallbackSink(rec.send)),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	c := New(cfg, all...)
	t.Cleanup(func() { c.Close() })
	return c, op, rec
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestCapture_Success(t *testing.T) {
	srv := assetServer(t)
	doc := &fakeDoc{url: srv.URL + "/page", html: fixturePage}
	out := t.TempDir()
	c, op, rec := newTestCapturer(t, testConfig(), doc, WithOutputDir(out))

	res, err := c.Capture(context.Background(), doc.url)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateDone || res.Err() != nil {
		t.Fatalf("state = %s, err = %v", res.State, res.Err())
	}
	if op.opened.Load() != 1 || !doc.closed.Load() {
		t.Errorf("opened = %d, closed = %v", op.opened.Load(), doc.closed.Load())
	}

	st := res.Report.Stats
	if st.AssetsDownloaded != 3 || st.AssetsFailed != 1 || st.AssetsTotal != 4 || st.CoveragePct != 75 {
		t.Errorf("stats = %+v", st)
	}
	if !res.Report.Endless.Stabilized || res.Report.Title != "Fixture" {
		t.Errorf("report = %+v", res.Report)
	}

	files := readZip(t, res.Archive)
	for _, name := range []string{"index.html", "quick-check.html", "report/README.md", "report/fetch-report.json", "report/asset-manifest.json"} {
		if _, ok := files[name]; !ok {
			t.Errorf("archive lacks %s", name)
		}
	}
	index := files["index.html"]
	if strings.Contains(index, `src="/a.png"`) || !strings.Contains(index, `src="assets/`) {
		t.Errorf("image not rewritten:\n%s", index)
	}
	if !strings.Contains(index, `src="/missing.png"`) {
		t.Error("unresolved reference was modified")
	}
	if !strings.Contains(index, `src="https://maps.example.net/embed"`) {
		t.Error("third-party iframe was modified")
	}

	var embedded report.Report
	if err := json.Unmarshal([]byte(files["report/fetch-report.json"]), &embedded); err != nil {
		t.Fatal(err)
	}
	if embedded.Stats.ArchiveBytes != int64(len(res.Archive)) || res.Report.Stats.ArchiveBytes != int64(len(res.Archive)) {
		t.Errorf("archive size: embedded %d, report %d, actual %d", embedded.Stats.ArchiveBytes, res.Report.Stats.ArchiveBytes, len(res.Archive))
	}
	found := false
	for _, n := range embedded.Notes {
		found = found || n == noteIframes
	}
	if !found {
		t.Errorf("notes = %v", embedded.Notes)
	}

	wantName := "pagesnap-127.0.0.1-" + strings.TrimPrefix(srv.URL[strings.LastIndex(srv.URL, ":"):], ":") + "-2024-03-05T10-20-30-456Z.zip"
	if res.ArchiveName != wantName {
		t.Errorf("archive name = %q, want %q", res.ArchiveName, wantName)
	}
	onDisk, err := os.ReadFile(filepath.Join(out, wantName))
	if err != nil || !bytes.Equal(onDisk, res.Archive) {
		t.Errorf("archive on disk: %v", err)
	}

	evs := rec.settled(t)
	if len(evs) == 0 || evs[0].Text != textScrolling {
		t.Fatalf("first event = %+v", evs)
	}
	last := evs[len(evs)-1]
	if last.Type != report.EventDone || last.SessionID != res.SessionID {
		t.Errorf("last event = %+v", last)
	}
	var sawFinalProgress bool
	for _, ev := range evs {
		if ev.Type == report.EventProgress && ev.Done == 4 && ev.Total == 4 {
			sawFinalProgress = true
		}
	}
	if !sawFinalProgress {
		t.Error("no final progress event")
	}
}

func TestCapture_SlowSinksDoNotStall(t *testing.T) {
	srv := assetServer(t)
	var hits atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	release := make(chan struct{})
	blocking := NewCallbackSink(func(ctx context.Context, _ report.Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	cfg := testConfig()
	cfg.Limits.MaxDuration = 3 * time.Second
	doc := &fakeDoc{url: srv.URL + "/page", html: fixturePage}
	c, _, rec := newTestCapturer(t, cfg, doc, WithSink(NewWebhookSink(failing.URL, nil)), WithSink(blocking))
	t.Cleanup(func() { close(release) })

	start := time.Now()
	res, err := c.Capture(context.Background(), doc.url)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %s reason = %q: %v", res.State, res.Reason, res.Err())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("capture took %s behind failing sinks", elapsed)
	}
	if evs := rec.settled(t); evs[len(evs)-1].Type != report.EventDone {
		t.Errorf("healthy sink missed the terminal event: %+v", evs[len(evs)-1])
	}

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hits.Load() == 0 {
		t.Error("webhook never called")
	}
}

func TestCapture_Idempotent(t *testing.T) {
	srv := assetServer(t)
	doc := &fakeDoc{url: srv.URL + "/page", html: fixturePage}
	c, _, _ := newTestCapturer(t, testConfig(), doc)

	first, err := c.Capture(context.Background(), doc.url)
	if err != nil || first.State != StateDone {
		t.Fatalf("first: %v %v", err, first.Err())
	}
	second, err := c.Capture(context.Background(), doc.url)
	if err != nil || second.State != StateDone {
		t.Fatalf("second: %v %v", err, second.Err())
	}
	a, b := readZip(t, first.Archive), readZip(t, second.Archive)
	if a["index.html"] != b["index.html"] {
		t.Error("index.html differs between identical captures")
	}
}

func TestCapture_Denylisted(t *testing.T) {
	srv := assetServer(t)
	cfg := testConfig()
	cfg.Denylist = []string{`/127\.0\.0\.1/`}
	doc := &fakeDoc{url: srv.URL + "/page", html: fixturePage}
	c, op, rec := newTestCapturer(t, cfg, doc)

	res, err := c.Capture(context.Background(), doc.url)
	if err != nil {
		t.Fatal(err)
	}
	var se *session.Error
	if res.State != StateFailed || !errors.As(res.Err(), &se) || se.Kind != session.KindGate {
		t.Fatalf("state = %s, err = %v", res.State, res.Err())
	}
	if res.Message != session.MsgEndless || !res.Report.Endless.DeniedByList {
		t.Errorf("result = %+v", res)
	}
	if op.opened.Load() != 0 {
		t.Error("denied target was opened")
	}
	if res.Archive != nil {
		t.Error("archive produced for denied target")
	}
	evs := rec.settled(t)
	if len(evs) != 1 || evs[0].Type != report.EventError || evs[0].Reason != "denylist" {
		t.Errorf("events = %+v", evs)
	}
}

func TestCapture_EmptyDenylistAllowsAll(t *testing.T) {
	cfg := testConfig()
	cfg.Denylist = []string{}
	doc := &fakeDoc{url: "https://www.reddit.com/r/golang/", html: "<html><body>hi</body></html>"}
	c, _, _ := newTestCapturer(t, cfg, doc)

	res, err := c.Capture(context.Background(), doc.url)
	if err != nil || res.State != StateDone {
		t.Fatalf("state = %v, err = %v / %v", res.State, err, res.Err())
	}
	if res.Report.Stats.CoveragePct != 100 || res.Report.Stats.AssetsTotal != 0 {
		t.Errorf("stats = %+v", res.Report.Stats)
	}
}

func TestCapture_AssetCap(t *testing.T) {
	srv := assetServer(t)
	cfg := testConfig()
	cfg.Limits.MaxAssets = 1
	doc := &fakeDoc{url: srv.URL + "/page", html: fixturePage}
	c, _, _ := newTestCapturer(t, cfg, doc)

	res, _ := c.Capture(context.Background(), doc.url)
	if res.State != StateFailed || res.Reason != "asset-cap" || res.Message != session.MsgTooManyAssets {
		t.Fatalf("result = %+v", res)
	}
	if res.Archive != nil {
		t.Error("archive produced past the asset cap")
	}
}

func TestCapture_ByteCap(t *testing.T) {
	srv := assetServer(t)
	cfg := testConfig()
	cfg.Limits.MaxZipMB = 1
	doc := &fakeDoc{url: srv.URL + "/page", html: `<html><body><embed src="/big.bin"></body></html>`}
	c, _, _ := newTestCapturer(t, cfg, doc)

	res, _ := c.Capture(context.Background(), doc.url)
	if res.State != StateFailed || res.Reason != "zip-too-large" || res.Message != session.MsgZipTooLarge {
		t.Fatalf("result = %+v", res)
	}
	if res.Archive != nil {
		t.Error("archive produced past the byte cap")
	}
}

func waitTerminal(t *testing.T, c *Capturer, id string) *Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := c.Status(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if st.State.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s did not end", id)
	return nil
}

func waitState(t *testing.T, c *Capturer, id string, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, _ := c.Status(context.Background(), id)
		if st != nil && st.State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %s", id, want)
}

func TestCapture_StopAndReentry(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxScrollIterations = 1 << 20
	doc := &fakeDoc{url: "https://example.org/feed", html: "<html></html>", grow: true}
	c, _, rec := newTestCapturer(t, cfg, doc)

	st, err := c.Start(context.Background(), doc.url)
	if err != nil {
		t.Fatal(err)
	}
	waitState(t, c, st.ID, StateStabilizing)

	if _, err := c.Start(context.Background(), "HTTPS://EXAMPLE.ORG/feed#top"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start err = %v", err)
	}

	if err := c.Stop(st.ID); err != nil {
		t.Fatal(err)
	}
	end := waitTerminal(t, c, st.ID)
	if end.State != StateStopped || end.Message != session.MsgStopped {
		t.Fatalf("end = %+v", end)
	}
	if err := c.Stop(st.ID); err != nil {
		t.Errorf("stop after end = %v", err)
	}

	terminal := 0
	for _, ev := range rec.settled(t) {
		if ev.Type == report.EventDone || ev.Type == report.EventError {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("terminal events = %d, want 1", terminal)
	}

	// The guard is released: the same target can run again.
	again, err := c.Start(context.Background(), doc.url)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	c.Stop(again.ID)
	waitTerminal(t, c, again.ID)
}

func TestCapture_StabilizeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxDuration = 50 * time.Millisecond
	cfg.Limits.MaxScrollIterations = 1 << 20
	doc := &fakeDoc{url: "https://example.org/endless", html: "<html></html>", grow: true}
	c, _, _ := newTestCapturer(t, cfg, doc)

	res, _ := c.Capture(context.Background(), doc.url)
	if res.State != StateFailed || res.Reason != "timeout" || res.Message != session.MsgTooLong {
		t.Fatalf("result = %+v", res)
	}
	if res.Report.Endless.Stabilized {
		t.Error("timed-out page reported as stabilized")
	}
}

func TestCapture_CancelContext(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxScrollIterations = 1 << 20
	doc := &fakeDoc{url: "https://example.org/endless", html: "<html></html>", grow: true}
	c, _, _ := newTestCapturer(t, cfg, doc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := c.Capture(ctx, doc.url)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateStopped {
		t.Fatalf("state = %s", res.State)
	}
}

func TestCapture_Dependencies(t *testing.T) {
	c := New(testConfig())
	defer c.Close()
	res, err := c.Capture(context.Background(), "https://example.org/")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateFailed || res.Message != session.MsgMissingDep {
		t.Fatalf("missing opener: %+v", res)
	}

	c2, op, _ := newTestCapturer(t, testConfig(), &fakeDoc{}, WithArchiver(nil))
	res, _ = c2.Capture(context.Background(), "https://example.org/")
	if res.State != StateFailed || res.Message != session.MsgMissingDep || op.opened.Load() != 0 {
		t.Fatalf("missing archiver: %+v", res)
	}
}

func TestCapture_LoadError(t *testing.T) {
	c, op, _ := newTestCapturer(t, testConfig(), nil)
	op.err = errors.New("net::ERR_NAME_NOT_RESOLVED")

	res, _ := c.Capture(context.Background(), "https://nowhere.invalid/")
	if res.State != StateFailed || res.Reason != "load" {
		t.Fatalf("result = %+v", res)
	}
}

func TestCapture_BusyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxSessions = 1
	cfg.Limits.MaxScrollIterations = 1 << 20
	doc := &fakeDoc{url: "https://example.org/a", html: "<html></html>", grow: true}
	c, _, _ := newTestCapturer(t, cfg, doc)

	st, err := c.Start(context.Background(), "https://example.org/a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(context.Background(), "https://example.org/b"); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	c.Stop(st.ID)
	waitTerminal(t, c, st.ID)
}

func TestCapture_BusyLimitConcurrentStarts(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxSessions = 2
	cfg.Limits.MaxScrollIterations = 1 << 20
	doc := &fakeDoc{url: "https://example.org/a", html: "<html></html>", grow: true}
	c, _, _ := newTestCapturer(t, cfg, doc)

	var (
		mu      sync.Mutex
		started []string
		busy    int
		wg      sync.WaitGroup
	)
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := c.Start(context.Background(), "https://example.org/page-"+string(rune('a'+i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started = append(started, st.ID)
			case errors.Is(err, ErrBusy):
				busy++
			default:
				t.Errorf("start %d: %v", i, err)
			}
		}()
	}
	wg.Wait()
	if len(started) != 2 || busy != 10 {
		t.Errorf("started %d, busy %d; want 2 and 10", len(started), busy)
	}
	for _, id := range started {
		c.Stop(id)
		waitTerminal(t, c, id)
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	return &store.Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))}
}

func TestCapture_RecordsHistory(t *testing.T) {
	srv := assetServer(t)
	st := testStore(t)
	doc := &fakeDoc{url: srv.URL + "/page", html: fixturePage}
	c, _, _ := newTestCapturer(t, testConfig(), doc, WithStore(st), WithOutputDir(t.TempDir()))

	res, err := c.Capture(context.Background(), doc.url)
	if err != nil || res.State != StateDone {
		t.Fatalf("capture: %v %v", err, res.Err())
	}
	rec, err := st.GetCapture(context.Background(), res.SessionID)
	if err != nil || rec == nil {
		t.Fatalf("GetCapture = %v, %v", rec, err)
	}
	if rec.State != "done" || rec.CoveragePct != 75 || rec.ArchivePath != res.ArchivePath || rec.ArchiveBytes != int64(len(res.Archive)) {
		t.Errorf("record = %+v", rec)
	}

	hist, err := c.History(context.Background(), 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}

	got, err := c.Status(context.Background(), res.SessionID)
	if err != nil || got.State != StateDone || got.Coverage != 75 {
		t.Errorf("status = %+v, %v", got, err)
	}
	if _, err := c.Status(context.Background(), "cap_unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown status err = %v", err)
	}
}

func TestReload(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.SetSetting(ctx, "limits.max_assets", 7); err != nil {
		t.Fatal(err)
	}
	if err := st.AddDenyPattern(ctx, `/blocked\.example/`); err != nil {
		t.Fatal(err)
	}
	base := testConfig()
	c := New(base, WithStore(st))
	defer c.Close()

	if err := c.Reload(ctx, base); err != nil {
		t.Fatal(err)
	}
	cfg := c.Config()
	if cfg.Limits.MaxAssets != 7 || len(cfg.Denylist) != 1 {
		t.Errorf("reloaded config: assets=%d denylist=%v", cfg.Limits.MaxAssets, cfg.Denylist)
	}
	if base.Limits.MaxAssets != 2500 {
		t.Error("base config mutated")
	}

	if err := st.SetSetting(ctx, "limits.nope", 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Reload(ctx, base); err == nil {
		t.Error("unknown setting accepted")
	}
	if c.Config().Limits.MaxAssets != 7 {
		t.Error("failed reload replaced the configuration")
	}
}

func TestMetrics(t *testing.T) {
	srv := assetServer(t)
	m := NewMetrics()
	doc := &fakeDoc{url: srv.URL + "/page", html: fixturePage}
	c, _, _ := newTestCapturer(t, testConfig(), doc, WithMetrics(m))

	if _, err := c.Capture(context.Background(), doc.url); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.started); got != 1 {
		t.Errorf("started = %v", got)
	}
	if got := testutil.ToFloat64(m.finished.WithLabelValues("done", "")); got != 1 {
		t.Errorf("finished{done} = %v", got)
	}
	if got := testutil.ToFloat64(m.active); got != 0 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(m.assets.WithLabelValues("failed")); got != 1 {
		t.Errorf("assets{failed} = %v", got)
	}
}

func TestArchiveName(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 6e6, time.UTC)
	tests := []struct {
		url, want string
	}{
		{"https://Example.com/a?b=c", "pagesnap-example.com-2025-01-02T03-04-05-006Z.zip"},
		{"http://localhost:8080/", "pagesnap-localhost-8080-2025-01-02T03-04-05-006Z.zip"},
		{"https://user@xn--bcher-kva.de/", "pagesnap-xn--bcher-kva.de-2025-01-02T03-04-05-006Z.zip"},
		{"not a url", "pagesnap-page-2025-01-02T03-04-05-006Z.zip"},
	}
	for _, tt := range tests {
		if got := ArchiveName(tt.url, at); got != tt.want {
			t.Errorf("ArchiveName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestOutput_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	o := &Output{Dir: dir}
	path, err := o.Write("a.zip", []byte("zip"))
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(path); string(b) != "zip" {
		t.Errorf("content = %q", b)
	}
	if _, err := o.Write("../escape.zip", nil); err == nil {
		t.Error("path traversal accepted")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("leftover files: %v", entries)
	}
}

func TestWatchSettings(t *testing.T) {
	st := testStore(t)
	base := testConfig()
	c := New(base, WithStore(st))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.WatchSettings(ctx, base, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if err := st.SetSetting(ctx, "limits.max_assets", 9); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Config().Limits.MaxAssets != 9 {
		if time.Now().After(deadline) {
			t.Fatal("settings change was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCheckSetting(t *testing.T) {
	base := testConfig()
	if err := CheckSetting(base, "limits.max_assets", json.RawMessage(`10`)); err != nil {
		t.Errorf("valid setting: %v", err)
	}
	if err := CheckSetting(base, "limits.bogus", json.RawMessage(`10`)); err == nil {
		t.Error("unknown key accepted")
	}
	if err := CheckSetting(base, "browser.stealth", json.RawMessage(`"sideways"`)); err == nil {
		t.Error("invalid value accepted")
	}
	if base.Limits.MaxAssets != 2500 {
		t.Error("base mutated")
	}
	if err := CheckDenyPattern(`/ok\.example/`); err != nil {
		t.Error(err)
	}
	if err := CheckDenyPattern(`/(unclosed/`); err == nil {
		t.Error("broken pattern accepted")
	}
}
