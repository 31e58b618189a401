// CLAUDE:SUMMARY CLI entry point for pagesnap: one-shot capture, HTTP control server, MCP over stdio, settings and denylist edits.
// Command pagesnap captures web pages into self-contained offline ZIP archives.
//
// Usage:
//
//	pagesnap -url https://example.com/article          # capture once, write the ZIP to -out
//	pagesnap -config pagesnap.yaml -serve              # HTTP control API (+ MCP over stdio with -mcp)
//	pagesnap -config pagesnap.yaml -mcp                # MCP tools over stdio
//	pagesnap -config pagesnap.yaml -history            # recent captures
//	pagesnap -config pagesnap.yaml -deny '/feed\.example/'
//	pagesnap -config pagesnap.yaml -set limits.max_assets=500
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesnap/capture"
)

const version = "0.4.0"

var errUsage = errors.New("usage: pagesnap -url <url> | -serve | -mcp | -history | -deny <re> | -allow <re> | -set key=value  [-config <file>]")

type options struct {
	configPath string
	url        string
	out        string
	serve      bool
	mcp        bool
	history    bool
	deny       string
	allow      string
	set        string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to pagesnap.yaml config file")
	flag.StringVar(&o.url, "url", "", "capture a single URL and exit")
	flag.StringVar(&o.out, "out", "", "output directory for archives (overrides output.dir)")
	flag.BoolVar(&o.serve, "serve", false, "run the HTTP control API")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	flag.BoolVar(&o.history, "history", false, "list recent captures and exit")
	flag.StringVar(&o.deny, "deny", "", "add a denylist pattern to the database and exit")
	flag.StringVar(&o.allow, "allow", "", "remove a denylist pattern from the database and exit")
	flag.StringVar(&o.set, "set", "", "store a setting override key=json and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Error("pagesnap: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	base, err := resolveConfig(o)
	if err != nil {
		return err
	}

	var st *capture.Store
	if base.DB != "" {
		st, err = capture.OpenStore(base.DB)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer st.Close()
	}

	switch {
	case o.deny != "", o.allow != "", o.set != "":
		return runAdmin(ctx, st, base, o)
	case o.history:
		return runHistory(ctx, st)
	case o.url != "":
		return runOnce(ctx, logger, base, st, o.url)
	case o.serve || o.mcp:
		return runServer(ctx, logger, base, st, o)
	}

	return errUsage
}

func resolveConfig(o options) (*capture.Config, error) {
	cfg := capture.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = capture.LoadConfigFile(o.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.out != "" {
		cfg.Output.Dir = o.out
	}
	return cfg, nil
}

// newCapturer wires the browser, sinks, store and metrics into a Capturer
// with the store overrides applied.
func newCapturer(ctx context.Context, logger *slog.Logger, base *capture.Config, st *capture.Store, metrics *capture.Metrics) (*capture.Capturer, *capture.Browser, error) {
	cfg := base
	if st != nil {
		if n, err := st.MarkInterrupted(ctx); err != nil {
			return nil, nil, fmt.Errorf("mark interrupted: %w", err)
		} else if n > 0 {
			logger.Warn("pagesnap: captures interrupted by a previous shutdown", "count", n)
		}
		var err error
		if cfg, err = capture.LoadStoreOverrides(ctx, st, base); err != nil {
			return nil, nil, fmt.Errorf("settings: %w", err)
		}
	}

	br, err := capture.NewBrowser(cfg.Browser, logger)
	if err != nil {
		return nil, nil, err
	}
	sinks, err := capture.BuildSinks(cfg.Sinks, logger)
	if err != nil {
		br.Close()
		return nil, nil, err
	}

	opts := []capture.Option{
		capture.WithBrowser(br),
		capture.WithOutputDir(cfg.Output.Dir),
		capture.WithLogger(logger),
	}
	for _, s := range sinks {
		opts = append(opts, capture.WithSink(s))
	}
	if st != nil {
		opts = append(opts, capture.WithStore(st))
	}
	if metrics != nil {
		opts = append(opts, capture.WithMetrics(metrics))
	}
	return capture.New(cfg, opts...), br, nil
}

func runOnce(ctx context.Context, logger *slog.Logger, base *capture.Config, st *capture.Store, target string) error {
	c, br, err := newCapturer(ctx, logger, base, st, nil)
	if err != nil {
		return err
	}
	defer br.Close()
	defer c.Close()

	res, err := c.Capture(ctx, target)
	if err != nil {
		return err
	}
	printResult(res)
	if res.State != capture.StateDone {
		return fmt.Errorf("capture %s: %s", res.State, res.Reason)
	}
	return nil
}

func printResult(res *capture.Result) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	switch res.State {
	case capture.StateDone:
		green.Printf("✔ %s\n", res.URL)
	case capture.StateStopped:
		yellow.Printf("■ %s: %s\n", res.URL, res.Message)
		return
	default:
		red.Printf("✘ %s: %s\n", res.URL, res.Message)
		if res.Reason != "" {
			fmt.Printf("  reason: %s\n", res.Reason)
		}
		return
	}

	s := res.Report.Stats
	bold.Printf("  %s\n", res.ArchivePath)
	cov := green
	if s.CoveragePct < 90 {
		cov = yellow
	}
	if s.CoveragePct < 50 {
		cov = red
	}
	fmt.Printf("  assets   %d downloaded, %d failed, %d skipped\n", s.AssetsDownloaded, s.AssetsFailed, s.AssetsSkipped)
	cov.Printf("  coverage %d%%\n", s.CoveragePct)
	fmt.Printf("  size     %.1f KiB in %s\n", float64(s.ArchiveBytes)/1024, time.Duration(s.DurationMs)*time.Millisecond)
	for _, n := range res.Report.Notes {
		yellow.Printf("  note: %s\n", n)
	}
}

func runServer(ctx context.Context, logger *slog.Logger, base *capture.Config, st *capture.Store, o options) error {
	metrics := capture.NewMetrics()
	c, br, err := newCapturer(ctx, logger, base, st, metrics)
	if err != nil {
		return err
	}
	defer br.Close()
	defer c.Close()

	go c.WatchSettings(ctx, base, 2*time.Second)

	errc := make(chan error, 2)
	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "pagesnap", Version: version}, nil)
		c.RegisterMCP(srv)
		go func() {
			logger.Info("pagesnap: MCP on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	if o.serve {
		addr := c.Config().Server.Addr
		hs := &http.Server{
			Addr:              addr,
			Handler:           c.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("pagesnap: HTTP listening", "addr", addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			hs.Shutdown(shutdownCtx)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("pagesnap: shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

func runHistory(ctx context.Context, st *capture.Store) error {
	if st == nil {
		return errors.New("history needs a database (db: in the config file)")
	}
	recs, err := st.ListCaptures(ctx, 50)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func runAdmin(ctx context.Context, st *capture.Store, base *capture.Config, o options) error {
	if st == nil {
		return errors.New("settings need a database (db: in the config file)")
	}
	if o.deny != "" {
		if err := capture.CheckDenyPattern(o.deny); err != nil {
			return err
		}
		if err := st.AddDenyPattern(ctx, o.deny); err != nil {
			return err
		}
	}
	if o.allow != "" {
		if err := st.RemoveDenyPattern(ctx, o.allow); err != nil {
			return err
		}
	}
	if o.set != "" {
		key, value, ok := strings.Cut(o.set, "=")
		if !ok || key == "" {
			return fmt.Errorf("-set wants key=value, got %q", o.set)
		}
		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			raw, _ = json.Marshal(value)
		}
		if err := capture.CheckSetting(base, key, raw); err != nil {
			return err
		}
		if err := st.SetSetting(ctx, key, raw); err != nil {
			return err
		}
	}
	return nil
}
