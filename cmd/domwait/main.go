// Command domwait waits for DOM changes described by a scenario file and
// reports each recognizer's outcome to the configured sinks.
//
// Usage:
//
//	domwait -config scenario.yaml                                 # live page in Chrome
//	domwait -config scenario.yaml -record run1                    # live, also writes run1.html + run1.jsonl
//	domwait -config scenario.yaml -html run1.html -replay run1.jsonl   # offline replay
//	domwait -config scenario.yaml -db recognizers.db              # add recognizers stored in SQLite
//
// The exit status is 1 when any recognizer timed out.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hazyhaar/domwait"
	"github.com/hazyhaar/domwait/internal/browser"
	"github.com/hazyhaar/domwait/internal/cdp"
	"github.com/hazyhaar/domwait/internal/config"
	"github.com/hazyhaar/domwait/internal/dbopen"
	"github.com/hazyhaar/domwait/internal/debugapi"
	"github.com/hazyhaar/domwait/internal/htmldom"
	"github.com/hazyhaar/domwait/internal/sink"
	"github.com/hazyhaar/domwait/mutation"
	"github.com/hazyhaar/domwait/recognize"
)

type options struct {
	config string
	html   string
	replay string
	record string
	db     string
	grace  time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "path to scenario YAML file")
	flag.StringVar(&o.html, "html", "", "replay: initial page HTML")
	flag.StringVar(&o.replay, "replay", "", "replay: JSON-lines mutation batches")
	flag.StringVar(&o.record, "record", "", "live: write <prefix>.html and <prefix>.jsonl")
	flag.StringVar(&o.db, "db", "", "SQLite database with stored recognizers")
	flag.DurationVar(&o.grace, "grace", 500*time.Millisecond, "replay: wait after the last batch")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.config == "" {
		fmt.Fprintln(os.Stderr, "usage: domwait -config <file> [-html <file> -replay <file>] [-record <prefix>] [-db <file>]")
		os.Exit(2)
	}
	if err := run(ctx, logger, o); err != nil {
		if errors.Is(err, domwait.ErrUnrecognized) {
			logger.Warn("domwait: finished with timeouts", "error", err)
		} else {
			logger.Error("domwait: fatal", "error", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(ctx, o)
	if err != nil {
		return err
	}

	out, err := sink.FromConfig(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	defer out.Close()

	reg := recognize.NewRegistry()
	if cfg.DebugAddr != "" {
		srv := debugapi.New(reg, logger)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.DebugAddr); err != nil {
				logger.Error("domwait: debug api stopped", "error", err)
			}
		}()
	}

	if o.html != "" || o.replay != "" {
		return runReplay(ctx, logger, cfg, out, reg, o)
	}
	return runLive(ctx, logger, cfg, out, reg, o)
}

func loadConfig(ctx context.Context, o options) (*config.Config, error) {
	cfg, err := config.LoadFile(o.config)
	if err != nil {
		return nil, err
	}
	if o.db != "" {
		db, err := dbopen.Open(o.db, dbopen.WithSchema(config.Schema))
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		defer db.Close()
		stored, err := config.LoadRecognizers(ctx, db)
		if err != nil {
			return nil, err
		}
		cfg.Merge(stored)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runReplay(ctx context.Context, logger *slog.Logger, cfg *config.Config, out sink.Sink, reg *recognize.Registry, o options) error {
	if o.html == "" || o.replay == "" {
		return errors.New("domwait: replay needs both -html and -replay")
	}
	f, err := os.Open(o.html)
	if err != nil {
		return fmt.Errorf("domwait: %w", err)
	}
	doc, err := htmldom.Parse(f)
	f.Close()
	if err != nil {
		return err
	}

	bf, err := os.Open(o.replay)
	if err != nil {
		return fmt.Errorf("domwait: %w", err)
	}
	batches, err := mutation.ReadBatches(bf)
	bf.Close()
	if err != nil {
		return err
	}

	r := domwait.NewRunner(doc, doc.Resolve, out,
		domwait.WithRegistry(reg),
		domwait.WithXPath(htmldom.PathOf),
		domwait.WithGrace(o.grace),
		domwait.WithLogger(logger),
	)
	_, err = r.Run(ctx, cfg.Recognizers, func(ctx context.Context) error {
		for _, b := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := doc.Apply(b); err != nil {
				logger.Warn("domwait: replay entry skipped", "batch", b.ID, "seq", b.Seq, "error", err)
			}
		}
		logger.Info("domwait: replay done", "batches", len(batches))
		return nil
	})
	return err
}

func runLive(ctx context.Context, logger *slog.Logger, cfg *config.Config, out sink.Sink, reg *recognize.Registry, o options) error {
	if cfg.URL == "" {
		return errors.New("domwait: live mode needs url in the scenario")
	}
	b, err := browser.Launch(ctx, browser.Config{
		Remote:  cfg.Browser.Remote,
		Headful: cfg.Browser.Headful,
		Stealth: cfg.Browser.StealthEnabled(),
		Block:   cfg.Browser.Block,
		Timeout: cfg.Browser.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	tab, err := b.Open(ctx, cfg.URL)
	if err != nil {
		return err
	}
	defer tab.Close()

	hostCfg := cdp.Config{
		Window:    cfg.Debounce.Window,
		MaxBuffer: cfg.Debounce.MaxBuffer,
		PageID:    tab.ID,
		Logger:    logger,
	}
	if o.record != "" {
		rec, err := startRecording(ctx, tab, o.record, logger)
		if err != nil {
			return err
		}
		defer rec.Close()
		hostCfg.Recorder = rec.write
	}

	host, err := cdp.Attach(ctx, tab.Page, hostCfg)
	if err != nil {
		return err
	}
	defer host.Close()

	r := domwait.NewRunner(host, host.Resolve, out,
		domwait.WithRegistry(reg),
		domwait.WithXPath(cdp.PathOf),
		domwait.WithLogger(logger),
	)
	_, err = r.Run(ctx, cfg.Recognizers, nil)
	return err
}

// recording writes the page as first seen and every batch after it, in the
// format -html and -replay read back.
type recording struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	logger *slog.Logger
}

func startRecording(ctx context.Context, tab *browser.Tab, prefix string, logger *slog.Logger) (*recording, error) {
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(prefix+".html", []byte(html), 0o644); err != nil {
		return nil, fmt.Errorf("domwait: record: %w", err)
	}
	f, err := os.Create(prefix + ".jsonl")
	if err != nil {
		return nil, fmt.Errorf("domwait: record: %w", err)
	}
	logger.Info("domwait: recording", "html", prefix+".html", "batches", prefix+".jsonl")
	return &recording{f: f, enc: json.NewEncoder(f), logger: logger}, nil
}

func (r *recording) write(b mutation.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(b); err != nil {
		r.logger.Warn("domwait: record batch failed", "batch", b.ID, "error", err)
	}
}

func (r *recording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
