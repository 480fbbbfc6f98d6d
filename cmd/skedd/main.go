// Command skedd runs a sked engine as a standalone daemon: it opens the
// configured store, registers the built-in maintenance jobs, and runs
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/runelab/sked"
	"github.com/runelab/sked/audit"
	"github.com/runelab/sked/engine"
	"github.com/runelab/sked/job"
	"github.com/runelab/sked/observability"
	"github.com/runelab/sked/store/postgres"
	"github.com/runelab/sked/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "skedd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLogger := newLogger(cfg)
	defer closeLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	engCfg := sked.DefaultConfig()
	engCfg.PollInterval = cfg.PollInterval
	engCfg.Concurrency = cfg.Concurrency
	engCfg.DefaultMaxAttempts = cfg.MaxAttempts

	eng, err := engine.New(store,
		engine.WithConfig(engCfg),
		engine.WithLogger(logger),
		engine.WithHook(observability.NewMetricsHook()),
		engine.WithHook(audit.New(slogRecorder(logger), audit.WithLogger(logger))),
	)
	if err != nil {
		return err
	}

	registerBuiltins(eng, logger)
	if err := scheduleHeartbeat(ctx, eng, cfg.HeartbeatEvery); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Start(gctx); err != nil {
			return err
		}
		logger.Info("skedd started",
			slog.String("store", cfg.Store),
			slog.Duration("poll_interval", cfg.PollInterval),
			slog.Int("concurrency", cfg.Concurrency),
		)
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("skedd shutting down")
	if err := eng.Stop(context.Background()); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}

// newLogger builds the daemon logger: tinted console output, plus a
// rotated JSON file when SKEDD_LOG_FILE is set.
func newLogger(cfg config) (*slog.Logger, func()) {
	level := levelFromString(cfg.Log.ConsoleLevel)

	timeFormat := time.RFC3339
	if cfg.Env == "dev" {
		timeFormat = time.Kitchen
	}
	console := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: timeFormat,
	})

	if cfg.Log.File == "" {
		return slog.New(console), func() {}
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	file := slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{Level: slog.LevelDebug})

	return slog.New(multiHandler{console, file}), func() { _ = fileWriter.Close() }
}

func levelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// multiHandler fans records out to every handler.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}

// slogRecorder writes audit events to the daemon log. Deployments with
// a real audit trail swap in their own Recorder.
func slogRecorder(logger *slog.Logger) audit.RecorderFunc {
	return func(_ context.Context, evt *audit.Event) error {
		logger.Info("audit",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
		)
		return nil
	}
}

func openStore(ctx context.Context, cfg config, logger *slog.Logger) (job.Store, error) {
	switch cfg.Store {
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		return sqlite.Open(cfg.SQLitePath, sqlite.WithLogger(logger))
	}
}

// registerBuiltins installs the handlers every skedd instance carries.
func registerBuiltins(eng *engine.Engine, logger *slog.Logger) {
	type heartbeat struct {
		Node string `json:"node"`
	}
	engine.Register(eng, job.NewDefinition("skedd.heartbeat", func(_ context.Context, p heartbeat) error {
		logger.Info("heartbeat", slog.String("node", p.Node))
		return nil
	}))
}

// scheduleHeartbeat submits the recurring liveness job, tolerating the
// job already existing from a previous run of the daemon.
func scheduleHeartbeat(ctx context.Context, eng *engine.Engine, every string) error {
	existing, err := eng.ListJobs(ctx, job.Filter{})
	if err != nil {
		return err
	}
	for _, j := range existing {
		if j.Name == "skedd.heartbeat" {
			return nil
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	_, err = engine.Submit(ctx, eng, "skedd.heartbeat",
		struct {
			Node string `json:"node"`
		}{Node: hostname},
		job.WithSchedule(every),
	)
	return err
}
