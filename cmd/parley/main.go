// Command parley runs a realtime voice conversation with an AI assistant on
// the local microphone and speaker.
//
// Usage:
//
//	parley -config parley.yaml [-resume <thread-id>]
//	parley -config parley.yaml -threads
//
// While running, single-letter commands on stdin control the session:
// m toggles mute, r forces a response, l starts listening, c reconnects and
// q quits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/store"
)

// shutdownTimeout bounds persisting the thread and stopping the HTTP server.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	resume := flag.String("resume", "", "thread id of a stored conversation to continue")
	listThreads := flag.Bool("threads", false, "list stored conversations and exit")
	flag.Parse()

	// A .env next to the config may carry the API keys.
	envFile := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "parley: load %s: %v\n", envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *resume != "" {
		if err := store.ValidateThreadID(*resume); err != nil {
			slog.Error("invalid -resume value", "err", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Collaborators ─────────────────────────────────────────────────────────
	threads, err := buildStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open thread store", "err", err)
		return 1
	}
	if threads != nil {
		defer threads.Close()
	}
	if *listThreads {
		return printThreads(ctx, threads)
	}

	deps, err := buildCollaborators(cfg, metrics)
	if err != nil {
		slog.Error("failed to set up collaborators", "err", err)
		return 1
	}
	defer deps.close()

	// ── Engine ────────────────────────────────────────────────────────────────
	console := newConsole(os.Stdout)
	opts := []engine.Option{
		engine.WithClassifier(deps.classifier),
		engine.WithDispatcher(deps.dispatcher),
		engine.WithSettings(deps.settings),
		engine.WithMetrics(metrics),
		engine.WithObserver(console.observe),
		engine.WithThread(*resume),
	}
	if threads != nil {
		opts = append(opts, engine.WithStore(threads))
	}
	if cfg.Location != "" {
		opts = append(opts, engine.WithLocation(deps.location))
	}
	eng := engine.New(buildDialer(cfg.Realtime), buildTransport(cfg.Audio), engineConfig(cfg), opts...)

	slog.Info("parley starting",
		"config", *configPath,
		"model", cfg.Realtime.Model,
		"classifier", classifierName(cfg.Classifier),
		"store", cfg.Store.Backend,
		"audio", cfg.Audio.Backend,
		"resume", *resume,
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := newHTTPServer(cfg.Server.ListenAddr, eng, metrics)
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyChanges(eng, level, config.Diff(old, new), new)
	})
	if err != nil {
		slog.Warn("config live reload disabled", "err", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		if err := eng.Connect(gctx); err != nil {
			slog.Error("could not connect", "err", err)
		}
		return nil
	})

	g.Go(func() error { return console.run(gctx, os.Stdin, eng) })
	g.Go(func() error { return console.print(gctx) })

	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	if cerr := eng.Close(); cerr != nil {
		slog.Error("shutdown error", "err", cerr)
		return 1
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errQuit) {
		slog.Error("run error", "err", err)
		return 1
	}
	return 0
}

// ── HTTP ───────────────────────────────────────────────────────────────────────

func newHTTPServer(addr string, eng *engine.Engine, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	health.New(
		[]health.Checker{{Name: "session", Check: eng.Ready}},
		health.WithStatus(func() any { return statusOf(eng.Snapshot()) }),
	).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveHTTP runs srv until ctx is done.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	slog.Info("health and metrics server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// status is the /statusz document.
type status struct {
	State      string `json:"state"`
	Voice      string `json:"voice"`
	Configured bool   `json:"configured"`
	Muted      bool   `json:"muted"`
	ThreadID   string `json:"thread_id,omitempty"`
	Messages   int    `json:"messages"`
	Error      string `json:"error,omitempty"`
	Protocol   string `json:"protocol_error,omitempty"`
}

func statusOf(s engine.Snapshot) status {
	return status{
		State:      s.State.String(),
		Voice:      s.Voice.String(),
		Configured: s.Configured,
		Muted:      s.Muted,
		ThreadID:   s.ThreadID,
		Messages:   len(s.Messages),
		Error:      s.ErrMessage,
		Protocol:   s.ProtocolError,
	}
}

// ── Live reload ────────────────────────────────────────────────────────────────

func applyChanges(eng *engine.Engine, level *slog.LevelVar, c config.Changes, cfg *config.Config) {
	if c.LogLevel {
		level.Set(slogLevel(c.NewLogLevel))
		slog.Info("log level changed", "level", c.NewLogLevel)
	}
	if c.Session {
		if err := eng.UpdateSession(engineConfig(cfg).SessionSettings); err != nil {
			slog.Warn("session settings not applied", "err", err)
		} else {
			slog.Info("session settings updated")
		}
	}
	if len(c.Restart) > 0 {
		slog.Warn("configuration changes take effect after a restart", "sections", c.Restart)
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Threads ────────────────────────────────────────────────────────────────────

func printThreads(ctx context.Context, s store.Store) int {
	if s == nil {
		fmt.Fprintln(os.Stderr, "parley: no thread store configured")
		return 1
	}
	list, err := s.Threads(ctx)
	if err != nil {
		slog.Error("failed to list threads", "err", err)
		return 1
	}
	for _, t := range list {
		state := "open"
		if !t.FinalizedAt.IsZero() {
			state = "finalized"
		}
		fmt.Printf("%s  %s  %4d messages  %s\n", t.ID, t.UpdatedAt.Local().Format(time.DateTime), t.Messages, state)
	}
	return 0
}
