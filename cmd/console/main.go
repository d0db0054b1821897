// console keeps a realtime session to the studio backend open, tracks
// crawl, generation and tagging jobs, and prints pushed logs and job
// changes.
//
// Usage: go run ./cmd/console --config configs/console.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/studio-console/internal/api"
	"github.com/rickgao/studio-console/internal/config"
	"github.com/rickgao/studio-console/internal/database"
	"github.com/rickgao/studio-console/internal/metrics"
	"github.com/rickgao/studio-console/internal/model"
	"github.com/rickgao/studio-console/internal/poller"
	"github.com/rickgao/studio-console/internal/protocol"
	"github.com/rickgao/studio-console/internal/router"
	"github.com/rickgao/studio-console/internal/session"
	"github.com/rickgao/studio-console/internal/tasks"
	"github.com/rickgao/studio-console/internal/version"
	"github.com/rickgao/studio-console/internal/writer"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/console.yaml", "path to config file")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := pflag.Bool("log-json", false, "log as JSON instead of text")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger, err := newLogger(*logLevel, *logJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting console",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logger.With("instance_id", cfg.Instance.ID)

	logger.Info("configuration loaded",
		"api_url", cfg.API.RestURL,
		"ws_url", cfg.API.WSURL,
		"history", cfg.Database.History.Enabled(),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("console failed", "error", err)
		os.Exit(1)
	}
	logger.Info("console stopped")
}

func newLogger(level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

func run(cfg *config.ConsoleConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	apiClient := api.FromConfig(cfg.API, api.WithLogger(logger.With("component", "api")))

	svc := session.New(session.FromConfig(cfg), logger)
	defer svc.Close()

	tracker := tasks.NewTracker(tasks.DefaultConfig(), logger.With("component", "tasks"))
	tracker.Attach(svc)
	defer tracker.Close()

	pushes := printPushes(svc, logger)
	defer unsubscribeAll(pushes)

	// Optional history journal
	var pool *pgxpool.Pool
	var history *writer.HistoryWriter
	if db := cfg.Database.History; db.Enabled() {
		logger.Info("connecting to history database", "host", db.Host, "port", db.Port, "database", db.Name)

		var err error
		pool, err = database.Open(ctx, db)
		if err != nil {
			return fmt.Errorf("history database: %w", err)
		}
		defer pool.Close()

		history = writer.NewHistoryWriter(writer.Config{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			BufferSize:    cfg.History.BufferSize,
			MaxBuffer:     cfg.History.MaxBuffer,
		}, pool, svc.ConnectionID, logger.With("component", "history"))
		history.Attach(svc)
		if err := history.Start(ctx); err != nil {
			return fmt.Errorf("start history writer: %w", err)
		}
	}

	// Seed the tracker before the first push arrives; pushes win afterwards.
	syncCtx, syncCancel := context.WithTimeout(ctx, cfg.API.Timeout)
	if err := tracker.Sync(syncCtx, apiClient); err != nil {
		logger.Warn("initial job sync failed", "error", err)
	}
	syncCancel()

	svc.Connect(cfg.API.WSURL)

	statusPoller := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
	}, svc, apiClient, tracker, logger.With("component", "poller"))
	if err := statusPoller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	sources := metrics.Sources{
		Connection: svc.Manager().Stats,
		Registry:   svc.Registry().Stats,
		Tasks:      tracker.Stats,
		Poller:     statusPoller.Stats,
	}
	if history != nil {
		sources.History = history.Stats
	}
	if err := metrics.Register(metrics.Config{
		ConstLabels: map[string]string{"instance": cfg.Instance.ID},
	}, sources); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var server *http.Server
	if cfg.Metrics.IsEnabled() {
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           newHandler(cfg.Metrics.Path, svc, tracker, historyPinger(pool)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Metrics.Port)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logChanges(gctx, tracker, logger)
		return nil
	})

	logger.Info("console running", "connection_state", svc.State().String())

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		statusPoller.Stop(shutdownCtx)
		svc.Disconnect()
		if history != nil {
			if err := history.Stop(shutdownCtx); err != nil {
				logger.Warn("history writer stop", "error", err)
			}
		}
		if server != nil {
			server.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

func historyPinger(pool *pgxpool.Pool) pinger {
	if pool == nil {
		return nil
	}
	return pool
}

// printPushes logs pushed log lines and system status until the returned
// subscriptions are released.
func printPushes(s tasks.Subscriber, logger *slog.Logger) []router.Subscription {
	pushLog := logger.With("component", "push")
	subs := make([]router.Subscription, 0, 3)

	subs = append(subs, s.Subscribe(protocol.TypeGlobalLog, func(env protocol.Envelope) {
		m, err := model.DecodeGlobalLog(env, time.Now())
		if err != nil {
			return
		}
		pushLog.Log(context.Background(), levelOf(m.Level), m.Message, "source", "global")
	}))

	subs = append(subs, s.Subscribe(protocol.TypeLogMessage, func(env protocol.Envelope) {
		m, err := model.DecodeLogMessage(env, time.Now())
		if err != nil {
			return
		}
		pushLog.Log(context.Background(), levelOf(m.Level), m.Message, "task_id", m.TaskID)
	}))

	subs = append(subs, s.Subscribe(protocol.TypeSystemStatus, func(env protocol.Envelope) {
		st, err := model.DecodeSystemStatus(env, time.Now())
		if err != nil {
			return
		}
		pushLog.Info("system status",
			"status", st.Status,
			"active_tasks", st.ActiveTasks,
			"queued_tasks", st.QueuedTasks,
			"cpu_percent", st.CPUPercent,
			"memory_percent", st.MemPercent,
		)
	}))
	return subs
}

func unsubscribeAll(subs []router.Subscription) {
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func levelOf(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// logChanges reports job transitions until ctx is done.
func logChanges(ctx context.Context, tracker *tasks.Tracker, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-tracker.Changes():
			if !ok {
				return
			}
			logger.Info("job "+c.EventType,
				"task_id", c.TaskID,
				"kind", c.Task.Kind,
				"status", c.NewStatus,
				"progress", c.Task.Progress,
			)
		}
	}
}
