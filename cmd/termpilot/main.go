// Command termpilot runs the session orchestration service: it spawns
// agent CLI processes on ptys, routes prompts to them, and detects when
// each turn finishes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/termpilot/termpilot/internal/api"
	"github.com/termpilot/termpilot/internal/common/config"
	"github.com/termpilot/termpilot/internal/common/logger"
	"github.com/termpilot/termpilot/internal/db"
	"github.com/termpilot/termpilot/internal/dispatch"
	"github.com/termpilot/termpilot/internal/events/bus"
	"github.com/termpilot/termpilot/internal/executor"
	"github.com/termpilot/termpilot/internal/lifecycle"
	"github.com/termpilot/termpilot/internal/session"
	sessionstore "github.com/termpilot/termpilot/internal/session/store"
	"github.com/termpilot/termpilot/internal/terminal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "termpilot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	pool, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = pool.Close() }()

	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer eventBus.Close()

	procStore, err := lifecycle.NewStore(pool)
	if err != nil {
		return err
	}
	procs := lifecycle.NewRegistry(procStore, log, cfg.Session.TerminateTimeout())

	sessStore, err := sessionstore.New(pool)
	if err != nil {
		return err
	}

	routes := dispatch.NewRegistry(log)
	spawner := terminal.NewSpawner(cfg.Agent, log)
	sessions := session.NewManager(cfg.Session, sessStore, spawner, procs, routes, eventBus, log)

	exec := executor.New(cfg.Execution, cfg.Detection, routes, func(id string) (executor.OutputTailer, error) {
		return sessions.Process(id)
	}, executor.PassthroughResolver{}, sessions, eventBus, log)
	exec.SetActiveLookup(func() (string, bool) {
		snap, ok := sessions.Active()
		return snap.ID, ok
	})
	chains := executor.NewChainRunner(exec, cfg.Execution, log)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sweep orphans from the previous run and bring persisted sessions back
	// before accepting requests.
	if err := sessions.Restore(rootCtx); err != nil {
		return fmt.Errorf("restoring sessions: %w", err)
	}

	router := api.NewRouter(sessions, exec, chains, routes, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		chains.Start(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown failed")
		}
		sessions.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}
