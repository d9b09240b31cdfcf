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

	app "github.com/kode4food/stepflow"
	"github.com/kode4food/stepflow/internal/config"
	"github.com/kode4food/stepflow/internal/engine"
	"github.com/kode4food/stepflow/internal/invoker"
	"github.com/kode4food/stepflow/internal/manifest"
	"github.com/kode4food/stepflow/internal/registry"
	"github.com/kode4food/stepflow/internal/server"
	"github.com/kode4food/stepflow/internal/state"
	"github.com/kode4food/stepflow/pkg/log"
)

type stepflow struct {
	cfg        *config.Config
	store      state.Store
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrOpenStateStore = errors.New("failed to open state store")
	ErrLoadManifest   = errors.New("failed to load steps manifest")
	ErrRegisterStep   = errors.New("failed to register step")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &stepflow{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *stepflow) run() error {
	if err := s.initializeStore(); err != nil {
		return err
	}

	if err := s.initializeEngine(); err != nil {
		_ = s.store.Close()
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *stepflow) setupLogging() {
	level := log.ParseLevel(s.cfg.LogLevel)

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Stepflow starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("steps_manifest", s.cfg.StepsManifest),
		slog.String("runners_dir", s.cfg.RunnersDir),
		slog.String("state_adapter", s.cfg.State.Adapter),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *stepflow) initializeStore() error {
	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	store, err := state.Open(ctx, s.cfg.State)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenStateStore, err)
	}
	s.store = store
	return nil
}

func (s *stepflow) initializeEngine() error {
	m, err := manifest.Load(s.cfg.StepsManifest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadManifest, err)
	}

	reg := registry.New()
	for _, step := range m.Steps {
		if err := reg.CreateStep(step); err != nil {
			return fmt.Errorf("%w: %w", ErrRegisterStep, err)
		}
	}

	runners := invoker.DefaultRunners(s.cfg.RunnersDir)
	s.engine = engine.New(reg, runners, s.store,
		engine.WithLogger(log.NewLogger(slog.Default())),
	)
	return s.engine.Start()
}

func (s *stepflow) startServer() {
	s.apiServer = server.NewServer(s.engine)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *stepflow) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()
	s.engine.Stop()

	if err := s.store.Close(); err != nil {
		slog.Error("State store close failed", log.Error(err))
	}

	slog.Info("Server exited")
}
