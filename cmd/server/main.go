package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/dfaulken/rules/internal/config"
	"github.com/dfaulken/rules/internal/database"
	"github.com/dfaulken/rules/internal/logger"
	"github.com/dfaulken/rules/internal/metrics"
	"github.com/dfaulken/rules/rules"
)

type Server struct {
	db             *database.Handle
	engine         *rules.Engine
	engineConfig   rules.EngineConfig
	metrics        *metrics.Collector
	router         *chi.Mux
	requestTimeout time.Duration

	mu      sync.Mutex
	lastRun *RunSummary
}

// NewServer wires the engine and metrics over an open store.
func NewServer(db *database.Handle, engineConfig rules.EngineConfig, requestTimeout time.Duration) (*Server, error) {
	engine, err := rules.NewEngineWithConfig(db.Store, engineConfig)
	if err != nil {
		return nil, err
	}

	if requestTimeout == 0 {
		requestTimeout = config.DefaultRequestTimeout
	}

	s := &Server{
		db:             db,
		engine:         engine,
		engineConfig:   engineConfig,
		metrics:        metrics.NewCollector(prometheus.NewRegistry()),
		requestTimeout: requestTimeout,
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Rule management
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{ruleId}", s.handleGetRule)
			r.Put("/{ruleId}", s.handleUpdateRule)
			r.Delete("/{ruleId}", s.handleDeleteRule)
		})

		// Lines
		r.Post("/source-lines", s.handleCreateSourceLine)
		r.Get("/source-lines", s.handleListSourceLines)
		r.Get("/output-lines", s.handleListOutputLines)

		// Evaluation
		r.Post("/runs", s.handleRun)
		r.Post("/preview", s.handlePreview)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// runOnce runs the engine and records the outcome for metrics and health.
func (s *Server) runOnce(ctx context.Context) (*rules.RunReport, error) {
	report, err := s.engine.Run(ctx)
	aborted := runAborted(err)

	s.metrics.ObserveRun(report, aborted)
	s.refreshBacklog(ctx)

	s.mu.Lock()
	s.lastRun = &RunSummary{
		FinishedAt:  report.FinishedAt,
		Transformed: report.Transformed,
		RuleErrors:  len(report.Errors),
		Aborted:     aborted,
	}
	s.mu.Unlock()

	return report, err
}

func (s *Server) refreshBacklog(ctx context.Context) {
	active, err := s.db.Store.ListActiveRules(ctx)
	if err != nil {
		logger.Warn("failed to count active rules", "error", err)
		return
	}
	pending, err := s.db.Store.ListUnprocessed(ctx)
	if err != nil {
		logger.Warn("failed to count unprocessed lines", "error", err)
		return
	}
	s.metrics.SetBacklog(len(active), len(pending))
}

func (s *Server) lastRunSummary() *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// runAborted reports whether err stopped a run early, as opposed to the
// joined rule errors of a run that visited every line.
func runAborted(err error) bool {
	var pe *rules.PersistenceError
	return errors.As(err, &pe) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// startScheduler runs the engine on a cron schedule. A tick that fires while
// the previous run is still going is skipped.
func startScheduler(spec string, s *Server, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.runOnce(ctx); err != nil && runAborted(err) {
			logger.Error("scheduled run aborted", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func main() {
	configPath := flag.String("config", os.Getenv("RULES_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	logger.SetLevelFromString(cfg.Log.Level)
	logger.SetSampleRate(cfg.Log.SampleRate)

	engineConfig, err := cfg.EngineConfig()
	if err != nil {
		logger.Fatal("invalid engine configuration", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.Open(ctx, cfg.Database)
	cancel()
	if err != nil {
		logger.Fatal("failed to open store", "driver", cfg.Database.Driver, "error", err)
	}
	defer db.Close()

	server, err := NewServer(db, engineConfig, cfg.Server.RequestTimeout)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	server.refreshBacklog(context.Background())

	var scheduler *cron.Cron
	if cfg.Engine.Schedule != "" {
		scheduler, err = startScheduler(cfg.Engine.Schedule, server, cfg.Server.RequestTimeout)
		if err != nil {
			logger.Fatal("invalid schedule", "schedule", cfg.Engine.Schedule, "error", err)
		}
		logger.Info("scheduled runs enabled", "schedule", cfg.Engine.Schedule)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting",
			"port", cfg.Server.Port,
			"driver", db.Driver,
			"strategy", engineConfig.Strategy.Name())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduled run still in progress at shutdown")
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
