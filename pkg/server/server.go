// Package server wires the registry, lifecycle controller, proxy
// forwarder, reaper, and admin/telemetry surfaces into a single HTTP
// server with a managed start/shutdown lifecycle.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"ember-gateway/ember/pkg/admission"
	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/configwatch"
	"ember-gateway/ember/pkg/eventlog"
	"ember-gateway/ember/pkg/lifecycle"
	"ember-gateway/ember/pkg/proxy"
	"ember-gateway/ember/pkg/proxy/handlers"
	"ember-gateway/ember/pkg/proxy/middleware"
	"ember-gateway/ember/pkg/reaper"
	"ember-gateway/ember/pkg/registry"
	"ember-gateway/ember/pkg/supervisor"
	"ember-gateway/ember/pkg/telemetry/health"
	"ember-gateway/ember/pkg/telemetry/metrics"
	"ember-gateway/ember/pkg/telemetry/tracing"
)

// ErrListenPortConflict is returned by Start when the gateway's own
// listen address is already bound by another process. The CLI maps this
// to exit code 2, distinct from a generic fatal config/startup error.
var ErrListenPortConflict = errors.New("gateway listen address already in use")

// Server is the gateway's top-level HTTP server. It owns the lifetime of
// every long-running collaborator (reaper, event log, config watcher) in
// addition to the http.Server itself.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time

	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	controller *lifecycle.Controller
	reaper     *reaper.Reaper
	forwarder  *proxy.Forwarder
	events     *eventlog.EventLog
	watcher    *configwatch.Watcher
	health     *health.Checker
	watchCfgPath string

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// Options carries the server's optional collaborators: an admission hook
// for gating client requests, and the config file path to watch for hot
// reload (empty disables watching).
type Options struct {
	AdmissionHook admission.Hook
	ConfigPath    string
	WatchConfig   bool
	Tracer        *tracing.Tracer
}

// New builds a Server from cfg. It does not start listening; call Start
// for that. A nil logger falls back to slog.Default().
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(cfg)
	sup := supervisor.New(logger).WithTracer(opts.Tracer)

	var events *eventlog.EventLog
	var sink lifecycle.EventSink
	if cfg.EventLog.Enabled {
		var err error
		events, err = eventlog.Open(cfg.EventLog.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		sink = events
	}

	ctrl := lifecycle.New(logger, reg, sup, cfg, sink)
	rp := reaper.New(logger, reg, ctrl, func() *config.Config { return cfg })
	promMetrics := metrics.New(reg)
	fwd := proxy.New(logger, reg, ctrl, cfg.Proxy.MaxRequestBodyBytes, opts.AdmissionHook, promMetrics.Request, cfg.Queue.RequestTimeout, cfg.Lifecycle.TransportFailureThreshold).WithTracer(opts.Tracer)

	checker := health.New(5 * time.Second)
	checker.RegisterCheck("models", func(ctx context.Context) error {
		snaps := reg.Snapshot()
		if len(snaps) == 0 {
			return nil
		}
		for _, snap := range snaps {
			if snap.State != registry.StateFailed {
				return nil
			}
		}
		return fmt.Errorf("every configured model is in the failed state")
	})
	if events != nil {
		checker.RegisterCheck("event_log", events.Ping)
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		startedAt:    time.Now(),
		registry:     reg,
		supervisor:   sup,
		controller:   ctrl,
		reaper:       rp,
		forwarder:    fwd,
		events:       events,
		health:       checker,
		watchCfgPath: opts.ConfigPath,
	}

	if opts.WatchConfig && opts.ConfigPath != "" {
		w, err := configwatch.New(opts.ConfigPath, 250*time.Millisecond, logger)
		if err != nil {
			return nil, fmt.Errorf("create config watcher: %w", err)
		}
		s.watcher = w
	}

	s.httpServer = &http.Server{
		Addr:           cfg.Proxy.ListenAddress,
		Handler:        s.buildHandler(promMetrics),
		ReadTimeout:    cfg.Proxy.ReadTimeout,
		WriteTimeout:   cfg.Proxy.WriteTimeout,
		IdleTimeout:    cfg.Proxy.IdleTimeout,
		MaxHeaderBytes: cfg.Proxy.MaxHeaderBytes,
	}

	return s, nil
}

// buildHandler assembles the full route table. The client-facing
// streaming surface (chat/completions) never passes through
// TimeoutMiddleware since a legitimate stream may run far longer than any
// fixed request deadline; every other surface does when WriteTimeout > 0.
func (s *Server) buildHandler(promMetrics *metrics.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/chat/completions", s.forwarder)
	mux.Handle("POST /v1/completions", s.forwarder)

	modelsHandler := handlers.NewModelsHandler(s.registry, s.startedAt)
	healthHandler := handlers.NewHealthHandler(s.registry)
	metricsHandler := handlers.NewMetricsHandler(s.registry)
	adminHandler := handlers.NewAdminHandler(s.registry, s.controller, s.events)

	bounded := s.boundedMiddleware()
	mux.Handle("GET /v1/models", bounded(modelsHandler))
	mux.Handle("GET /health", bounded(healthHandler))
	mux.Handle("GET /metrics", bounded(metricsHandler))
	mux.HandleFunc("GET /health/live", bounded(s.health.LivenessHandler()).ServeHTTP)
	mux.HandleFunc("GET /health/ready", bounded(s.health.ReadinessHandler()).ServeHTTP)

	adminMux := http.NewServeMux()
	adminHandler.Register(adminMux)
	mux.Handle("/admin/", bounded(http.StripPrefix("/admin", adminMux)))

	if s.cfg.Telemetry.Metrics.Enabled {
		mux.Handle(s.cfg.Telemetry.Metrics.Path, bounded(promMetrics.Handler()))
	}

	var handler http.Handler = mux
	handler = middleware.CORSMiddleware(convertCORS(s.cfg.Proxy.CORS))(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)
	return handler
}

// boundedMiddleware wraps a non-streaming handler with the request
// timeout, when configured.
func (s *Server) boundedMiddleware() func(http.Handler) http.Handler {
	if s.cfg.Proxy.WriteTimeout <= 0 {
		return func(h http.Handler) http.Handler { return h }
	}
	return middleware.TimeoutMiddleware(s.cfg.Proxy.WriteTimeout)
}

func convertCORS(c config.CORSConfig) *middleware.CORSConfig {
	return &middleware.CORSConfig{
		Enabled:          c.Enabled,
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		MaxAge:           c.MaxAge,
		AllowCredentials: c.AllowCredentials,
	}
}

// Start launches the backend-process boot sequence, the reaper, the
// config watcher (if configured), and the HTTP listener, then blocks
// until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	if err := supervisor.CheckPortFree(portFromAddr(s.cfg.Proxy.ListenAddress)); err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrListenPortConflict, s.cfg.Proxy.ListenAddress)
	}

	s.controller.Boot(ctx)

	if err := s.reaper.Start(); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}

	if s.watcher != nil {
		go func() {
			err := s.watcher.Watch(ctx, func() {
				if err := s.reloadConfig(); err != nil {
					s.logger.Warn("config reload failed", "error", err)
				}
			})
			if err != nil {
				s.logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.Security.TLS.Enabled {
			tlsConfig, terr := configureTLS(s.cfg.Security.TLS)
			if terr != nil {
				errChan <- fmt.Errorf("configure TLS: %w", terr)
				return
			}
			s.httpServer.TLSConfig = tlsConfig
			err = s.httpServer.ListenAndServeTLS(s.cfg.Security.TLS.CertFile, s.cfg.Security.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("listener error: %w", err)
		}
	}()

	s.logger.Info("gateway started", "address", s.cfg.Proxy.ListenAddress, "models", len(s.cfg.Models))

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// reloadConfig reloads the configuration file and applies any diff to
// the registry and controller. Called by the fsnotify watcher and
// available for the admin surface to invoke directly in the future.
func (s *Server) reloadConfig() error {
	newCfg, err := config.LoadConfig(s.watchCfgPath)
	if err != nil {
		return err
	}
	diff := s.registry.Reconcile(newCfg)
	s.controller.ApplyReload(context.Background(), newCfg, diff)
	s.mu.Lock()
	s.cfg = newCfg
	s.mu.Unlock()
	s.logger.Info("configuration reloaded",
		"added", len(diff.Added), "removed", len(diff.Removed),
		"respawn", len(diff.Respawn), "updated", len(diff.Updated))
	return nil
}

// Shutdown gracefully stops the reaper, config watcher, and HTTP
// listener, and closes the event log.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("shutting down gateway", "timeout", s.cfg.Proxy.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Proxy.ShutdownTimeout)
		defer cancel()

		if s.watcher != nil {
			_ = s.watcher.Stop()
		}
		s.reaper.Stop(shutdownCtx)

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown: %w", err)
			}
		}

		if s.events != nil {
			_ = s.events.Close()
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("gateway stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is currently serving traffic.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the fully assembled HTTP handler, useful for tests that
// drive the gateway with httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func configureTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("tls enabled but cert_file/key_file not set")
	}
	if _, err := os.Stat(cfg.CertFile); err != nil {
		return nil, fmt.Errorf("tls cert file: %w", err)
	}
	if _, err := os.Stat(cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("tls key file: %w", err)
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}, nil
}

func portFromAddr(addr string) int {
	var port int
	_, err := fmt.Sscanf(addr[lastColon(addr)+1:], "%d", &port)
	if err != nil {
		return 0
	}
	return port
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
