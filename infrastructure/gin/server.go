package gin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

// Server couples a gin engine with an http.Server lifecycle.
type Server struct {
	router *gin.Engine
	server *http.Server
	log    infralogger.Logger
	config *Config
}

// NewServer builds the engine with the standard middleware chain:
// request id, request logger, recovery, CORS. setupRoutes runs afterwards.
func NewServer(cfg *Config, log infralogger.Logger, setupRoutes func(*gin.Engine)) *Server {
	cfg.SetDefaults()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(RequestIDLoggerMiddleware(log, cfg.RequestIDGenerator))
	if cfg.RequestLogger != nil {
		router.Use(cfg.RequestLogger)
	} else {
		router.Use(LoggerMiddleware(log))
	}
	router.Use(RecoveryMiddleware())
	router.Use(CORSMiddleware(cfg.CORS))

	if setupRoutes != nil {
		setupRoutes(router)
	}

	return &Server{
		router: router,
		server: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           router,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log:    log,
		config: cfg,
	}
}

func (s *Server) Router() *gin.Engine { return s.router }

// Handler exposes the engine for httptest servers.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		infralogger.String("address", s.server.Addr),
		infralogger.String("service", s.config.ServiceName),
		infralogger.String("version", s.config.ServiceVersion),
	)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains connections within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server", infralogger.Duration("timeout", s.config.ShutdownTimeout))

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("HTTP server stopped gracefully")
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// RegisterOnShutdown runs f when Shutdown begins, e.g. to close websockets.
func (s *Server) RegisterOnShutdown(f func()) { s.server.RegisterOnShutdown(f) }

// ShutdownTimeout reports the drain budget.
func (s *Server) ShutdownTimeout() time.Duration { return s.config.ShutdownTimeout }
