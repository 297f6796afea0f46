// Package api exposes the pipeline's HTTP surface: one endpoint per
// pipeline stage plus health and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stadspuls/eventpipe/internal/coordinator"
	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/discovery"
	"github.com/stadspuls/eventpipe/internal/healer"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/worker"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 5 * time.Minute // worker drains run inside the request
	defaultIdleTimeout  = 120 * time.Second
	healthCheckTimeout  = 2 * time.Second
)

// CoordinatorService runs one scheduling pass.
type CoordinatorService interface {
	Tick(ctx context.Context, sourceIDs []string) (*coordinator.Result, error)
}

// WorkerService drains one batch of scrape jobs.
type WorkerService interface {
	Drain(ctx context.Context, deepScrape bool) (*worker.DrainResult, error)
}

// DiscoveryService processes one discovery job.
type DiscoveryService interface {
	Run(ctx context.Context, batchID string) (*discovery.RunResult, error)
}

// HealerService runs one healer pass.
type HealerService interface {
	Run(ctx context.Context, opts healer.Options) (*healer.Report, error)
}

// HealthService reports pipeline and database health.
type HealthService interface {
	Snapshot(ctx context.Context) (*database.PipelineHealth, error)
	Ping(ctx context.Context) error
}

// Server is the pipeline HTTP server.
type Server struct {
	coordinator CoordinatorService
	worker      WorkerService
	discovery   DiscoveryService
	healer      HealerService
	health      HealthService
	registry    prometheus.Gatherer
	logger      logger.Interface
}

// New creates the server. registry may be nil to serve the default
// prometheus registry.
func New(coord CoordinatorService, work WorkerService, disc DiscoveryService,
	heal HealerService, health HealthService, registry prometheus.Gatherer,
	log logger.Interface) *Server {
	if registry == nil {
		registry = prometheus.DefaultGatherer
	}
	return &Server{
		coordinator: coord,
		worker:      work,
		discovery:   disc,
		healer:      heal,
		health:      health,
		registry:    registry,
		logger:      log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/coordinator", s.handleCoordinator)
	router.POST("/worker", s.handleWorker)
	router.POST("/discovery-worker", s.handleDiscovery)
	router.POST("/healer", s.handleHealer)
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
