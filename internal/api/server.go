// Package api is the HTTP wrapper around the exception resolution control
// plane (SPEC_FULL.md §6): a thin layer over internal/orchestrator,
// internal/store, internal/metrics, internal/explain and internal/audit.
// Grounded on pkg/api/server.go's Echo v5 Server{echo *echo.Echo, ...}
// struct, Set*Service wiring methods, ValidateWiring and route-group
// registration.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/explain"
	"github.com/codeready-toolchain/tarsy/internal/metrics"
	"github.com/codeready-toolchain/tarsy/internal/orchestrator"
	"github.com/codeready-toolchain/tarsy/internal/store"
	"github.com/codeready-toolchain/tarsy/internal/streamapi"
)

// Server is the HTTP API server.
type Server struct {
	echo          *echo.Echo
	httpServer    *http.Server
	Orchestrator  *orchestrator.Orchestrator
	Exceptions    *store.ExceptionStore
	Metrics       *metrics.Collector
	Explanations  *explain.Service
	AuditReader   *audit.Reader
	Stream        *streamapi.Handler
	DefaultDomain string
}

// NewServer constructs a Server wired against the control plane's core
// components and registers its routes.
func NewServer(orch *orchestrator.Orchestrator, exceptions *store.ExceptionStore, metricsCollector *metrics.Collector, explanations *explain.Service, auditReader *audit.Reader, bus *orchestrator.Bus, defaultDomain string) *Server {
	e := echo.New()

	s := &Server{
		echo:          e,
		Orchestrator:  orch,
		Exceptions:    exceptions,
		Metrics:       metricsCollector,
		Explanations:  explanations,
		AuditReader:   auditReader,
		Stream:        streamapi.NewHandler(bus, nil),
		DefaultDomain: defaultDomain,
	}

	s.setupRoutes()
	return s
}

// ValidateWiring checks that every required collaborator has been supplied,
// catching wiring gaps at startup rather than as 500s at request time.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.Orchestrator == nil {
		errs = append(errs, fmt.Errorf("orchestrator not set"))
	}
	if s.Exceptions == nil {
		errs = append(errs, fmt.Errorf("exception store not set"))
	}
	if s.Metrics == nil {
		errs = append(errs, fmt.Errorf("metrics collector not set"))
	}
	if s.Explanations == nil {
		errs = append(errs, fmt.Errorf("explanation service not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ws/stage-events", s.Stream.ServeWS)

	s.echo.POST("/exceptions/:tenant_id", s.ingestHandler)
	s.echo.GET("/exceptions/:tenant_id/:exception_id", s.getExceptionHandler)
	s.echo.GET("/metrics/:tenant_id", s.tenantMetricsHandler)
	s.echo.GET("/metrics", s.allMetricsHandler)
	s.echo.GET("/explanations/:exception_id", s.explanationHandler)
	s.echo.GET("/explanations/:exception_id/timeline", s.timelineHandler)
	s.echo.GET("/explanations/:exception_id/evidence", s.evidenceHandler)

	auditGroup := s.echo.Group("/api/audit")
	auditGroup.GET("/exceptions/:tenant_id/:exception_id", s.auditExceptionHandler)
	auditGroup.GET("/tenants/:tenant_id", s.auditTenantHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	_, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	return c.JSON(http.StatusOK, &HealthResponse{Status: "healthy"})
}

// writeErr maps err through apperr.HTTPStatus and writes a uniform error
// body, matching mapServiceError's role in the teacher's handler layer.
func writeErr(c *echo.Context, err error) error {
	status := apperr.HTTPStatus(err)
	return c.JSON(status, &ErrorResponse{Error: err.Error()})
}
