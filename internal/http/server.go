// Package http provides the fathomd REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/ingest"
	"github.com/fathomlabs/fathomd/internal/query"
	"github.com/fathomlabs/fathomd/internal/status"
)

// QueryEngine answers search requests.
type QueryEngine interface {
	Search(ctx context.Context, req query.Request) (*query.Response, error)
}

// Indexer runs ingest jobs.
type Indexer interface {
	IndexCodebase(ctx context.Context, job ingest.Job) (*ingest.Result, error)
	ReindexByChange(ctx context.Context, job ingest.Job) (*ingest.ChangeResult, error)
	IndexRepository(ctx context.Context, url string, job ingest.Job) (*ingest.Result, error)
	IndexPages(ctx context.Context, job ingest.PageJob) (*ingest.Result, error)
}

// StatusChecker reports index status for a dataset.
type StatusChecker interface {
	Check(ctx context.Context, req status.Request) (*status.Report, error)
}

// Clearer removes a dataset from both stores.
type Clearer interface {
	Clear(ctx context.Context, project, dataset string) (string, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps are the services the server exposes.
type Deps struct {
	Query    QueryEngine
	Indexer  Indexer
	Status   StatusChecker
	Clearer  Clearer
	Gatherer prometheus.Gatherer
}

// Server provides HTTP endpoints for fathomd.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	IsError bool   `json:"is_error"`
	Message string `json:"message"`
}

// NewServer creates the API server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Query == nil || deps.Indexer == nil || deps.Status == nil || deps.Clearer == nil {
		return nil, fmt.Errorf("query, indexer, status and clearer services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9620}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/index", s.handleIndex)
	v1.POST("/pages", s.handlePages)
	v1.POST("/status", s.handleStatus)
	v1.POST("/clear", s.handleClear)
}

// errorHandler renders every error as the shared JSON error shape.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "internal error"

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			code = httpErr.Code
			message = fmt.Sprint(httpErr.Message)
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", zap.Error(err))
		}

		if jsonErr := c.JSON(code, ErrorResponse{IsError: true, Message: message}); jsonErr != nil {
			logger.Warn("writing error response failed", zap.Error(jsonErr))
		}
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
