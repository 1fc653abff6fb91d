// Package mgmt serves the dashboard HTTP API.
package mgmt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/derrors"
	"github.com/caracole/agentdeck/internal/health"
	"github.com/caracole/agentdeck/internal/metrics"
	"github.com/caracole/agentdeck/internal/requestid"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	CORSOrigins string
	RateLimit   RateLimitConfig
}

// Server is the dashboard API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures the API server.
func NewServer(
	cfg ServerConfig,
	handlers *Handlers,
	checker *health.Checker,
	collector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "mgmt_server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, collector, logger)
	s.setupRoutes(handlers, checker, collector)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, collector *metrics.Metrics, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	// Request metrics and audit log
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if collector != nil {
			collector.RecordRequest(route, strconv.Itoa(status))
			collector.ObserveDuration(route, time.Since(start).Seconds())
		}
		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker, collector *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if collector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))
	}

	api := s.app.Group("/api")

	api.Get("/projects", h.ListProjects)
	api.Post("/projects", h.CreateProject)
	api.Get("/projects/:id", h.GetProject)
	api.Patch("/projects/:id", h.PatchProject)
	api.Post("/projects/:id/ceremony", h.StartCeremony)
	api.Post("/projects/:id/nudge", h.Nudge)
	api.Get("/projects/:id/activity", h.Activity)

	api.Get("/tokens/summary", h.TokensSummary)
	api.Get("/tokens/timeline", h.TokensTimeline)
	api.Post("/tokens/record", h.RecordTokens)

	api.Get("/agents", h.ListAgents)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("api server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("api server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// fromError maps taxonomy errors onto HTTP problem responses.
func fromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, derrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"not_found", "Not Found", err.Error())
	case errors.Is(err, derrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_input", "Bad Request", err.Error())
	case errors.Is(err, derrors.ErrAlreadyExists):
		return problemResponse(c, fiber.StatusConflict,
			"already_exists", "Conflict", err.Error())
	case errors.Is(err, derrors.ErrUnavailable):
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"unavailable", "Service Unavailable", err.Error())
	}
	if rl, ok := derrors.AsRateLimit(err); ok {
		c.Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds()+1)))
		return problemResponse(c, fiber.StatusTooManyRequests,
			"cooldown_active", "Too Many Requests", err.Error())
	}
	return err
}
