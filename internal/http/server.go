// Package http provides the HTTP API for remedyd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/feedback"
	"github.com/fyrsmithlabs/remedyd/internal/knowledgebank"
	"github.com/fyrsmithlabs/remedyd/internal/lifecycle"
	"github.com/fyrsmithlabs/remedyd/internal/ticket"
)

// Server provides HTTP endpoints for remedyd.
type Server struct {
	echo       *echo.Echo
	controller lifecycle.Controller
	bank       knowledgebank.Store
	tracker    feedback.Tracker
	tickets    ticket.Sink
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(controller lifecycle.Controller, bank knowledgebank.Store, tracker feedback.Tracker, tickets ticket.Sink, logger *zap.Logger, cfg *Config) (*Server, error) {
	if controller == nil {
		return nil, fmt.Errorf("lifecycle controller is required")
	}
	if bank == nil {
		return nil, fmt.Errorf("knowledge bank store is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("feedback tracker is required")
	}
	if tickets == nil {
		return nil, fmt.Errorf("ticket sink is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8710,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
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
		echo:       e,
		controller: controller,
		bank:       bank,
		tracker:    tracker,
		tickets:    tickets,
		logger:     logger,
		config:     cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/remediate", s.handleRemediate)
	v1.GET("/patterns", s.handleListPatterns)
	v1.POST("/patterns/search", s.handleSearchPatterns)
	v1.GET("/patterns/auto-approved", s.handleAutoApproved)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/tickets", s.handleListTickets)
	v1.POST("/tickets", s.handleCreateTicket)
	v1.GET("/tickets/:id", s.handleGetTicket)
	v1.POST("/tickets/:id/comments", s.handleAddComment)
	v1.PATCH("/tickets/:id/status", s.handleUpdateTicketStatus)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
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
