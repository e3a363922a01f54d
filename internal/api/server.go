// Package api is the HTTP surface: auth, thread listing, the streaming
// chat endpoint, and the model/usage read endpoints.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/relaychat/internal/api/auth"
	"github.com/relaychat/internal/chat"
	"github.com/relaychat/internal/config"
	"github.com/relaychat/internal/modelregistry"
	"github.com/relaychat/pkg/models"
)

// UsageReader reads the consumption record backing the usage endpoint.
type UsageReader interface {
	Get(ctx context.Context, userID int64) (*models.UsageRecord, error)
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	cfg          *config.Config
	tokens       *auth.TokenService
	authHandlers *auth.Handlers
	registry     *modelregistry.Registry
	store        chat.Store
	usageReader  UsageReader
	orchestrator *chat.Orchestrator
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, db *sql.DB, store chat.Store, usageReader UsageReader, registry *modelregistry.Registry, orchestrator *chat.Orchestrator) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	server := &Server{
		echo:         e,
		port:         cfg.Server.Port,
		cfg:          cfg,
		tokens:       tokens,
		authHandlers: auth.NewHandlers(auth.NewUserService(db), tokens),
		registry:     registry,
		store:        store,
		usageReader:  usageReader,
		orchestrator: orchestrator,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	v1.POST("/auth/register", s.authHandlers.Register)
	v1.POST("/auth/login", s.authHandlers.Login)

	authed := v1.Group("", auth.RequireAuth(s.tokens))
	authed.GET("/auth/me", s.authHandlers.Me)
	authed.GET("/models", s.listModels)
	authed.GET("/threads", s.listThreads)
	authed.GET("/threads/:id/messages", s.listMessages)
	authed.GET("/usage", s.getUsage)
	authed.POST("/chat", s.streamChat)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Shutting down the server")
		}
	}()

	log.Info().Int("port", s.port).Msg("API server started")

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
