package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/handler"
	"github.com/Trojaner/ImpostorBot/internal/middleware"
	"github.com/Trojaner/ImpostorBot/internal/repository"
	"github.com/Trojaner/ImpostorBot/internal/service"
)

type Server struct {
	router *gin.Engine
	db     *sqlx.DB
	logger *zap.Logger
}

// Deps are the collaborators the routes are served by. Tokens may be nil,
// which leaves /api unauthenticated.
type Deps struct {
	Generator handler.Generator
	Recorder  handler.Recorder
	Chats     repository.ChatRepository
	Tokens    service.TokenService
}

func NewServer(db *sqlx.DB, deps Deps, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestIDMiddleware(logger))

	s := &Server{
		router: router,
		db:     db,
		logger: logger,
	}
	s.setupRoutes(deps)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(deps Deps) {
	generateHandler := handler.NewGenerateHandler(deps.Generator, s.logger)
	messageHandler := handler.NewMessageHandler(deps.Recorder, s.logger)
	chatHandler := handler.NewChatHandler(deps.Chats, s.logger)

	s.router.GET("/health", s.health)

	api := s.router.Group("/api/v1")
	if deps.Tokens != nil {
		api.Use(middleware.AuthMiddleware(deps.Tokens, s.logger))
	} else {
		s.logger.Warn("No JWT secret configured, API routes are unauthenticated")
	}

	authors := api.Group("/collections/:collection_id/authors/:author_id")
	authors.POST("/generate", generateHandler.Generate)
	authors.GET("/model", generateHandler.GetModel)

	api.POST("/messages", messageHandler.IngestMessage)

	api.GET("/chats", chatHandler.GetAllChats)
	api.GET("/chats/:id", chatHandler.GetChatByID)
	api.PUT("/chats/:id/monitoring", chatHandler.UpdateMonitoringStatus)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}
