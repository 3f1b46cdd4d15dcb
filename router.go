package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsloom/opsloom/pkg/config"
	"github.com/opsloom/opsloom/pkg/event"
	"github.com/opsloom/opsloom/pkg/handler"
	"github.com/opsloom/opsloom/pkg/remote"
	"github.com/opsloom/opsloom/pkg/service"
	"github.com/opsloom/opsloom/pkg/utils"
)

// Server is the HTTP server hosting the agent API.
type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig, gdb *gorm.DB) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: the service binds locally, so only localhost dev
	// origins are allowed.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		logger:    utils.GetLogger(),
	}

	server.SetupRoutes(gdb)

	return server
}

// Start binds the listener and serves until ctx is cancelled. Bind failures
// are returned immediately.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errChan
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// SetupRoutes wires services and registers the API routes.
func (s *Server) SetupRoutes(gdb *gorm.DB) {
	store := service.NewChatStore(gdb)
	modelService := service.NewModelService(s.cfg)
	memory := service.NewMemoryManager(store, s.cfg, modelService)
	gate := service.NewApprovalGate(s.cfg.ApprovalTimeout())
	executor := remote.NewExecutor(store)
	research := service.NewResearchService(s.cfg)
	discovery := service.NewDiscoveryService(store, executor)

	orchestrator := service.NewOrchestrator(
		store, s.cfg, modelService, memory, gate,
		executor, executor, research,
	)

	chatHandler := handler.NewChatHandler(orchestrator, store)
	serverHandler := handler.NewServerHandler(store, discovery)
	toolHandler := handler.NewToolHandler()
	wsHandler := event.NewWSHandler()

	apiGroup := s.ginEngine.Group("/api")

	apiGroup.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	chatHandler.RegisterRoutes(apiGroup)
	serverHandler.RegisterRoutes(apiGroup)
	toolHandler.RegisterRoutes(apiGroup)

	// Event notifications over WebSocket
	// /api/events/ws?events=approval.pending,turn.completed
	apiGroup.GET("/events/ws", wsHandler.Handle)
}
