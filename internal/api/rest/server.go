// Package rest stellt die lesende Monitoring-API des Controllers bereit.
// Steuernde Zugriffe laufen ausschliesslich über das G-Code-Protokoll.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/feeder"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusProvider liefert den Systemstatus für die Monitoring-Endpunkte
type StatusProvider interface {
	SystemStatus() any
}

type Server struct {
	router  *gin.Engine
	manager *feeder.Manager
	status  StatusProvider
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
}

func NewServer(cfg *config.Config, manager *feeder.Manager, status StatusProvider, wsHub *websocket.Hub, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		manager: manager,
		status:  status,
		logger:  logger,
		wsHub:   wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
		}

		feeders := v1.Group("/feeders")
		{
			feeders.GET("", s.listFeeders)
			feeders.GET("/:id", s.getFeeder)
			feeders.POST("/:id/wait", s.waitFeeder)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
