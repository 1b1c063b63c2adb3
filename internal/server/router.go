// Package server assembles the HTTP surface: REST API, admin login, metrics
// and the websocket push endpoint.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/auth"
	"github.com/servelist/backend/internal/middleware"
	"github.com/servelist/backend/internal/realtime"
	"github.com/servelist/backend/internal/reservation"
	"github.com/servelist/backend/pkg/response"
)

// Deps are the components the router mounts.
type Deps struct {
	Manager      *reservation.Manager
	Tokens       *auth.CapabilityService
	PasswordHash string
	// Hub serves GET /ws. Nil leaves push unavailable and clients poll.
	Hub         *realtime.Hub
	CORSOrigins string
	Logger      *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := middleware.ParseOrigins(d.CORSOrigins)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(origins.CORS())
	router.Use(middleware.ClientID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	authHandler := auth.NewHandler(d.Tokens, d.PasswordHash, logger)
	api.POST("/admin/login", authHandler.Login)

	reservation.NewHandler(d.Manager, logger).Register(api,
		middleware.RequireAdmin(d.Tokens), middleware.OptionalAdmin(d.Tokens))

	if d.Hub != nil {
		router.GET("/ws", realtime.ServeWs(d.Hub, logger, origins.CheckOrigin))
	}
	return router
}
