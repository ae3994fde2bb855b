// Package server exposes the facilitator over HTTP: POST /verify,
// POST /settle, GET /supported, plus health, readiness, and metrics
// endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/x402go/facilitator/internal/cache"
	"github.com/x402go/facilitator/internal/config"
	"github.com/x402go/facilitator/internal/health"
	"github.com/x402go/facilitator/internal/metrics"
	"github.com/x402go/facilitator/internal/ratelimit"
	x402 "github.com/x402go/facilitator"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Server wraps the gin router plus everything it depends on.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	facilitator x402.Facilitator
	config      *config.Config
	metrics     *metrics.Metrics
	limiter     ratelimit.Limiter
	health      *health.Checker
	cache       *cache.Client
	logger      zerolog.Logger
}

// New wires the router, rate limiter, health checker, and metrics
// collector around facilitator. redisClient may be nil, in which case
// rate limiting is disabled and readiness reports it degraded.
func New(facilitator x402.Facilitator, redisClient *cache.Client, cfg *config.Config, logger zerolog.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:      gin.New(),
		facilitator: facilitator,
		config:      cfg,
		metrics:     metrics.New(),
		health:      health.NewChecker(redisClient, Version),
		cache:       redisClient,
		logger:      logger,
	}

	if redisClient != nil {
		s.limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(CORSMiddleware())
	s.router.Use(s.metrics.Middleware())
	if s.limiter != nil {
		s.router.Use(RateLimitMiddleware(s.limiter))
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health.HealthHandler())
	s.router.GET("/ready", s.health.ReadyHandler())
	s.router.GET("/metrics", s.metrics.Handler())

	s.router.POST("/verify", s.handleVerify)
	s.router.POST("/settle", s.handleSettle)
	s.router.GET("/supported", s.handleSupported)
}

// Start serves HTTP until SIGINT/SIGTERM, then drains in-flight requests
// for up to 30 seconds before returning.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Int("port", s.config.Port).Msg("facilitator listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	s.waitForShutdown()
}

func (s *Server) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
