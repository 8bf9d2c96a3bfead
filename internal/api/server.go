package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gold-analysis-engine/config"
	"gold-analysis-engine/internal/events"
	"gold-analysis-engine/internal/history"
	"gold-analysis-engine/internal/logging"
	"gold-analysis-engine/internal/pipeline"
)

// RateLimiter provides simple in-memory rate limiting per client
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server exposes the analysis pipeline over HTTP and WebSocket
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	orch       *pipeline.Orchestrator
	bus        *events.EventBus
	hist       *history.Repository // nil when history is disabled
	tokens     *TokenManager       // nil when auth is disabled
	hub        *WSHub
	log        *logging.Logger

	symbol       string
	cfg          config.ServerConfig
	forceLimiter *RateLimiter // guards the force-refresh path
}

// NewServer wires the HTTP surface. hist and tokens may be nil when
// the corresponding features are disabled.
func NewServer(cfg *config.Config, orch *pipeline.Orchestrator, bus *events.EventBus, hist *history.Repository, tokens *TokenManager) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.ServerConfig.CORSOrigins
	if len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:       router,
		orch:         orch,
		bus:          bus,
		hist:         hist,
		tokens:       tokens,
		hub:          NewWSHub(),
		log:          logging.WithComponent("api"),
		symbol:       cfg.MarketDataConfig.Symbol,
		cfg:          cfg.ServerConfig,
		forceLimiter: NewRateLimiter(10, time.Minute),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/analysis", s.handleAnalysis)
		v1.GET("/indicators", s.handleIndicators)
		v1.GET("/zones", s.handleZones)
		v1.GET("/performance", s.handlePerformance)
		v1.GET("/history", s.handleHistory)

		refresh := v1.Group("")
		if s.tokens != nil {
			refresh.Use(s.tokens.RequireToken())
		}
		refresh.POST("/analysis/refresh", s.handleRefresh)
	}
}

// Start runs the hub, the bus-to-websocket forwarder and the HTTP
// listener. It blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()
	if s.bus != nil {
		go s.forwardEvents()
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.log.Info("API server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// forwardEvents streams bus events to websocket clients
func (s *Server) forwardEvents() {
	sub := s.bus.Subscribe()
	for ev := range sub {
		s.hub.BroadcastEvent(ev)
	}
}

// Shutdown drains the HTTP server and stops the websocket hub
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}
