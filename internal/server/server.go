package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/abramin/namelens/internal/query"
	"github.com/abramin/namelens/internal/store"
)

// Server is the namelens HTTP server.
type Server struct {
	svc        *query.Service
	store      *store.Store
	engine     *gin.Engine
	httpServer *http.Server
	port       int
}

// Config holds server configuration.
type Config struct {
	Port    int
	Service *query.Service
	// Store is optional; without it /api/stats reports cache state only.
	Store *store.Store
	// Registry receives the HTTP metrics and is served on /metrics.
	// Nil uses the prometheus default registry.
	Registry *prometheus.Registry
}

// New creates a new server instance.
func New(cfg Config) *Server {
	s := &Server{
		svc:   cfg.Service,
		store: cfg.Store,
		port:  cfg.Port,
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if cfg.Registry != nil {
		reg, gatherer = cfg.Registry, cfg.Registry
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestContext(), newHTTPMetrics(reg).middleware(), cors())

	api := engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/versions", s.handleVersions)
	api.POST("/versions/:version/reload", s.handleReload)
	api.DELETE("/versions/:version", s.handleInvalidate)
	api.GET("/lookup/:type", s.handleLookup)
	api.GET("/guilds", s.handleListDefaults)
	api.GET("/guilds/:guild/default", s.handleGetDefault)
	api.PUT("/guilds/:guild/default", s.handleSetDefault)
	api.DELETE("/guilds/:guild/default", s.handleClearDefault)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // reloads wait for a full build
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "server starting", "addr", fmt.Sprintf("http://localhost:%d", s.port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return errors.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.InfoContext(ctx, "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Errorf("shutdown: %w", err)
	}
	slog.InfoContext(ctx, "server stopped")
	return nil
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// requestContext tags the request context with a request id and logs the
// request once it completes.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = xid.New().String()
		}
		c.Header("X-Request-ID", id)

		ctx := slogctx.With(c.Request.Context(), "request_id", id)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		slog.DebugContext(ctx, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// cors adds CORS headers for local development.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
