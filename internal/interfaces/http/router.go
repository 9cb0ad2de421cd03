// Package http serves the admin surface: health, Prometheus metrics and pprof.
package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/interfaces/http/handlers"
	"github.com/turtacn/certforge/internal/interfaces/http/middleware"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Router 管理 HTTP 路由器
type Router struct {
	engine        *gin.Engine
	config        config.AdminConfig
	logger        logger.Logger
	healthHandler *handlers.HealthHandler
	server        *http.Server
}

// NewRouter 创建路由器并注册路由
func NewRouter(
	cfg config.AdminConfig,
	log logger.Logger,
	healthHandler *handlers.HealthHandler,
	tracer trace.Tracer,
	registerer prometheus.Registerer,
	gatherer prometheus.Gatherer,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	log = log.WithComponent("admin")

	factory := promauto.With(registerer)
	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricsNamespace,
		Name:      "admin_http_requests_total",
		Help:      "Admin HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})
	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: constants.MetricsNamespace,
		Name:      "admin_http_request_duration_seconds",
		Help:      "Admin HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.ObservabilityMiddleware(tracer, requests, duration))
	engine.Use(middleware.LoggingMiddleware(log))

	// 健康检查路由
	engine.GET("/health", healthHandler.HealthCheck)
	engine.GET("/live", healthHandler.LivenessCheck)

	// Prometheus metrics
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if cfg.EnablePprof {
		pprof.Register(engine)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})

	return &Router{
		engine:        engine,
		config:        cfg,
		logger:        log,
		healthHandler: healthHandler,
	}
}

// Handler returns the routed engine.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Run serves the admin surface until ctx is cancelled, then shuts the server down.
func (r *Router) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.config.Addr)
	if err != nil {
		return errors.Wrap(err, errors.CodeTransport, "admin listen %s", r.config.Addr)
	}

	r.server = &http.Server{
		Handler:           r.engine,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			r.logger.Error(shutdownCtx, "Admin server forced to shutdown", err)
		}
	})
	defer stop()

	r.logger.Info(ctx, "Starting admin HTTP server", logger.String("address", ln.Addr().String()))
	if err := r.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.CodeTransport, "admin server")
	}
	r.logger.Info(context.Background(), "Admin HTTP server stopped")
	return nil
}
