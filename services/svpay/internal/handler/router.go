package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/studentverse/pkg/metrics"
	"example.com/studentverse/services/svpay/internal/middleware"
)

// ReadinessChecker - функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router - HTTP роутер SV Pay.
type Router struct {
	engine         *gin.Engine
	serviceName    string
	intents        *IntentHandler
	rateLimitMW    *middleware.RateLimitMiddleware
	tracingMW      *middleware.TracingMiddleware
	readinessCheck ReadinessChecker
	resetEnabled   bool
}

// RouterConfig - параметры для создания роутера.
type RouterConfig struct {
	ServiceName    string
	Service        IntentService
	RateLimitMW    *middleware.RateLimitMiddleware // nil - без rate limiting
	TracingMW      *middleware.TracingMiddleware
	ReadinessCheck ReadinessChecker // опциональная проверка для /readyz
	ResetEnabled   bool             // регистрирует DELETE /api/v1/intents
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "svpay"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware(cfg.ServiceName))
	engine.Use(metrics.GinMetricsMiddleware(cfg.ServiceName))

	r := &Router{
		engine:         engine,
		serviceName:    cfg.ServiceName,
		intents:        NewIntentHandler(cfg.Service),
		rateLimitMW:    cfg.RateLimitMW,
		tracingMW:      cfg.TracingMW,
		readinessCheck: cfg.ReadinessCheck,
		resetEnabled:   cfg.ResetEnabled,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	if r.tracingMW != nil {
		r.engine.Use(r.tracingMW.Handle())
	}

	// Health endpoints без rate limiting
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")
	if r.rateLimitMW != nil {
		v1.Use(r.rateLimitMW.Handle())
	}

	intents := v1.Group("/intents")
	{
		intents.POST("", r.intents.Authorize)
		intents.GET("/:id", r.intents.Get)
		intents.POST("/:id/confirm", r.intents.Confirm)
		intents.POST("/:id/void", r.intents.Void)
		if r.resetEnabled {
			intents.DELETE("", r.intents.Reset)
		}
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": r.serviceName})
}

// livenessCheck - процесс жив, раз отвечает.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler - 200, если MySQL/Redis (когда включены) доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
