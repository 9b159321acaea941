package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ecortescl/ms-smtp/internal/middleware"
	"github.com/ecortescl/ms-smtp/pkg/logger"
)

const APIVersion = "1.0"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	config  RouterConfig
	log     *logger.Logger
	metrics *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	// Mode is the gin mode; empty leaves the current mode alone.
	Mode             string
	APIToken         string
	RateLimitEnabled bool
	RateLimit        middleware.RateLimiterConfig
	CORSConfig       middleware.CORSConfig
	SecurityConfig   middleware.SecurityConfig
	MaxBodyBytes     int64
	RequestTimeout   time.Duration
	MetricsPrefix    string
	Registerer       prometheus.Registerer
}

func NewRouter(config RouterConfig, log *logger.Logger) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if log == nil {
		log = logger.Nop()
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.NewRegistry()
	}
	if config.SecurityConfig.FrameOptions == "" {
		config.SecurityConfig = middleware.DefaultSecurityConfig()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = middleware.DefaultSizeLimitConfig().MaxBodySize
	}

	middleware.RegisterValidators()

	engine := gin.New()
	r := &Router{
		engine:  engine,
		config:  config,
		log:     log.WithComponent("http"),
		metrics: initRouterMetrics(config.MetricsPrefix, config.Registerer),
	}

	// Logger and metrics wrap the error handler so they see the final status.
	engine.Use(
		middleware.RequestID(r.log),
		middleware.Logger(r.log),
		r.metricsMiddleware(),
		middleware.Recovery(r.log),
		middleware.ErrorHandler(r.log),
		middleware.SecurityHeaders(config.SecurityConfig),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: config.MaxBodyBytes}),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, middleware.ErrorResponse{
			Error:   "NotFound",
			Message: "route not found",
		})
	})

	return r
}

// Setup mounts the unauthenticated handlers at the root and the rest under
// /api/v1 behind the token check and rate limiter.
func (r *Router) Setup(public []Handler, protected []Handler) {
	root := r.engine.Group("")
	for _, h := range public {
		h.RegisterRoutes(root)
	}

	api := r.engine.Group("/api/v1")
	api.Use(middleware.APIToken(r.config.APIToken))
	if r.config.RateLimitEnabled {
		api.Use(middleware.NewRateLimiter(r.config.RateLimit).RateLimit())
	}
	api.Use(
		middleware.Version(APIVersion),
		middleware.Cache(middleware.NoStoreCacheConfig()),
		middleware.Compress(middleware.DefaultCompressConfig()),
	)

	for _, h := range protected {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Metrics initialization and middleware
func initRouterMetrics(prefix string, reg prometheus.Registerer) *routerMetrics {
	if prefix == "" {
		prefix = "http"
	}
	factory := promauto.With(reg)

	return &routerMetrics{
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := c.Writer.Status()
		status := strconv.Itoa(code)

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		switch {
		case code >= 500:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "server").Inc()
		case code >= 400:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "client").Inc()
		}
	}
}
