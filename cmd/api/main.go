package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ecortescl/ms-smtp/internal/config"
	"github.com/ecortescl/ms-smtp/internal/email"
	emaillogHandler "github.com/ecortescl/ms-smtp/internal/handler/emaillog"
	"github.com/ecortescl/ms-smtp/internal/handler/health"
	mailHandler "github.com/ecortescl/ms-smtp/internal/handler/mail"
	templateHandler "github.com/ecortescl/ms-smtp/internal/handler/template"
	"github.com/ecortescl/ms-smtp/internal/middleware"
	"github.com/ecortescl/ms-smtp/internal/router"
	emaillogService "github.com/ecortescl/ms-smtp/internal/service/emaillog"
	mailService "github.com/ecortescl/ms-smtp/internal/service/mail"
	templateService "github.com/ecortescl/ms-smtp/internal/service/template"
	"github.com/ecortescl/ms-smtp/internal/storage"
	"github.com/ecortescl/ms-smtp/pkg/logger"
	"github.com/ecortescl/ms-smtp/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	if cfg.Auth.APIToken == "" {
		log.Warn().Msg("API_TOKEN is not set; every /api request will be rejected")
	}
	if cfg.SMTP.Host == "" {
		log.Warn().Msg("SMTP_HOST is not set; send requests will fail")
	}

	// Initialize storage
	ctx := context.Background()
	stores, err := storage.Open(ctx, cfg, log.WithComponent("storage"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer stores.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics("ms_smtp", reg)

	// Initialize services
	logSvc := emaillogService.NewService(stores.EmailLogs, appMetrics, log)
	templateSvc := templateService.NewService(stores.Templates, cfg.Templates.CacheTTL, appMetrics, log)
	sender := email.NewSMTPSender(cfg.SMTP, log)
	mailSvc := mailService.NewService(sender, logSvc, templateSvc, cfg.SMTP.FromDefault, appMetrics, log)

	// Setup router
	mode := gin.DebugMode
	if cfg.Server.IsProduction() {
		mode = gin.ReleaseMode
	}
	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	}
	securityConfig := middleware.DefaultSecurityConfig()
	securityConfig.HSTS = cfg.Server.IsProduction()

	r := router.NewRouter(router.RouterConfig{
		Mode:             mode,
		APIToken:         cfg.Auth.APIToken,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit: middleware.RateLimiterConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		},
		CORSConfig:     corsConfig,
		SecurityConfig: securityConfig,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsPrefix:  "ms_smtp_http",
		Registerer:     reg,
	}, log)

	r.Setup(
		[]router.Handler{health.NewHandler(stores, stores.Provider, reg)},
		[]router.Handler{
			mailHandler.NewHandler(mailSvc),
			emaillogHandler.NewHandler(logSvc),
			templateHandler.NewHandler(templateSvc),
		},
	)

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("env", cfg.Server.Env).
			Str("storage", stores.Provider).
			Msg("ms-smtp listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
