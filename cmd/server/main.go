package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/kdduha/eyeris/docs"
	"github.com/kdduha/eyeris/internal/config"
	"github.com/kdduha/eyeris/internal/handler"
	"github.com/kdduha/eyeris/internal/logger"
	"github.com/kdduha/eyeris/internal/metrics"
	"github.com/kdduha/eyeris/internal/preprocess"
	"github.com/kdduha/eyeris/internal/prompt"
	"github.com/kdduha/eyeris/internal/provider"
	"github.com/kdduha/eyeris/internal/ratelimit"
	"github.com/kdduha/eyeris/internal/service"
	"github.com/kdduha/eyeris/internal/usage"
	"github.com/kdduha/eyeris/internal/workerpool"
)

// @title eyeris API
// @version 1.0
// @description Image analysis through interchangeable vision model providers.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	providers := []provider.Provider{provider.NewOllama(cfg.Ollama)}
	limits := map[string]ratelimit.Limits{
		config.ProviderOllama: limitsOf(cfg.Ollama.Limits),
	}
	if cfg.OpenAIEnabled() {
		providers = append(providers, provider.NewOpenAI(cfg.OpenAI))
		limits[config.ProviderOpenAI] = limitsOf(cfg.OpenAI.Limits)
	}

	registry, err := provider.NewRegistry(cfg.Analyze.DefaultProvider, providers...)
	if err != nil {
		log.WithError(err).Fatal("provider registry")
	}

	var windows ratelimit.WindowFactory
	if cfg.RateLimit.Backend == config.BackendRedis {
		rdb := ratelimit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis is unreachable, request windows will fail open")
		}
		windows = ratelimit.RedisWindows(rdb)
		log.WithField("addr", cfg.Redis.Addr).Info("set redis as rate window backend")
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		Mode:           ratelimit.Mode(cfg.RateLimit.Mode),
		AcquireTimeout: cfg.RateLimit.AcquireTimeout,
	}, limits, windows, log)
	if err != nil {
		log.WithError(err).Fatal("rate limiter")
	}

	pool := workerpool.New(cfg.Image.Workers)
	pool.Start()
	defer pool.Close()

	preprocessor := preprocess.NewPreprocessor(pool, preprocess.Constraints{
		MaxInputBytes: cfg.Image.MaxInputBytes,
		MaxPixels:     cfg.Image.MaxPixels,
		MaxDimension:  cfg.Image.MaxDimension,
		PayloadBudget: cfg.Image.PayloadBudget,
		Quality:       cfg.Image.Quality,
		MinQuality:    cfg.Image.MinQuality,
		QualityStep:   cfg.Image.QualityStep,
	}, log)

	defaultFormat, err := prompt.ParseFormat(cfg.Analyze.DefaultFormat)
	if err != nil {
		log.WithError(err).Fatal("default format")
	}

	tracker := usage.NewTracker()
	analyzeService := service.NewAnalyzeService(log, preprocessor, limiter, registry, tracker, service.Settings{
		MaxImageBytes: cfg.Image.MaxInputBytes,
		DefaultFormat: defaultFormat,
		Retry: service.RetryPolicy{
			MaxRetries: cfg.Analyze.MaxRetries,
			Delay:      cfg.Analyze.RetryDelay,
		},
	})

	h := handler.NewAnalyzeHandler(analyzeService, tracker, registry.Names(), cfg.Server.MaxUploadSize, log)

	r := chi.NewRouter()
	r.Use([]func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}),
		middleware.Recoverer,
		middleware.Throttle(cfg.Server.ThrottleLimit),
		middleware.Timeout(cfg.Server.Timeout),
		metrics.Middleware,
	}...)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", h.Analyze)
		r.Get("/health", h.Health)
		r.Get("/usage", h.Usage)
	})
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"providers": registry.Names(),
			"default":   registry.DefaultName(),
			"workers":   pool.Stats().Workers,
		}).Info("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
		return
	}
	log.Info("server stopped")
}

func limitsOf(c config.LimitConfig) ratelimit.Limits {
	return ratelimit.Limits{
		MaxConcurrent:     c.MaxConcurrent,
		RequestsPerWindow: c.RequestsPerWindow,
		Window:            c.Window,
	}
}
