package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aferconlda/aferconpay1/libs/health"
	"github.com/aferconlda/aferconpay1/libs/httpmiddleware"
	"github.com/aferconlda/aferconpay1/libs/kafka"
	"github.com/aferconlda/aferconpay1/libs/logging"
	"github.com/aferconlda/aferconpay1/libs/metrics"
	"github.com/aferconlda/aferconpay1/libs/trace"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/config"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/fees"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/handlers"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/rate"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/service"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	walletMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool, logger)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	feeCache := fees.NewCache()
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := feeCache.Load(loadCtx, store); err != nil {
		loadCancel()
		logger.Error("fee schedule load failed", "error", err)
		os.Exit(1)
	}
	loadCancel()

	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	defer refreshCancel()
	feeCache.StartAutoRefresh(refreshCtx, store, cfg.FeeRefreshEvery, nil, logger)

	walletSvc := service.NewWalletService(store, feeCache, producer, logger, walletMetrics, service.Topics{
		Notifications: cfg.Kafka.Topics.Notifications,
		Transactions:  cfg.Kafka.Topics.Transactions,
	}, cfg.App.Env)

	limiter := buildLimiter(cfg, logger)

	handler := handlers.New(walletSvc, limiter, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router, []byte(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("wallet http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, refreshCancel, logger)
}

func buildLimiter(cfg *config.Config, logger *slog.Logger) rate.Limiter {
	if cfg.Redis.Addr == "" {
		logger.Info("rate limiter using in-memory store")
		return rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, rate limiter using in-memory store", "error", err)
		return rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	logger.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
	return rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
