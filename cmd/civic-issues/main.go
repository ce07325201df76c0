package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"github.com/mr1hm/civic-issues/internal/api"
	"github.com/mr1hm/civic-issues/internal/cache"
	"github.com/mr1hm/civic-issues/internal/config"
	"github.com/mr1hm/civic-issues/internal/events"
	"github.com/mr1hm/civic-issues/internal/fixtures"
	internalgrpc "github.com/mr1hm/civic-issues/internal/grpc"
	"github.com/mr1hm/civic-issues/internal/logging"
	"github.com/mr1hm/civic-issues/internal/metrics"
	"github.com/mr1hm/civic-issues/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "db_driver", cfg.DB.Driver)

	db, err := repository.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SeedDemo {
		n, err := repository.Seed(ctx, db, fixtures.DemoIssues())
		if err != nil {
			slog.Warn("failed to seed demo data", "error", err)
		} else if n > 0 {
			slog.Info("seeded demo data", "issues", n)
		}
	}

	// SSE subscribers always get events; brokers only when configured
	broadcaster := events.NewBroadcaster()
	sinks := []events.Sink{broadcaster}
	if cfg.Events.AMQPURL != "" {
		sink, err := events.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			logging.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			logging.Fatalf("Failed to connect to NATS: %v", err)
		}
		sinks = append(sinks, sink)
	}
	publisher := events.NewPublisher(cfg.Worker.Count, cfg.Worker.BufferSize, sinks...)
	publisher.Start(ctx)

	var queryCache cache.QueryCache = cache.Noop{}
	if cfg.Cache.RedisAddr != "" {
		rc := cache.NewRedis(cache.OpenRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB), cfg.Cache.TTL)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			slog.Warn("redis unreachable, queries will not be cached until it is back", "addr", cfg.Cache.RedisAddr, "error", err)
		}
		pingCancel()
		defer rc.Close()
		queryCache = rc
	}

	grpcServer := internalgrpc.NewServer(db)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		slog.Info("gRPC health server listening", "addr", grpcAddr)
		if err := grpcServer.Start(grpcAddr); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(api.MetricsMiddleware())
	router.Use(api.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	router.Use(api.AuthMiddleware(cfg.Auth.JWTSecret))

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	handler := api.NewHandler(db, queryCache, publisher, broadcaster)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	// SSE handlers return once the broadcaster closes their channels
	broadcaster.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// drain queued events before the workers' context goes away
	publisher.Stop()
	cancel()
	grpcServer.Stop()

	slog.Info("shutdown complete")
}
