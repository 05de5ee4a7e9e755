package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sf7293/task-assigner/configs"
	db2 "github.com/sf7293/task-assigner/db"
	"github.com/sf7293/task-assigner/internal/engine"
	"github.com/sf7293/task-assigner/internal/metrics"
	"github.com/sf7293/task-assigner/internal/postgres"
	"github.com/sf7293/task-assigner/internal/rabbitmq"
	"github.com/sf7293/task-assigner/internal/redis"
	"github.com/sf7293/task-assigner/internal/server"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
)

func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	cfg := configs.InitConfig()

	d, err := iofs.New(db2.Migrations, "migrations")
	if err != nil {
		log.Fatal(err)
		return
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.Database.ToMigrationUri())
	if err != nil {
		log.Fatal(err)
		return
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal(err)
		}
	}
	slog.Info("Migrations ran successfully")

	ctx := context.Background()
	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()
	slog.Info("Postgres connection has been initialized successfully")

	infra := engine.Infra{Storage: storage, Metrics: metrics.NewPrometheus(nil, metrics.DefaultNamespace)}

	rabbitClient, err := rabbitmq.NewRabbitMQClient(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.GetMainQueueNames(), cfg.RabbitMQ.PrefetchCount)
	if err != nil {
		slog.Warn("RabbitMQ is unavailable, assignment work runs synchronously until it answers a probe", "error", err.Error())
		// Every dispatch probes the broker, and the probe dials this client once RabbitMQ is back
		rabbitClient = rabbitmq.NewDisconnectedRabbitMQClient(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.GetMainQueueNames(), cfg.RabbitMQ.PrefetchCount)
	} else {
		slog.Info("RabbitMQ has been initialized successfully")
	}
	infra.Queue = rabbitClient
	defer func() {
		err = rabbitClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()

	redisClient, err := redis.NewClient(cfg.RedisConfig.ToRedisConnectionUri(), cfg.RedisConfig.DialTimeout())
	if err != nil {
		slog.Warn("Redis is misconfigured, running without cache and rate limiting", "error", err.Error())
	} else {
		infra.KeyValue = redisClient
		infra.Limiter = redis.NewFixedWindowLimiter(redisClient, cfg.Assignment.BulkRateLimitPerWindow, cfg.Assignment.BulkRateLimitWindow())
		defer func() {
			err = redisClient.Close()
			if err != nil {
				slog.Error("An error occurred while closing Redis connection", "error", err.Error())
			}
		}()
		slog.Info("Redis client has been initialized successfully")
	}

	eng := engine.New(infra, cfg.Assignment, cfg.RabbitMQ.QueueNames())
	serverLogic := server.NewServerLogic(storage, eng.Orchestrator, eng.Cache, eng.Coordinator)
	postgresIsReady = true

	router := setupHTTPServer(routerDeps{
		logic:          serverLogic,
		evaluator:      eng.Evaluator,
		storage:        storage,
		queue:          infra.Queue,
		requestTimeout: time.Duration(cfg.ServerTimeOutInSeconds) * time.Second,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		log.Printf("Starting server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerTimeOutInSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
