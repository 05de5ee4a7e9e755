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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sf7293/task-assigner/configs"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/engine"
	"github.com/sf7293/task-assigner/internal/metrics"
	"github.com/sf7293/task-assigner/internal/postgres"
	"github.com/sf7293/task-assigner/internal/rabbitmq"
	"github.com/sf7293/task-assigner/internal/redis"
	"github.com/sf7293/task-assigner/internal/scheduler"
)

// The recovery command re-dispatches every active unassigned task. With no argument it keeps
// sweeping every cfg.Assignment.SweepIntervalInSeconds seconds; "once" runs a single sweep.
func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	cfg := configs.InitConfig()
	args := os.Args
	runOnce := len(args) > 1 && args[1] == "once"
	if len(args) > 1 && !runOnce {
		log.Fatal("Invalid argument is provided, the only accepted argument is 'once'")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()
	slog.Info("Postgres connection has been initialized successfully")

	recorder := metrics.NewPrometheus(nil, metrics.DefaultNamespace)
	infra := engine.Infra{Storage: storage, Metrics: recorder}
	rabbitClient, err := rabbitmq.NewRabbitMQClient(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.GetMainQueueNames(), cfg.RabbitMQ.PrefetchCount)
	if err != nil {
		slog.Warn("RabbitMQ is unavailable, swept tasks are assigned synchronously until it answers a probe", "error", err.Error())
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

	var lock domain.DistributedLock
	redisClient, err := redis.NewClient(cfg.RedisConfig.ToRedisConnectionUri(), cfg.RedisConfig.DialTimeout())
	if err != nil {
		slog.Warn("Redis is misconfigured, sweeping without the distributed lock", "error", err.Error())
	} else {
		lock = redisClient
		infra.KeyValue = redisClient
		defer func() {
			err = redisClient.Close()
			if err != nil {
				slog.Error("An error occurred while closing Redis connection", "error", err.Error())
			}
		}()
		slog.Info("Redis client has been initialized successfully")
	}

	eng := engine.New(infra, cfg.Assignment, cfg.RabbitMQ.QueueNames())
	sweeper := scheduler.NewSweeper(storage, eng.Coordinator, lock, cfg.Assignment.SweepInterval()).WithMetrics(recorder)

	if runOnce {
		summary, err := sweeper.SweepOnce(ctx)
		if err != nil {
			log.Fatal(err)
		}
		slog.Info("One-shot recovery run finished", "found", summary.Found, "failed", summary.Failed)
		return
	}

	srv := serveMetrics(cfg.WorkerHealthPort)

	slog.Info("Sweeper is running. To exit press CTRL+C", "interval", cfg.Assignment.SweepInterval().String())
	err = sweeper.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Sweeper stopped unexpectedly", "error", err.Error())
	}
	slog.Info("Sweeper is shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server forced to shutdown", "error", err.Error())
	}
}

func serveMetrics(port string) *http.Server {
	r := gin.New()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Starting metrics server on port %s\n", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	return srv
}
