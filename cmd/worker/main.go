package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
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

var postgresIsReady, rabbitIsReady bool

func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	cfg := configs.InitConfig()
	args := os.Args
	slog.Info("Running assignment worker command", "args", args, "len_args", len(args))
	if len(args) < 2 {
		log.Fatal("Insufficient arguments are provided in calling the command")
		return
	}

	// queueClass is an enum ('critical','default','bulk')
	// workerNumber only needs to be unique among the workers of a queue class
	var queueClass, workerNumber string
	// In the Kubernetes helm, it passes firstArg and secondArgs as one string arg: "{firstArg} {secondArg}"
	if strings.Contains(args[1], " ") {
		splitArgs := strings.Split(args[1], " ")
		if len(splitArgs) < 2 {
			log.Fatal("Insufficient args detected when splitting the first arg, split args: ", splitArgs)
			return
		}
		queueClass = splitArgs[0]
		workerNumber = splitArgs[1]
	} else {
		if len(args) < 3 {
			log.Fatal("Insufficient arguments are provided in calling the command")
			return
		}
		queueClass = args[1]
		workerNumber = args[2]
	}

	class := domain.QueueClass(queueClass)
	if class != domain.CriticalQueue && class != domain.DefaultQueue && class != domain.BulkQueue {
		log.Fatal("Invalid argument is set for queue class, it can only be critical, default, or bulk")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()
	postgresIsReady = true
	slog.Info("Postgres connection has been initialized successfully")

	rabbitClient, err := rabbitmq.NewRabbitMQClient(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.GetMainQueueNames(), cfg.RabbitMQ.PrefetchCount)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = rabbitClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()
	rabbitIsReady = true
	slog.Info("RabbitMQ connection has been initialized successfully")

	recorder := metrics.NewPrometheus(nil, metrics.DefaultNamespace)
	infra := engine.Infra{Storage: storage, Queue: rabbitClient, Metrics: recorder}
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

	queues := cfg.RabbitMQ.QueueNames()
	eng := engine.New(infra, cfg.Assignment, queues)
	jobHandler := scheduler.NewJobHandler(eng.Runner, rabbitClient, queues, cfg.Assignment.RetryPolicies()).WithMetrics(recorder)

	jobTimeout := time.Duration(cfg.WorkerTimeOutInSeconds) * time.Second
	handlerFunc := func(msg domain.Message) {
		// Each job gets cfg.WorkerTimeOutInSeconds seconds to finish
		jobCtx, cancelJob := context.WithTimeout(ctx, jobTimeout)
		defer cancelJob()

		result := jobHandler.Handle(jobCtx, msg)
		slog.Debug("Job is handled", "outcome", result.Outcome.String(), "attempt", result.Attempt)
	}

	queueName := queues.For(class)
	for i := 0; i < cfg.RabbitMQ.ConsumersPerQueueClass; i++ {
		// The consumer name must be unique for each worker, so workerNumber is part of it
		consumerName := "assigner:" + queueClass + ":" + workerNumber + ":" + strconv.Itoa(i)
		slog.Info("Creating consumer for RabbitMQ", "queue_name", queueName, "consumer_name", consumerName)
		err = rabbitClient.ConsumeMessages(consumerName, queueName, handlerFunc)
		if err != nil {
			log.Fatalf("Failed to start consuming messages: %v", err)
		}
	}
	slog.Info("Consumers are created successfully", "queue_name", queueName, "consumers_count", cfg.RabbitMQ.ConsumersPerQueueClass)

	// Running HTTP Server in order to have liveness and readiness HTTP APIs
	srv := setUpHealthCheckerAPIs(cfg, storage, rabbitClient)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	slog.Info("Worker is running. To exit press CTRL+C", "worker_num", workerNumber, "queue_class", queueClass)
	<-sigChan
	slog.Info("Worker is shutting down...", "worker_num", workerNumber)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server forced to shutdown", "error", err.Error())
	}
}

func setUpHealthCheckerAPIs(cfg *configs.Config, storage domain.Storage, queue domain.Queue) *http.Server {
	r := gin.Default()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady && rabbitIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}

		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
	})
	r.GET("/liveness", func(c *gin.Context) {
		err := storage.Ping(c.Request.Context())
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if !queue.IsHealthy() {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.WorkerHealthPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Starting health server on port %s\n", cfg.WorkerHealthPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	return srv
}
