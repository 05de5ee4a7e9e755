package configs

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sf7293/task-assigner/internal/cache"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/scheduler"
)

type Config struct {
	ServerPort             string `envconfig:"SERVER_PORT" default:"8080"`
	ServerTimeOutInSeconds int64  `envconfig:"SERVER_TIME_OUT_IN_SECONDS" default:"5"`
	WorkerTimeOutInSeconds int64  `envconfig:"WORKER_TIME_OUT_IN_SECONDS" default:"60"`
	WorkerHealthPort       string `envconfig:"WORKER_HEALTH_PORT" default:"8081"`
	Database               DatabaseConfig
	RabbitMQ               RabbitMQConfig
	RedisConfig            RedisConfig
	Assignment             AssignmentConfig
}

type DatabaseConfig struct {
	Username     string `envconfig:"DB_USERNAME"`
	Password     string `envconfig:"DB_PASSWORD"`
	Host         string `envconfig:"DB_HOST"`
	Port         string `envconfig:"DB_PORT"`
	Database     string `envconfig:"DB_DATABASE"`
	DatabaseTest string `envconfig:"DB_DATABASE_TEST"`
	SSLMode      string `envconfig:"DB_SSL_MODE" default:"require"`
	PoolMaxConns int    `envconfig:"DB_POOL_MAX_CONNS" default:"4"`
}

type RabbitMQConfig struct {
	Username               string `envconfig:"RABBIT_USERNAME"`
	Password               string `envconfig:"RABBIT_PASSWORD"`
	Host                   string `envconfig:"RABBIT_HOST"`
	Port                   string `envconfig:"RABBIT_PORT"`
	CriticalJobsQueueName  string `envconfig:"CRITICAL_JOBS_QUEUE_NAME" default:"assign_critical"`
	DefaultJobsQueueName   string `envconfig:"DEFAULT_JOBS_QUEUE_NAME" default:"assign_default"`
	BulkJobsQueueName      string `envconfig:"BULK_JOBS_QUEUE_NAME" default:"assign_bulk"`
	TestJobsQueueName      string `envconfig:"TEST_JOBS_QUEUE_NAME" default:"assign_test"`
	PrefetchCount          int    `envconfig:"RABBIT_PREFETCH_COUNT" default:"1"`
	ConsumersPerQueueClass int    `envconfig:"RABBIT_CONSUMERS_PER_QUEUE_CLASS" default:"2"`
}

type RedisConfig struct {
	Username             string `envconfig:"REDIS_USERNAME"`
	Password             string `envconfig:"REDIS_PASSWORD"`
	Host                 string `envconfig:"REDIS_HOST"`
	Port                 string `envconfig:"REDIS_PORT"`
	DBIndex              int32  `envconfig:"REDIS_DB_INDEX"`
	DialTimeoutInSeconds int64  `envconfig:"REDIS_DIAL_TIME_OUT_IN_SECONDS" default:"2"`
}

// AssignmentConfig carries the tunables of the assignment engine.
type AssignmentConfig struct {
	PendingTasksTTLInSeconds       int64 `envconfig:"CACHE_PENDING_TASKS_TTL_IN_SECONDS" default:"60"`
	ActiveCountTTLInSeconds        int64 `envconfig:"CACHE_ACTIVE_COUNT_TTL_IN_SECONDS" default:"30"`
	EligibleCandidatesTTLInSeconds int64 `envconfig:"CACHE_ELIGIBLE_CANDIDATES_TTL_IN_SECONDS" default:"120"`
	TaskDetailTTLInSeconds         int64 `envconfig:"CACHE_TASK_DETAIL_TTL_IN_SECONDS" default:"60"`

	BrokerProbeTimeOutInMillis int64 `envconfig:"BROKER_PROBE_TIME_OUT_IN_MILLIS" default:"2000"`
	SweepIntervalInSeconds     int64 `envconfig:"SWEEP_INTERVAL_IN_SECONDS" default:"600"`

	BulkChunkSize              int   `envconfig:"BULK_CHUNK_SIZE" default:"50"`
	BulkRateLimitPerWindow     int64 `envconfig:"BULK_RATE_LIMIT_PER_WINDOW" default:"10"`
	BulkRateLimitWindowSeconds int64 `envconfig:"BULK_RATE_LIMIT_WINDOW_IN_SECONDS" default:"60"`

	AssignRetryBaseInSeconds    int64 `envconfig:"ASSIGN_RETRY_BASE_IN_SECONDS" default:"60"`
	AssignMaxRetries            int   `envconfig:"ASSIGN_MAX_RETRIES" default:"5"`
	RecomputeRetryBaseInSeconds int64 `envconfig:"RECOMPUTE_RETRY_BASE_IN_SECONDS" default:"30"`
	RecomputeMaxRetries         int   `envconfig:"RECOMPUTE_MAX_RETRIES" default:"3"`
	BulkRetryBaseInSeconds      int64 `envconfig:"BULK_RETRY_BASE_IN_SECONDS" default:"120"`
	BulkMaxRetries              int   `envconfig:"BULK_MAX_RETRIES" default:"3"`
}

// ToMigrationUri returns a string specifically for the migration package with the right prefix
func (d DatabaseConfig) ToMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
	)
}

// ToDbConnectionUri returns a connection URI to be used with the pgx package
func (d DatabaseConfig) ToDbConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToRabbitConnectionUri returns a connection URI to be used with the rabbitmq/amqp091-go package
func (d RabbitMQConfig) ToRabbitConnectionUri() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
	)
}

// QueueNames maps each queue class to its broker queue
func (d RabbitMQConfig) QueueNames() domain.QueueNames {
	return domain.QueueNames{
		domain.CriticalQueue: d.CriticalJobsQueueName,
		domain.DefaultQueue:  d.DefaultJobsQueueName,
		domain.BulkQueue:     d.BulkJobsQueueName,
	}
}

// QueueNamesForTest routes every queue class to the single test queue
func (d RabbitMQConfig) QueueNamesForTest() domain.QueueNames {
	return domain.QueueNames{
		domain.CriticalQueue: d.TestJobsQueueName,
		domain.DefaultQueue:  d.TestJobsQueueName,
		domain.BulkQueue:     d.TestJobsQueueName,
	}
}

// GetMainQueueNames returns a list of important queue names which must be defined before running workers
func (d RabbitMQConfig) GetMainQueueNames() []string {
	return []string{d.CriticalJobsQueueName, d.DefaultJobsQueueName, d.BulkJobsQueueName}
}

// ToRedisConnectionUri returns a connection URI to be used with the redis/go-redis/v9 package
func (d RedisConfig) ToRedisConnectionUri() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DBIndex,
	)
}

func (d RedisConfig) DialTimeout() time.Duration {
	return time.Duration(d.DialTimeoutInSeconds) * time.Second
}

func (a AssignmentConfig) CacheTTLs() cache.TTLConfig {
	return cache.TTLConfig{
		PendingTasks:       time.Duration(a.PendingTasksTTLInSeconds) * time.Second,
		ActiveCount:        time.Duration(a.ActiveCountTTLInSeconds) * time.Second,
		EligibleCandidates: time.Duration(a.EligibleCandidatesTTLInSeconds) * time.Second,
		TaskDetail:         time.Duration(a.TaskDetailTTLInSeconds) * time.Second,
	}
}

func (a AssignmentConfig) ProbeTimeout() time.Duration {
	return time.Duration(a.BrokerProbeTimeOutInMillis) * time.Millisecond
}

func (a AssignmentConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepIntervalInSeconds) * time.Second
}

func (a AssignmentConfig) BulkRateLimitWindow() time.Duration {
	return time.Duration(a.BulkRateLimitWindowSeconds) * time.Second
}

func (a AssignmentConfig) RetryPolicies() scheduler.Policies {
	return scheduler.Policies{
		domain.AssignTaskJob: {
			BaseDelay:   time.Duration(a.AssignRetryBaseInSeconds) * time.Second,
			MaxAttempts: a.AssignMaxRetries,
		},
		domain.RecomputeForUserJob: {
			BaseDelay:   time.Duration(a.RecomputeRetryBaseInSeconds) * time.Second,
			MaxAttempts: a.RecomputeMaxRetries,
		},
		domain.BulkRecomputeJob: {
			BaseDelay:   time.Duration(a.BulkRetryBaseInSeconds) * time.Second,
			MaxAttempts: a.BulkMaxRetries,
		},
	}
}

// LoadConfig reads an optional .env file and then the environment
func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("unable to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("cannot load env: %w", err)
	}

	return &cfg, nil
}

func InitConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	return cfg
}
