package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		ENV string
	}

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		Driver   string
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	// Redis backs the job queues.
	Redis RedisConfig

	// Cache is the overlap cache connection. Falls back to Redis when unset.
	Cache RedisConfig

	GRPC struct {
		Host string
		Port string
	}

	HTTP struct {
		Host string
		Port string
	}

	Queue struct {
		Prefix          string
		Attempts        int
		Backoff         time.Duration
		Concurrency     int
		PollInterval    time.Duration
		LockDuration    time.Duration
		StalledInterval time.Duration
		MaxStalled      int
		JobTimeout      time.Duration
		KeepCompleted   int
		KeepFailed      int
	}

	Schedule struct {
		PrematchCron string
		Enabled      bool
	}

	Trace struct {
		Stdout bool
	}
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// New builds the configuration from the environment.
// `.env.local` and `.env` are loaded first when present; variables already
// set in the process environment win.
func New() *Config {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{}

	cfg.App.ENV = getEnvDefault("APP_ENV", "development")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "tubematch")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.Driver = strings.ToLower(getEnvDefault("DB_DRIVER", "mysql"))
	cfg.DB.DSN = getEnvDefault("DB_DSN", os.Getenv("MYSQL_DSN"))
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "tubematch")

		switch cfg.DB.Driver {
		case "postgres":
			cfg.DB.Port = getEnvDefault("DB_PORT", "5432")
			cfg.DB.DSN = fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
				cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name,
			)
		case "sqlite":
			cfg.DB.DSN = cfg.DB.Name + ".db"
		default:
			cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
			cfg.DB.DSN = fmt.Sprintf(
				"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
				cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
			)
		}
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Cache.Addr = getEnvDefault("CACHE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Cache.Password = getEnvDefault("CACHE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Cache.DB = getEnvInt("CACHE_REDIS_DB", cfg.Redis.DB)

	// gRPC
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")

	// HTTP
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "127.0.0.1")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")

	// Queue
	cfg.Queue.Prefix = getEnvDefault("QUEUE_PREFIX", "tubematch")
	cfg.Queue.Attempts = getEnvInt("QUEUE_ATTEMPTS", 3)
	cfg.Queue.Backoff = getEnvDuration("QUEUE_BACKOFF", time.Second)
	cfg.Queue.Concurrency = getEnvInt("QUEUE_CONCURRENCY", 1)
	cfg.Queue.PollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", time.Second)
	cfg.Queue.LockDuration = getEnvDuration("QUEUE_LOCK_DURATION", 30*time.Second)
	cfg.Queue.StalledInterval = getEnvDuration("QUEUE_STALLED_INTERVAL", 30*time.Second)
	cfg.Queue.MaxStalled = getEnvInt("QUEUE_MAX_STALLED", 1)
	cfg.Queue.JobTimeout = getEnvDuration("QUEUE_JOB_TIMEOUT", 5*time.Minute)
	cfg.Queue.KeepCompleted = getEnvInt("QUEUE_KEEP_COMPLETED", 100)
	cfg.Queue.KeepFailed = getEnvInt("QUEUE_KEEP_FAILED", 500)

	// Schedule
	cfg.Schedule.PrematchCron = getEnvDefault("PREMATCH_CRON", "0 0 * * *")
	cfg.Schedule.Enabled = isTruthy(getEnvDefault("PREMATCH_SCHEDULE_ENABLED", "true"))

	cfg.Trace.Stdout = isTruthy(os.Getenv("TRACE_STDOUT"))

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v, err := strconv.Atoi(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

// getEnvDuration accepts Go durations ("1500ms") or plain milliseconds ("1500").
func getEnvDuration(k string, def time.Duration) time.Duration {
	v := getEnvDefault(k, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
