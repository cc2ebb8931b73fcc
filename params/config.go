package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type API struct {
	Addr string
}

type Queue struct {
	// Concurrency bounds how many jobs execute at once.
	Concurrency int
	MaxAttempts int
	// BackoffBase is the first retry delay; subsequent retries double it.
	BackoffBase time.Duration
	// Lease bounds how long a worker may hold a job before it is considered
	// stalled and re-dispatched. Must exceed worst-case pipeline latency.
	Lease time.Duration
	Poll  time.Duration
	// Retention for finished jobs: completed jobs are kept briefly, failed
	// jobs longer so operators can inspect them.
	CompletedTTL time.Duration
	FailedTTL    time.Duration
}

type Pipeline struct {
	// StageDelay simulates the wait on external operations between stages
	// (quote retrieval, settlement confirmation). Zero in tests.
	StageDelay time.Duration
}

type Storage struct {
	DataDir string
}

type Config struct {
	API      API
	Queue    Queue
	Pipeline Pipeline
	Storage  Storage
}

func Default() Config {
	return Config{
		API: API{
			Addr: ":8080",
		},
		Queue: Queue{
			Concurrency:  10,
			MaxAttempts:  3,
			BackoffBase:  2000 * time.Millisecond,
			Lease:        30000 * time.Millisecond,
			Poll:         50 * time.Millisecond,
			CompletedTTL: time.Minute,
			FailedTTL:    time.Hour,
		},
		Pipeline: Pipeline{
			StageDelay: 500 * time.Millisecond,
		},
		Storage: Storage{
			DataDir: "data",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}

	if v := os.Getenv("QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("QUEUE_BACKOFF_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Queue.BackoffBase = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("QUEUE_LEASE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Lease = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("PIPELINE_STAGE_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.StageDelay = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
