package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dexflow-labs/dexflow/params"
	"github.com/dexflow-labs/dexflow/pkg/api"
	"github.com/dexflow-labs/dexflow/pkg/pipeline"
	"github.com/dexflow-labs/dexflow/pkg/queue"
	"github.com/dexflow-labs/dexflow/pkg/quote"
	"github.com/dexflow-labs/dexflow/pkg/storage"
	"github.com/dexflow-labs/dexflow/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/routerd.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Storage: orders + jobs in Pebble ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Storage.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Venues ----
	// Two mocked competing venues quoting around the same mid price. Swap in
	// real aggregator clients here; the pipeline only sees quote.Provider.
	venueA := quote.NewMockProvider("VenueA", 205.0, 0.02, 0.003)
	venueB := quote.NewMockProvider("VenueB", 205.0, 0.02, 0.0025)

	// ---- Broadcast hub ----
	hub := api.NewHub(sugar)

	// ---- Execution pipeline + retry scheduler ----
	executor := pipeline.NewExecutor(store, venueA, venueB, hub, cfg.Pipeline.StageDelay, sugar)

	q := queue.New(queue.Config{
		Concurrency:  cfg.Queue.Concurrency,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		Lease:        cfg.Queue.Lease,
		Poll:         cfg.Queue.Poll,
		CompletedTTL: cfg.Queue.CompletedTTL,
		FailedTTL:    cfg.Queue.FailedTTL,
	}, executor, store, util.RealClock{}, sugar)
	q.OnRetry = executor.HandleRetry
	q.OnExhausted = executor.HandleExhausted

	// Re-admit jobs that were pending when the previous process died.
	pending, err := store.LoadPendingJobs()
	if err != nil {
		sugar.Warnw("job_restore_failed", "err", err)
	} else if len(pending) > 0 {
		q.Restore(pending)
		sugar.Infow("jobs_restored", "count", len(pending))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q.Start(ctx)

	// Queue lifecycle events: consumed here for logging; the pipeline's own
	// hooks handle broadcasting and terminal persistence.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-q.Events():
				switch ev.Type {
				case queue.EventFailed:
					sugar.Warnw("queue_job_failed", "job", ev.JobID, "order", ev.OrderID,
						"attempt", ev.Attempt, "err", ev.Err)
				case queue.EventStalled:
					sugar.Warnw("queue_job_stalled", "job", ev.JobID, "order", ev.OrderID)
				case queue.EventRetrying:
					sugar.Infow("queue_job_retrying", "job", ev.JobID, "order", ev.OrderID,
						"attempt", ev.Attempt, "delay", ev.Delay)
				case queue.EventCompleted:
					sugar.Infow("queue_job_completed", "job", ev.JobID, "order", ev.OrderID,
						"attempt", ev.Attempt)
				}
			}
		}
	}()

	// ---- API Server ----
	server := api.NewServer(store, q, hub, sugar)

	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("routerd_started",
		"addr", cfg.API.Addr,
		"concurrency", cfg.Queue.Concurrency,
		"max_attempts", cfg.Queue.MaxAttempts,
		"backoff_base_ms", cfg.Queue.BackoffBase.Milliseconds(),
		"lease_ms", cfg.Queue.Lease.Milliseconds())

	<-ctx.Done()
	sugar.Info("shutdown_signal_received")

	// Graceful shutdown: stop intake, let in-flight jobs finish within the
	// grace period, then close broadcast sinks.
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutCtx); err != nil {
		sugar.Warnw("api_shutdown_error", "err", err)
	}
	q.Stop(shutCtx)
	sugar.Info("routerd_stopped")
}
