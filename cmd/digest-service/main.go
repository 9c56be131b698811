// cmd/digest-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jobdigest/internal/common/aws"
	"jobdigest/internal/common/config"
	"jobdigest/internal/common/database"
	"jobdigest/internal/common/logger"
	"jobdigest/internal/common/observability"
	"jobdigest/internal/notify"
	"jobdigest/internal/pipeline"
	"jobdigest/internal/store"

	"jobdigest/internal/jobsource"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting digest service...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("digest-service")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	pgRepo := store.NewPostgresRepository(pg.DB, log)
	if err := pgRepo.Migrate(ctx); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}
	zapLog.Info("Schema migration applied")

	// --- Optional Redis fingerprint cache ---
	var repo store.Repository = pgRepo
	if cfg.Database.Redis.Address != "" {
		var redisClient *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")

		ttl := time.Duration(cfg.Database.Redis.TTLHours) * time.Hour
		repo = store.NewCachedRepository(pgRepo, redisClient.GetClient(), ttl, log)
	}

	// --- Optional Elasticsearch posting index ---
	var indexer pipeline.Indexer
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 10, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")

		indexer = store.NewPostingIndex(esClient.Client, cfg.Database.Elasticsearch.Index, log)
	}

	// --- Mail delivery; missing config degrades instead of crashing ---
	var sesClient notify.SESService
	if cfg.Mail.Configured() {
		client, err := aws.NewSESClient(ctx, cfg.Mail.AWSRegion)
		if err != nil {
			zapLog.Fatal("SES client init failed", zap.Error(err))
		}
		sesClient = client
		zapLog.Info("SES client initialized")
	} else {
		zapLog.Warn("mail delivery not configured, digests will not be sent")
	}
	dispatcher := notify.NewDispatcher(sesClient, cfg.Mail.FromEmail, config.GetDuration(cfg.Mail.Timeout), log)

	// --- Optional operator alerts ---
	var alerter pipeline.Alerter
	if cfg.Alerts.TopicARN != "" {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Alerts.AWSRegion)
		if err != nil {
			zapLog.Fatal("SNS client init failed", zap.Error(err))
		}
		alerter = notify.NewOperatorAlerter(snsClient, cfg.Alerts.TopicARN, log)
		zapLog.Info("SNS operator alerts enabled")
	}

	source := jobsource.NewClient(cfg.Source, log)

	orchestrator := pipeline.NewOrchestrator(
		repo, source, dispatcher, indexer, alerter, obs,
		cfg.Pipeline.Concurrency, log,
	)

	scheduler := pipeline.NewScheduler(
		orchestrator, cfg.Pipeline.IntervalHours, cfg.Pipeline.RunOnStart, log,
	)
	if err := scheduler.Start(); err != nil {
		zapLog.Fatal("scheduler start failed", zap.Error(err))
	}

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := pg.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())

		addr := fmt.Sprintf(":%d", cfg.App.MetricsPort)
		zapLog.Info("Health/Metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping scheduler...")
	scheduler.Stop()

	zapLog.Info("Digest service stopped gracefully")
}
