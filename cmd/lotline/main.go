// Package main provides the lotline service: the lot lifecycle and
// material-balance engine plus the offline sync worker that reconciles
// field-device batches against the live ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lotline-io/lotline/internal/config"
	"github.com/lotline-io/lotline/internal/offline"
	"github.com/lotline-io/lotline/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "lotline"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting lotline service",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	logger.Info("Database connected",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	workerConfig, err := offline.LoadWorkerConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load sync worker configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reconciler := offline.New(dbConn)
	worker := offline.NewWorker(reconciler, workerConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sync worker exited", slog.String("error", err.Error()))
			stop()
		}
	}()

	if workerConfig.KafkaEnabled() {
		consumer := offline.NewConsumer(reconciler, workerConfig)

		defer func() {
			_ = consumer.Close()
		}()

		logger.Info("Kafka submit consumer enabled",
			slog.String("topic", workerConfig.KafkaTopic),
			slog.String("group_id", workerConfig.KafkaGroupID),
		)

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Kafka consumer exited", slog.String("error", err.Error()))
				stop()
			}
		}()
	} else {
		logger.Info("Kafka submit consumer disabled",
			slog.String("note", "configure kafka_brokers and kafka_topic in .lotline.yaml to enable"),
		)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	wg.Wait()
	logger.Info("lotline service stopped")
}
