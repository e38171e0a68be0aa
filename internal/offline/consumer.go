package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/lotline-io/lotline/internal/ledger"
)

// Consumer feeds kafka-published submit batches into the reconciler. Devices
// on flaky links publish batches to a topic instead of calling submit
// directly; offsets are committed only after the batch is durably queued, and
// the (client_id, client_txn_id) unique constraint makes redelivery harmless.
type Consumer struct {
	reader     *kafka.Reader
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewConsumer creates a consumer reading submit batches from the configured topic.
func NewConsumer(reconciler *Reconciler, cfg *WorkerConfig) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader:     reader,
		reconciler: reconciler,
		logger:     reconciler.logger.With(slog.String("component", "offline.consumer")),
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Kafka consumer started",
		slog.String("topic", c.reader.Config().Topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			return fmt.Errorf("fetch submit batch: %w", err)
		}

		var req SubmitRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			// A malformed batch can never succeed; skip it and move on.
			c.logger.ErrorContext(ctx, "Dropping malformed submit batch",
				slog.String("key", string(msg.Key)),
				slog.String("error", err.Error()))

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("commit malformed batch: %w", err)
			}

			continue
		}

		if _, err := c.reconciler.Submit(ctx, req); err != nil {
			if ledger.IsBusiness(err) {
				// Invalid batches never become valid; drop them.
				c.logger.ErrorContext(ctx, "Dropping invalid submit batch",
					slog.String("client_id", req.ClientID),
					slog.String("error", err.Error()))

				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					return fmt.Errorf("commit invalid batch: %w", err)
				}

				continue
			}

			// Leave the offset uncommitted so the batch is redelivered.
			c.logger.ErrorContext(ctx, "Submit failed, batch will be redelivered",
				slog.String("client_id", req.ClientID),
				slog.String("error", err.Error()))

			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit submit batch: %w", err)
		}
	}
}

// Close releases the underlying kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
