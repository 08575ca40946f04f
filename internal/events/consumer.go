package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

const consumerGroup = "checkout-service"

// MessageReader is the subset of *kafka.Reader used here.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TransferProcessor reconciles one bank notification.
type TransferProcessor interface {
	Process(ctx context.Context, n models.TransferNotification) (models.WebhookOutcome, error)
}

// TransferConsumer feeds bank notifications published on Kafka (by a bank
// connector instead of the HTTP webhook) into the reconciler.
type TransferConsumer struct {
	reader          MessageReader
	processor       TransferProcessor
	initialInterval time.Duration
	maxInterval     time.Duration
}

func NewTransferReader(brokers []string, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  consumerGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

func NewTransferConsumer(reader MessageReader, processor TransferProcessor) *TransferConsumer {
	return &TransferConsumer{
		reader:          reader,
		processor:       processor,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
	}
}

// Run consumes until ctx is cancelled. A message is committed only after it has
// been reconciled or found malformed. Infrastructure failures are retried until
// they clear; if ctx ends first the message stays uncommitted and the group
// redelivers it.
func (c *TransferConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	telemetry.Logger.Info("Started consuming bank transfer notifications")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			telemetry.Logger.Warn("Leaving transfer notification uncommitted",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			telemetry.Logger.Error("Error committing message", zap.Error(err))
		}
	}
}

// handle returns an error only when ctx ended before msg could be reconciled.
func (c *TransferConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var wire models.TransferWebhook
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		telemetry.Logger.Error("Error unmarshaling transfer notification",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}
	n, err := wire.ToNotification(msg.Value)
	if err != nil {
		telemetry.Logger.Error("Invalid transfer notification",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = 0

	var out models.WebhookOutcome
	err = backoff.RetryNotify(func() error {
		var perr error
		out, perr = c.processor.Process(ctx, n)
		return perr
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		telemetry.Logger.Error("Error processing transfer notification, retrying",
			zap.Int64("provider_txn_id", n.ProviderTxnID),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return err
	}

	telemetry.Logger.Info("Processed transfer notification",
		zap.Int64("provider_txn_id", n.ProviderTxnID),
		zap.Bool("success", out.Success),
		zap.String("code", string(out.Code)),
	)
	return nil
}
