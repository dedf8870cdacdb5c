package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"power-env-alerts/internal/config"
	"power-env-alerts/internal/detector"
)

// Handler receives each decoded reading from the feed.
type Handler func(ctx context.Context, reading detector.Reading) error

// Consumer streams sensor payloads from a Kafka topic and hands each
// decoded reading to the handler. Malformed messages are logged and
// committed so a poison payload cannot wedge the group.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
	logger  zerolog.Logger
}

// NewConsumer builds a group consumer for the live sensor feed.
func NewConsumer(cfg config.KafkaConfig, handler Handler, logger zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka.topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka.group_id is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("nil reading handler")
	}

	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    minBytes,
		MaxBytes:    maxBytes,
	})

	return &Consumer{
		reader:  reader,
		handler: handler,
		logger:  logger.With().Str("component", "kafka_consumer").Logger(),
	}, nil
}

// Run blocks consuming messages until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group", c.reader.Config().GroupID).
		Msg("kafka consumer started")
	defer c.logger.Info().Msg("kafka consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			c.logger.Error().Err(err).Msg("fetch message")
			continue
		}

		reading, decodeErr := decodeMessage(msg.Value)
		if decodeErr != nil {
			c.logger.Warn().Err(decodeErr).Int64("offset", msg.Offset).Msg("skip malformed payload")
		} else if handleErr := c.handler(ctx, reading); handleErr != nil {
			c.logger.Error().Err(handleErr).Time("ts", reading.Timestamp).Msg("handle reading")
		}

		if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
			if errors.Is(commitErr, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(commitErr).Msg("commit message")
		}
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func decodeMessage(raw []byte) (detector.Reading, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return detector.Reading{}, fmt.Errorf("decode payload: %w", err)
	}
	return DecodeReading(payload, nil)
}
