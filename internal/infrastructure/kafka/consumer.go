package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// reader is the part of *kafka.Reader the consumer needs.
type reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// readBackoff is the pause after a failed read, so a broker outage is not
// retried in a tight loop.
const readBackoff = time.Second

type Consumer struct {
	reader  reader
	logger  zerolog.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, logger zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:  r,
		backoff: readBackoff,
		logger:  logger.With().Str("component", "kafka_consumer").Str("topic", topic).Logger(),
	}
}

// Consume feeds every message to handler until ctx is done. Handler errors are
// logged and the message is committed anyway.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Dur("retry_in", c.backoff).Msg("error reading message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error().Err(err).Str("key", string(msg.Key)).Int64("offset", msg.Offset).Msg("error handling message")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
