package kafka

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// Producer publishes JSON messages to one topic.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

// Publish marshals msg and writes it under key. Messages sharing a key land on
// the same partition.
func (p *Producer) Publish(ctx context.Context, key string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal message")
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}); err != nil {
		return pkgerrors.Wrapf(err, "write to %s", p.writer.Topic)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
