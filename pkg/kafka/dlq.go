package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopicPrefix prefixes every dead-letter topic.
const DLQTopicPrefix = TopicPrefix + ".dlq"

// DLQTopic names the dead-letter topic for a source topic.
func DLQTopic(originalTopic string) string {
	return DLQTopicPrefix + "." + originalTopic
}

// DLQProducer parks messages a consumer gave up on.
type DLQProducer struct {
	writer messageWriter
	logger *slog.Logger
}

var _ DeadLetterPublisher = (*DLQProducer)(nil)

// NewDLQProducer writes one message per batch so a parked message is never
// held back behind a batch timeout.
func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	w := newWriter(ProducerConfig{
		Brokers:      brokers,
		BatchSize:    1,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}, &kafka.LeastBytes{})
	return &DLQProducer{writer: w, logger: logger}
}

// dlqMessage keeps the original key, value and headers and records where the
// message came from and why it failed.
func dlqMessage(orig kafka.Message, lastErr error, group string) kafka.Message {
	headers := append(make([]kafka.Header, 0, len(orig.Headers)+5), orig.Headers...)
	add := func(key, value string) {
		headers = append(headers, kafka.Header{Key: "dlq." + key, Value: []byte(value)})
	}
	add("original_topic", orig.Topic)
	add("original_partition", strconv.Itoa(orig.Partition))
	add("original_offset", strconv.FormatInt(orig.Offset, 10))
	add("consumer_group", group)
	if lastErr != nil {
		add("error", lastErr.Error())
	}
	return kafka.Message{
		Topic:   DLQTopic(orig.Topic),
		Key:     orig.Key,
		Value:   orig.Value,
		Headers: headers,
	}
}

// Publish sends orig to its dead-letter topic.
func (d *DLQProducer) Publish(ctx context.Context, orig kafka.Message, lastErr error, group string) error {
	msg := dlqMessage(orig, lastErr, group)
	attrs := []any{
		slog.String("dlq_topic", msg.Topic),
		slog.Int64("offset", orig.Offset),
		slog.String("consumer_group", group),
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		d.logger.ErrorContext(ctx, "dead-letter publish failed", append(attrs, slog.String("error", err.Error()))...)
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	d.logger.WarnContext(ctx, "message dead-lettered", attrs...)
	return nil
}

// Close closes the writer.
func (d *DLQProducer) Close() error {
	return d.writer.Close()
}
