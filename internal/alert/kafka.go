package alert

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/breatheroute/airwatch/internal/airquality"
)

// MessageWriter is the subset of *kafkago.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaConfig holds configuration for the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Clock   clockwork.Clock

	// Writer overrides the writer built from Brokers and Topic.
	Writer MessageWriter
}

// KafkaPublisher produces alerts to a Kafka topic keyed by city, so alerts
// for one city stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	clock  clockwork.Clock
}

// NewKafkaPublisher creates a Kafka publisher.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	w := cfg.Writer
	if w == nil {
		w = &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &KafkaPublisher{writer: w, clock: clock}
}

// Publish writes all alerts in a single WriteMessages call.
func (p *KafkaPublisher) Publish(ctx context.Context, alerts []airquality.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, len(alerts))
	for i, a := range alerts {
		data, err := encodeEvent(a, p.clock)
		if err != nil {
			return err
		}

		headers := make([]kafkago.Header, 0, 4)
		for k, v := range attributes(a) {
			headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
		}

		msgs[i] = kafkago.Message{
			Key:     []byte(a.City),
			Value:   data,
			Headers: headers,
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
