package alert

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airwatch/internal/airquality"
)

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	Clock     clockwork.Clock
	Logger    zerolog.Logger
}

// PubSubPublisher publishes alerts to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	clock     clockwork.Clock
	logger    zerolog.Logger
}

// NewPubSubPublisher creates a publisher for an existing topic.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		topic:     cfg.Topic,
		clock:     clock,
		logger:    cfg.Logger,
	}, nil
}

// Publish sends one message per alert and waits for every server ack.
func (p *PubSubPublisher) Publish(ctx context.Context, alerts []airquality.Alert) error {
	results := make([]*pubsub.PublishResult, 0, len(alerts))
	for _, a := range alerts {
		data, err := encodeEvent(a, p.clock)
		if err != nil {
			return err
		}
		results = append(results, p.publisher.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: attributes(a),
		}))
	}

	var errs []error
	for i, res := range results {
		id, err := res.Get(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish alert %d: %w", alerts[i].ID, err))
			continue
		}
		p.logger.Debug().
			Str("topic", p.topic).
			Str("message_id", id).
			Int64("alert_id", alerts[i].ID).
			Msg("alert published")
	}
	return errors.Join(errs...)
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}

var _ Publisher = (*PubSubPublisher)(nil)
