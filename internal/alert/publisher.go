package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/breatheroute/airwatch/internal/airquality"
)

// Publisher fans out newly raised alerts after their batch has committed.
type Publisher interface {
	Publish(ctx context.Context, alerts []airquality.Alert) error
	Close() error
}

// Event is the wire form of a published alert.
type Event struct {
	ID          int64     `json:"id"`
	City        string    `json:"city"`
	Date        string    `json:"date"`
	OverallAQI  int       `json:"overall_aqi"`
	Level       string    `json:"aqi_level"`
	PublishedAt time.Time `json:"published_at"`
}

// NewEvent builds the wire form of an alert stamped with the clock's time.
func NewEvent(a airquality.Alert, clock clockwork.Clock) Event {
	return Event{
		ID:          a.ID,
		City:        a.City,
		Date:        airquality.FormatDate(a.Date),
		OverallAQI:  a.OverallAQI,
		Level:       string(a.Level),
		PublishedAt: clock.Now().UTC(),
	}
}

func encodeEvent(a airquality.Alert, clock clockwork.Clock) ([]byte, error) {
	data, err := json.Marshal(NewEvent(a, clock))
	if err != nil {
		return nil, fmt.Errorf("serialize alert %d: %w", a.ID, err)
	}
	return data, nil
}

// attributes are copied onto each message so consumers can filter without
// decoding the payload.
func attributes(a airquality.Alert) map[string]string {
	return map[string]string{
		"city":        a.City,
		"date":        airquality.FormatDate(a.Date),
		"aqi_level":   string(a.Level),
		"overall_aqi": strconv.Itoa(a.OverallAQI),
	}
}

// NoopPublisher discards alerts.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, []airquality.Alert) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }

var _ Publisher = NoopPublisher{}
