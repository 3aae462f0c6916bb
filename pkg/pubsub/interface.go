package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUntypedEvent is returned when a message on the bus has no event type.
var ErrUntypedEvent = errors.New("pubsub: event has no type")

// Event is the unit carried on the bus. Key names the entity the event is
// about, the product id for catalog events, and doubles as the Kafka
// partition key.
type Event struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEvent(eventType, key string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, Key: key, Payload: data, Timestamp: time.Now().UTC()}, nil
}

// UnmarshalPayload decodes the payload into v.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// decodeEvent parses a raw bus message. Both transports share it so a
// producer that omits the type is rejected the same way everywhere.
func decodeEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	if e.Type == "" {
		return nil, ErrUntypedEvent
	}
	return &e, nil
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber delivers events until ctx is cancelled, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
