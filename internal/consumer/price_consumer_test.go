package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/pubsub"
)

type fakeSubscriber struct {
	channels map[string]chan *pubsub.Event
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{channels: map[string]chan *pubsub.Event{
		pubsub.PatternPriceDrop:     make(chan *pubsub.Event, 4),
		pubsub.PatternPriceRecorded: make(chan *pubsub.Event, 4),
	}}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channel string) (<-chan *pubsub.Event, error) {
	return f.SubscribePattern(ctx, channel)
}

func (f *fakeSubscriber) SubscribePattern(_ context.Context, pattern string) (<-chan *pubsub.Event, error) {
	ch, ok := f.channels[pattern]
	if !ok {
		return nil, errors.New("unknown pattern")
	}
	return ch, nil
}

func (f *fakeSubscriber) Unsubscribe(context.Context, string) error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.PriceChangeEvent
	done   chan struct{}
}

func (r *recordingNotifier) NotifyPriceChange(_ context.Context, ev domain.PriceChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.done <- struct{}{}
}

type recordingChecker struct {
	calls chan [2]string
}

func (r *recordingChecker) Check(_ context.Context, productID, storeID string) (*domain.PriceChangeEvent, error) {
	r.calls <- [2]string{productID, storeID}
	return nil, nil
}

func TestPriceConsumer_RoutesEvents(t *testing.T) {
	sub := newFakeSubscriber()
	notifier := &recordingNotifier{done: make(chan struct{}, 4)}
	checker := &recordingChecker{calls: make(chan [2]string, 4)}
	c := NewPriceConsumer(sub, notifier, checker)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	drop, _ := pubsub.NewEvent(pubsub.EventPriceDrop, "p1", domain.PriceChangeEvent{OldPrice: 10, NewPrice: 8})
	sub.channels[pubsub.PatternPriceDrop] <- drop

	recorded, _ := pubsub.NewEvent(pubsub.EventPriceRecorded, "p2", pubsub.PriceRecordedPayload{StoreID: "s9"})
	sub.channels[pubsub.PatternPriceRecorded] <- recorded

	select {
	case <-notifier.done:
	case <-time.After(time.Second):
		t.Fatal("price drop not forwarded")
	}
	notifier.mu.Lock()
	got := notifier.events[0]
	notifier.mu.Unlock()
	if got.ProductID != "p1" || got.OldPrice != 10 || got.NewPrice != 8 {
		t.Fatalf("forwarded %+v", got)
	}

	select {
	case call := <-checker.calls:
		if call != [2]string{"p2", "s9"} {
			t.Fatalf("Check(%v)", call)
		}
	case <-time.After(time.Second):
		t.Fatal("recorded price not checked")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestPriceConsumer_IgnoresBadPayloads(t *testing.T) {
	notifier := &recordingNotifier{done: make(chan struct{}, 1)}
	c := NewPriceConsumer(newFakeSubscriber(), notifier, &recordingChecker{calls: make(chan [2]string, 1)})

	c.HandleEvent(context.Background(), &pubsub.Event{Type: pubsub.EventPriceDrop, Payload: []byte(`"nope"`)})
	c.HandleEvent(context.Background(), &pubsub.Event{Type: "something_else", Payload: []byte(`{}`)})

	if len(notifier.events) != 0 {
		t.Fatalf("events = %v", notifier.events)
	}
}
