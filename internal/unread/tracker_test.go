package unread

import (
	"context"
	"sync"
	"testing"

	"github.com/cartpulse/cartpulse/internal/domain"
)

type sent struct {
	userID  string
	event   string
	payload interface{}
}

type fakeNotifier struct {
	mu          sync.Mutex
	connections map[string]int
	sent        []sent
}

func (f *fakeNotifier) SendToUser(userID, event string, payload interface{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.connections[userID]
	if n > 0 {
		f.sent = append(f.sent, sent{userID, event, payload})
	}
	return n
}

func TestTracker_AccumulateAndMarkRead(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{connections: map[string]int{"bob": 1}}
	tr := NewTracker(NewMemoryStore(), notifier, false)

	for i := 0; i < 3; i++ {
		if err := tr.Increment(ctx, "bob", "42"); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	_ = tr.Increment(ctx, "bob", "7")

	counts, _ := tr.Counts(ctx, "bob")
	if counts["42"] != 3 || counts["7"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	if err := tr.MarkRead(ctx, "bob", "42"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	counts, _ = tr.Counts(ctx, "bob")
	if _, ok := counts["42"]; ok {
		t.Fatalf("chat 42 still present after MarkRead: %v", counts)
	}

	if !tr.OnLogin(ctx, "bob") {
		t.Fatal("OnLogin sent nothing with chat 7 unread")
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent = %d events, want 1", len(notifier.sent))
	}
	summary := notifier.sent[0].payload.(domain.UnreadSummary)
	if notifier.sent[0].event != domain.EventUnreadMessages || summary.TotalUnread != 1 {
		t.Fatalf("sent %+v", notifier.sent[0])
	}
	if _, ok := summary.ChatCounts["42"]; ok {
		t.Fatal("read chat reported again on login")
	}
}

func TestTracker_OnLoginNothingUnread(t *testing.T) {
	notifier := &fakeNotifier{connections: map[string]int{"bob": 2}}
	tr := NewTracker(NewMemoryStore(), notifier, false)

	if tr.OnLogin(context.Background(), "bob") {
		t.Fatal("OnLogin reported a send with zero unread")
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("sent %d events, want none", len(notifier.sent))
	}
}

func TestTracker_ClearOnLogin(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{connections: map[string]int{"bob": 1}}
	tr := NewTracker(NewMemoryStore(), notifier, true)

	_ = tr.Increment(ctx, "bob", "42")
	_ = tr.Increment(ctx, "carol", "42")

	if !tr.OnLogin(ctx, "bob") {
		t.Fatal("OnLogin sent nothing")
	}
	if counts, _ := tr.Counts(ctx, "bob"); len(counts) != 0 {
		t.Fatalf("counts after login = %v, want cleared", counts)
	}
	if counts, _ := tr.Counts(ctx, "carol"); counts["42"] != 1 {
		t.Fatalf("other user's counts touched: %v", counts)
	}

	// An offline user keeps the counts until a connection receives them.
	if tr.OnLogin(ctx, "carol") {
		t.Fatal("OnLogin reported delivery without connections")
	}
	if counts, _ := tr.Counts(ctx, "carol"); counts["42"] != 1 {
		t.Fatalf("carol's counts cleared without delivery: %v", counts)
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Incr(ctx, "u", "c")
		}()
	}
	wg.Wait()

	all, _ := s.All(ctx, "u")
	if all["c"] != 50 {
		t.Fatalf("count = %d, want 50", all["c"])
	}
}

func TestMemoryStore_DeleteUnknownIsNoop(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Delete(context.Background(), "ghost", "c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
