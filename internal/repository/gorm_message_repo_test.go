package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cartpulse/cartpulse/internal/domain"
)

func TestGormMessageRepository_CreateAssignsID(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t, &domain.ChatMessage{}))
	ctx := context.Background()

	ts := time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.UTC)
	msg := &domain.ChatMessage{CartID: "42", Sender: "alice", Message: "hi", ClientID: "tmp-1", Timestamp: ts}
	if err := repo.Create(ctx, msg); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(msg.ID) != 26 {
		t.Fatalf("ID = %q, want a ULID", msg.ID)
	}
	if !msg.Timestamp.Equal(ts.Truncate(time.Millisecond)) {
		t.Fatalf("Timestamp = %v, want millisecond precision", msg.Timestamp)
	}

	got, err := repo.ListBefore(ctx, "42", nil, 30)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(got) != 1 || got[0].ID != msg.ID || got[0].ClientID != "tmp-1" {
		t.Fatalf("ListBefore = %+v", got)
	}
}

func TestGormMessageRepository_ListBeforeOrderAndLimit(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t, &domain.ChatMessage{}))
	ctx := context.Background()

	t0 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := &domain.ChatMessage{CartID: "c1", Sender: "bob", Message: "m", Timestamp: t0.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(ctx, m); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := &domain.ChatMessage{CartID: "c2", Sender: "eve", Message: "x", Timestamp: t0}
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := repo.ListBefore(ctx, "c1", nil, 3)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if !all[0].Timestamp.Equal(t0.Add(4*time.Minute)) || !all[2].Timestamp.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("want newest first, got %v .. %v", all[0].Timestamp, all[2].Timestamp)
	}

	before := t0.Add(2 * time.Minute)
	older, err := repo.ListBefore(ctx, "c1", &before, 30)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(older) != 2 {
		t.Fatalf("len = %d, want 2", len(older))
	}
	for _, m := range older {
		if !m.Timestamp.Before(before) {
			t.Fatalf("message at %v is not before %v", m.Timestamp, before)
		}
	}
}

func TestGormMessageRepository_CreateRejectsUnrepresentableTime(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t, &domain.ChatMessage{}))

	for _, ts := range []time.Time{
		time.UnixMilli(-1),
		time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC),
		time.UnixMilli(300000000000000),
	} {
		msg := &domain.ChatMessage{CartID: "42", Sender: "alice", Message: "hi", Timestamp: ts}
		if err := repo.Create(context.Background(), msg); err == nil {
			t.Fatalf("Create(%v) succeeded, want error", ts)
		}
	}
}

func TestGormMessageRepository_ListBeforeSubMillisecondCursor(t *testing.T) {
	repo := NewGormMessageRepository(newTestDB(t, &domain.ChatMessage{}))
	ctx := context.Background()

	stored := time.Date(2025, 7, 1, 10, 0, 0, 5_000_000, time.UTC)
	if err := repo.Create(ctx, &domain.ChatMessage{CartID: "c1", Sender: "bob", Message: "m", Timestamp: stored}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	before := stored.Add(400 * time.Microsecond)
	got, err := repo.ListBefore(ctx, "c1", &before, 30)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want the message stored earlier in the same millisecond", len(got))
	}

	exact := stored
	got, err = repo.ListBefore(ctx, "c1", &exact, 30)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0 for a cursor equal to the stored time", len(got))
	}
}
