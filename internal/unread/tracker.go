// Package unread tracks per-user unread chat counts for participants who
// were offline when a message arrived.
package unread

import (
	"context"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// Notifier pushes an event to every live connection of a user and returns
// how many connections it reached.
type Notifier interface {
	SendToUser(userID, event string, payload interface{}) int
}

type Tracker struct {
	store        Store
	notifier     Notifier
	clearOnLogin bool
}

// NewTracker creates a tracker. With clearOnLogin the counts reported by
// OnLogin are cleared once delivered.
func NewTracker(store Store, notifier Notifier, clearOnLogin bool) *Tracker {
	return &Tracker{
		store:        store,
		notifier:     notifier,
		clearOnLogin: clearOnLogin,
	}
}

// SetNotifier attaches the notifier after construction; the hub and the
// tracker reference each other.
func (t *Tracker) SetNotifier(n Notifier) {
	t.notifier = n
}

func (t *Tracker) Increment(ctx context.Context, userID, chatID string) error {
	if userID == "" || chatID == "" {
		return nil
	}
	n, err := t.store.Incr(ctx, userID, chatID)
	if err != nil {
		return err
	}
	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldUserID, userID).Str(log.FieldChatID, chatID).Int("unread", n).Msg("unread count incremented")
	return nil
}

// Counts returns a snapshot of the user's non-zero counts.
func (t *Tracker) Counts(ctx context.Context, userID string) (map[string]int, error) {
	return t.store.All(ctx, userID)
}

// MarkRead removes the chat's entry for the user.
func (t *Tracker) MarkRead(ctx context.Context, userID, chatID string) error {
	return t.store.Delete(ctx, userID, chatID)
}

// Summary totals the user's unread counts.
func (t *Tracker) Summary(ctx context.Context, userID string) (domain.UnreadSummary, error) {
	counts, err := t.store.All(ctx, userID)
	if err != nil {
		return domain.UnreadSummary{}, err
	}
	return domain.NewUnreadSummary(counts), nil
}

// OnLogin pushes one unreadMessages event to the user's live connections
// when anything is unread. It reports whether an event was sent.
func (t *Tracker) OnLogin(ctx context.Context, userID string) bool {
	l := log.Ctx(ctx)

	summary, err := t.Summary(ctx, userID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to load unread counts")
		return false
	}
	if summary.TotalUnread == 0 || t.notifier == nil {
		return false
	}

	reached := t.notifier.SendToUser(userID, domain.EventUnreadMessages, summary)
	l.Debug().Str(log.FieldUserID, userID).Int("total", summary.TotalUnread).Int("connections", reached).Msg("unread summary sent")

	if t.clearOnLogin && reached > 0 {
		if err := t.store.Clear(ctx, userID); err != nil {
			l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to clear unread counts after login")
		}
	}
	return reached > 0
}
