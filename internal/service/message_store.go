package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cartpulse/cartpulse/internal/cache"
	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/repository"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// MessageStore is the append-only chat history of every cart.
type MessageStore interface {
	// ListMessages returns up to domain.HistoryPageSize messages older than
	// before (all when nil), oldest first.
	ListMessages(ctx context.Context, cartID string, before *time.Time) ([]domain.ChatMessage, error)

	// AppendMessage validates and stores a message. It fails with a
	// *domain.ValidationError when cartId, sender or message is empty.
	AppendMessage(ctx context.Context, in domain.NewMessage) (*domain.ChatMessage, error)
}

type messageStoreImpl struct {
	repo     repository.MessageRepository
	cache    cache.MessageCache
	cacheTTL time.Duration
	sf       singleflight.Group
	now      func() time.Time
}

// NewMessageStore creates a MessageStore. msgCache may be nil.
func NewMessageStore(repo repository.MessageRepository, msgCache cache.MessageCache, cacheTTL time.Duration) MessageStore {
	return &messageStoreImpl{
		repo:     repo,
		cache:    msgCache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (s *messageStoreImpl) ListMessages(ctx context.Context, cartID string, before *time.Time) ([]domain.ChatMessage, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, &domain.ValidationError{Fields: []string{"cartId"}}
	}

	// The latest page changes on every append, so only cursor pages are cached.
	if s.cache == nil || before == nil {
		return s.fetch(ctx, cartID, before)
	}

	version, err := s.cache.Version(ctx, cartID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCartID, cartID).Msg("cache version error")
		return s.fetch(ctx, cartID, before)
	}

	cacheKey := s.cache.BuildKey(cartID, version, *before, domain.HistoryPageSize)

	result, err, _ := s.sf.Do(cacheKey, func() (interface{}, error) {
		return s.fetchWithCache(ctx, cartID, before, cacheKey)
	})
	if err != nil {
		return nil, err
	}

	messages, ok := result.([]domain.ChatMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	// singleflight shares the slice between callers.
	out := make([]domain.ChatMessage, len(messages))
	copy(out, messages)
	return out, nil
}

func (s *messageStoreImpl) fetch(ctx context.Context, cartID string, before *time.Time) ([]domain.ChatMessage, error) {
	messages, err := s.repo.ListBefore(ctx, cartID, before, domain.HistoryPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages from repository: %w", err)
	}
	reverse(messages)
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return messages, nil
}

func (s *messageStoreImpl) fetchWithCache(ctx context.Context, cartID string, before *time.Time, cacheKey string) ([]domain.ChatMessage, error) {
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		metrics.HistoryCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.HistoryCache.WithLabelValues("miss").Inc()

	if !errors.Is(err, cache.ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	messages, err := s.fetch(ctx, cartID, before)
	if err != nil {
		return nil, err
	}

	// Store in cache (async to avoid blocking response)
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(cacheCtx, cacheKey, messages, s.cacheTTL); err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("cache set error")
		}
	}()

	return messages, nil
}

func (s *messageStoreImpl) AppendMessage(ctx context.Context, in domain.NewMessage) (*domain.ChatMessage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ts := s.now()
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		ts = *in.Timestamp
	}

	msg := &domain.ChatMessage{
		CartID:    strings.TrimSpace(in.CartID),
		Sender:    in.Sender,
		Message:   in.Message,
		ClientID:  in.ClientID,
		Timestamp: ts,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.BumpVersion(ctx, msg.CartID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldCartID, msg.CartID).Msg("failed to invalidate history cache")
		}
	}

	return msg, nil
}

func reverse(messages []domain.ChatMessage) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
