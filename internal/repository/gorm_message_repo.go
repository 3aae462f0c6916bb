package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create inserts a message.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	l := log.Ctx(ctx)

	msg.Timestamp = normalizeTime(msg.Timestamp)
	if msg.ID == "" {
		id, err := NewMessageID(msg.Timestamp)
		if err != nil {
			return err
		}
		msg.ID = id
	}

	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		l.Error().Err(err).Str(log.FieldCartID, msg.CartID).Msg("failed to insert chat message")
		return fmt.Errorf("failed to insert message: %w", err)
	}

	l.Debug().Str(log.FieldCartID, msg.CartID).Str("message_id", msg.ID).Msg("chat message stored")
	return nil
}

// ListBefore returns the newest messages of a cart older than before.
func (r *GormMessageRepository) ListBefore(ctx context.Context, cartID string, before *time.Time, limit int) ([]domain.ChatMessage, error) {
	query := r.db.WithContext(ctx).Where("cart_id = ?", cartID)
	if before != nil {
		query = query.Where("timestamp < ?", cursorTime(*before))
	}

	var msgs []domain.ChatMessage
	if err := query.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldCartID, cartID).Msg("failed to list chat messages")
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// Close is a no-op; the shared *gorm.DB is closed by its owner.
func (r *GormMessageRepository) Close() error {
	return nil
}
