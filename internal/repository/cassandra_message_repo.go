package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/log"
)

const cassandraMessagesTable = `
	CREATE TABLE IF NOT EXISTS messages_by_cart (
		cart_id    text,
		ts         timestamp,
		message_id text,
		sender     text,
		message    text,
		client_id  text,
		created_at timestamp,
		PRIMARY KEY ((cart_id), ts, message_id)
	) WITH CLUSTERING ORDER BY (ts DESC, message_id DESC)`

// CassandraMessageRepository implements MessageRepository on a table
// partitioned by cart and clustered newest first.
type CassandraMessageRepository struct {
	session *gocql.Session
}

func NewCassandraMessageRepository(cfg config.CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageRepository{session: session}, nil
}

// EnsureSchema creates the messages table when missing. The keyspace must
// already exist.
func (r *CassandraMessageRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Query(cassandraMessagesTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create messages_by_cart: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	msg.Timestamp = normalizeTime(msg.Timestamp)
	if msg.ID == "" {
		id, err := NewMessageID(msg.Timestamp)
		if err != nil {
			return err
		}
		msg.ID = id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages_by_cart (
			cart_id, ts, message_id, sender, message, client_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	err := r.session.Query(query,
		msg.CartID,
		msg.Timestamp,
		msg.ID,
		msg.Sender,
		msg.Message,
		msg.ClientID,
		msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldCartID, msg.CartID).Msg("failed to insert chat message")
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) ListBefore(ctx context.Context, cartID string, before *time.Time, limit int) ([]domain.ChatMessage, error) {
	var query string
	var args []interface{}

	if before == nil {
		query = `SELECT message_id, cart_id, sender, message, client_id, ts, created_at
				 FROM messages_by_cart
				 WHERE cart_id = ?
				 LIMIT ?`
		args = []interface{}{cartID, limit}
	} else {
		query = `SELECT message_id, cart_id, sender, message, client_id, ts, created_at
				 FROM messages_by_cart
				 WHERE cart_id = ? AND ts < ?
				 LIMIT ?`
		args = []interface{}{cartID, cursorTime(*before), limit}
	}

	iter := r.session.Query(query, args...).WithContext(ctx).Iter()

	var messages []domain.ChatMessage
	var msg domain.ChatMessage
	for iter.Scan(
		&msg.ID,
		&msg.CartID,
		&msg.Sender,
		&msg.Message,
		&msg.ClientID,
		&msg.Timestamp,
		&msg.CreatedAt,
	) {
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
		msg = domain.ChatMessage{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

// parseConsistency converts a string consistency level to gocql.Consistency.
func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
