package domain

import "time"

// HistoryPageSize caps every history page.
const HistoryPageSize = 30

// ChatMessage is a persisted cart chat message. Rows are append-only.
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"_id"`
	CartID    string    `gorm:"type:varchar(64);not null;index:idx_cart_messages_cart_ts,priority:1" json:"cartId"`
	Sender    string    `gorm:"type:varchar(255);not null" json:"sender"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	ClientID  string    `gorm:"type:varchar(128)" json:"clientId,omitempty"`
	Timestamp time.Time `gorm:"not null;index:idx_cart_messages_cart_ts,priority:2" json:"timestamp"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "cart_messages"
}

// NewMessage is the input to an append.
type NewMessage struct {
	CartID    string
	Sender    string
	Message   string
	ClientID  string
	Timestamp *time.Time
}

// Message ids embed a 48-bit millisecond timestamp, so client supplied times
// must fall between the Unix epoch and MaxMessageTime.
var MaxMessageTime = time.UnixMilli(1<<48 - 1).UTC()

// Validate checks the required fields and the optional timestamp.
func (m NewMessage) Validate() error {
	if err := RequireFields("cartId", m.CartID, "sender", m.Sender, "message", m.Message); err != nil {
		return err
	}
	if m.Timestamp != nil && !m.Timestamp.IsZero() {
		if m.Timestamp.Before(time.Unix(0, 0)) || m.Timestamp.After(MaxMessageTime) {
			return &ValidationError{Fields: []string{"timestamp"}, Reason: "timestamp out of range"}
		}
	}
	return nil
}

// MessageOut is the wire form of a ChatMessage.
type MessageOut struct {
	ID        string `json:"_id"`
	CartID    string `json:"cartId"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
}

// ToWire converts the message for clients; the timestamp is ISO 8601 in UTC.
func (m *ChatMessage) ToWire() MessageOut {
	return MessageOut{
		ID:        m.ID,
		CartID:    m.CartID,
		Sender:    m.Sender,
		Message:   m.Message,
		Timestamp: FormatTime(m.Timestamp),
		ClientID:  m.ClientID,
	}
}

// FormatTime renders t as ISO 8601 with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ToWireList converts a slice of messages.
func ToWireList(msgs []ChatMessage) []MessageOut {
	out := make([]MessageOut, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ToWire()
	}
	return out
}
