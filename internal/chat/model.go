package chat

import (
	"time"
)

// Message is a single chat entry. Messages are immutable once appended
// except for the one-way readAt stamp.
type Message struct {
	ID              string     `gorm:"column:id;primaryKey;size:190;not null"`
	ConversationKey string     `gorm:"column:conversation_key;size:390;not null;index:idx_messages_conversation,priority:1"`
	SenderID        string     `gorm:"column:sender_id;size:190;not null"`
	Text            string     `gorm:"column:text;type:text;not null"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;index:idx_messages_conversation,priority:2"`
	ReadAt          *time.Time `gorm:"column:read_at"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "chat_messages"
}

// UnreadBy reports whether the message counts as unread for the given user:
// sent by someone else and never marked read.
func (m Message) UnreadBy(userID string) bool {
	return m.SenderID != userID && m.ReadAt == nil
}
