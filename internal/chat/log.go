package chat

import (
	"context"
	"time"
)

// MessageLog is the collaborator contract for the append-only per-conversation
// message store.
//
// Append assigns the identifier and the timestamp at the log, never from the
// caller, so per-conversation ordering holds even under clock skew between
// senders. StampRead sets readAt on every listed message that was sent by
// someone other than readerID and is still unread, and returns the number of
// messages actually transitioned; re-stamping an already-read message is a
// no-op. Subscribe emits the conversation's full ordered message list on
// every change.
type MessageLog interface {
	Append(ctx context.Context, conversationKey string, message *Message) error
	List(ctx context.Context, conversationKey string) ([]Message, error)
	StampRead(ctx context.Context, conversationKey, readerID string, messageIDs []string, at time.Time) (int, error)
	Subscribe(ctx context.Context, conversationKey string) (<-chan []Message, func())
}
