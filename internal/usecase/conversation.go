package usecase

import (
	"time"

	"github.com/oklog/ulid/v2"

	"skillagent/internal/domain"
)

// Conversation is the append-only message state of one run. It is owned by
// the agent loop and is not safe for concurrent use.
type Conversation struct {
	messages []domain.Message
}

// NewConversation seeds a conversation with a copy of prefix.
func NewConversation(prefix []domain.Message) *Conversation {
	msgs := make([]domain.Message, len(prefix))
	copy(msgs, prefix)
	return &Conversation{messages: msgs}
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg domain.Message) {
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the conversation.
func (c *Conversation) Messages() []domain.Message {
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// NewRunID returns a new ULID-based run identifier.
func NewRunID() string {
	return generateULID(time.Now())
}

// generateULID draws from the process-wide monotonic entropy source, so ids
// minted within the same millisecond still differ and sort in creation order.
func generateULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
