// Package chat persists conversation messages and hands them to a realtime
// publisher for best-effort delivery.
package chat

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationSupport ConversationType = "support"
	ConversationShop    ConversationType = "shop"
	ConversationAI      ConversationType = "ai"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageProduct MessageType = "product"
	MessageSystem  MessageType = "system"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusRecalled  MessageStatus = "recalled"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrNotParticipant is returned when the caller is not in the conversation.
	ErrNotParticipant = errors.New("not a conversation participant")
	// ErrEmptyContent is returned when a message has no content.
	ErrEmptyContent = errors.New("message content is empty")
)

// LastMessage is the denormalized preview stored on a conversation.
type LastMessage struct {
	Content   string
	SenderID  string
	CreatedAt time.Time
}

// Conversation is a chat thread between participants.
type Conversation struct {
	ID           string
	Type         ConversationType
	Participants []string
	LastMessage  *LastMessage
	AllowAI      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// Sender is the author of a message as shown to other participants.
type Sender struct {
	ID   string
	Name string
}

// Message is one persisted chat message. Seq increases monotonically within a
// conversation and orders delivery.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	// SenderID is empty for system messages.
	SenderID string
	// Sender is filled by the repository from the user profile; nil for
	// system messages.
	Sender    *Sender
	Type      MessageType
	Content   string
	Status    MessageStatus
	CreatedAt time.Time
	ReadAt    *time.Time
}

// Repository persists conversations and messages.
type Repository interface {
	FindConversation(ctx context.Context, id string) (*Conversation, error)
	// InsertMessage stores m, assigns its Seq, resolves its Sender and updates
	// the conversation's LastMessage and UpdatedAt in the same transaction.
	InsertMessage(ctx context.Context, m *Message) error
	// ListMessages returns up to limit messages with Seq below before (all when
	// before is zero), oldest first.
	ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]Message, error)
	// MarkRead flips messages not sent by userID to read and returns how many
	// changed.
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error)
}

// Publisher delivers chat events to connected clients. Delivery is
// at-most-once and must not block or fail the caller.
type Publisher interface {
	EmitNewMessage(ctx context.Context, conversationID string, m *Message)
	EmitRead(ctx context.Context, conversationID, userID string, at time.Time)
}
