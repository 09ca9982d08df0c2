package chat

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultHistoryLimit is the page size used when none is given.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps the page size.
	MaxHistoryLimit = 100

	sendStripes = 64
)

// SendRequest holds the input of Send.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Type           MessageType
	Content        string
}

// Service sends, reads and pages conversation messages.
type Service struct {
	repo Repository
	pub  Publisher
	now  func() time.Time

	// Sends to one conversation are serialized from insert through emit so
	// subscribers see messages in Seq order.
	stripes [sendStripes]sync.Mutex
}

// NewService creates a Service emitting through pub.
func NewService(repo Repository, pub Publisher) *Service {
	return &Service{repo: repo, pub: pub, now: time.Now}
}

func (s *Service) lock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &s.stripes[h.Sum32()%sendStripes]
}

// conversation loads the conversation and checks userID takes part in it.
func (s *Service) conversation(ctx context.Context, id, userID string) (*Conversation, error) {
	c, err := s.repo.FindConversation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "find conversation")
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// Send persists a message and then emits it to the conversation room. The
// message is stored even when no subscriber receives it.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.conversation(ctx, req.ConversationID, req.SenderID); err != nil {
		return nil, err
	}

	typ := req.Type
	if typ == "" {
		typ = MessageText
	}
	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Type:           typ,
		Content:        content,
		Status:         StatusSent,
	}

	mu := s.lock(req.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	m.CreatedAt = s.now()
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}

	s.pub.EmitNewMessage(ctx, m.ConversationID, m)

	zctx.From(ctx).Debug("Message sent",
		zap.String("conversation_id", m.ConversationID),
		zap.String("message_id", m.ID),
		zap.Int64("seq", m.Seq),
	)
	return m, nil
}

// MarkRead marks the messages userID received in the conversation as read and
// notifies the room.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (int, error) {
	if _, err := s.conversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	at := s.now()
	n, err := s.repo.MarkRead(ctx, conversationID, userID, at)
	if err != nil {
		return 0, errors.Wrap(err, "mark read")
	}
	if n > 0 {
		s.pub.EmitRead(ctx, conversationID, userID, at)
	}
	return n, nil
}

// History pages the conversation backwards from before. Clients use it to
// catch up on messages missed while disconnected.
func (s *Service) History(ctx context.Context, conversationID, userID string, before int64, limit int) ([]Message, error) {
	if _, err := s.conversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	msgs, err := s.repo.ListMessages(ctx, conversationID, before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	return msgs, nil
}

// IsParticipant reports whether userID takes part in the conversation.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := s.conversation(ctx, conversationID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotParticipant):
		return false, nil
	default:
		return false, err
	}
}
