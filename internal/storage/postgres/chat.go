package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cookmart/internal/domain/chat"
)

const (
	findConversationSQL = `SELECT id, type, participants, last_message_content, last_message_sender,
		last_message_at, allow_ai, created_at, updated_at
		FROM conversations WHERE id = $1`

	// Bumping last_seq row-locks the conversation, so concurrent inserts into
	// one conversation get consecutive sequence numbers.
	bumpConversationSQL = `UPDATE conversations
		SET last_seq = last_seq + 1,
			last_message_content = $2,
			last_message_sender = NULLIF($3, ''),
			last_message_at = $4,
			updated_at = $4
		WHERE id = $1
		RETURNING last_seq`

	insertMessageSQL = `INSERT INTO messages
		(id, conversation_id, seq, sender_id, type, content, status, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`

	senderNameSQL = `SELECT name FROM users WHERE id = $1`

	listMessagesSQL = `SELECT page.id, page.conversation_id, page.seq, COALESCE(page.sender_id, ''),
		COALESCE(u.name, ''), page.type, page.content, page.status, page.created_at, page.read_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1 AND ($2 = 0 OR seq < $2)
			ORDER BY seq DESC
			LIMIT $3
		) page
		LEFT JOIN users u ON u.id = page.sender_id
		ORDER BY page.seq`

	markReadSQL = `UPDATE messages SET status = 'read', read_at = $3
		WHERE conversation_id = $1 AND COALESCE(sender_id, '') <> $2
			AND status IN ('sent', 'delivered')`
)

var _ chat.Repository = (*ChatRepository)(nil)

// ChatRepository implements chat.Repository backed by PostgreSQL.
type ChatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository returns a ChatRepository that uses the given pool.
func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// FindConversation returns the conversation or chat.ErrNotFound.
func (r *ChatRepository) FindConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	var (
		c       chat.Conversation
		typ     string
		content *string
		sender  *string
		lastAt  *time.Time
	)
	err := r.pool.QueryRow(ctx, findConversationSQL, id).Scan(
		&c.ID, &typ, &c.Participants, &content, &sender, &lastAt, &c.AllowAI, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("finding conversation %q: %w", id, err)
	}
	c.Type = chat.ConversationType(typ)
	if content != nil && lastAt != nil {
		c.LastMessage = &chat.LastMessage{Content: *content, CreatedAt: *lastAt}
		if sender != nil {
			c.LastMessage.SenderID = *sender
		}
	}
	return &c, nil
}

// InsertMessage stores m and updates the conversation preview in one
// transaction. m.Seq is set on success.
func (r *ChatRepository) InsertMessage(ctx context.Context, m *chat.Message) error {
	var (
		seq    int64
		sender *chat.Sender
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, bumpConversationSQL, m.ConversationID, m.Content, m.SenderID, m.CreatedAt).Scan(&seq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return chat.ErrNotFound
			}
			return fmt.Errorf("updating conversation: %w", err)
		}

		_, err = tx.Exec(ctx, insertMessageSQL,
			m.ID, m.ConversationID, seq, m.SenderID, string(m.Type), m.Content, string(m.Status), m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		if m.SenderID == "" {
			return nil
		}
		sender = &chat.Sender{ID: m.SenderID}
		err = tx.QueryRow(ctx, senderNameSQL, m.SenderID).Scan(&sender.Name)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("resolving sender: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing message in %q: %w", m.ConversationID, err)
	}
	m.Seq = seq
	m.Sender = sender
	return nil
}

// ListMessages returns up to limit messages before the given sequence number,
// oldest first.
func (r *ChatRepository) ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]chat.Message, error) {
	rows, err := r.pool.Query(ctx, listMessagesSQL, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages of %q: %w", conversationID, err)
	}

	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("listing messages of %q: %w", conversationID, err)
	}
	return msgs, nil
}

// MarkRead marks the messages userID received as read.
func (r *ChatRepository) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, markReadSQL, conversationID, userID, at)
	if err != nil {
		return 0, fmt.Errorf("marking messages of %q read: %w", conversationID, err)
	}
	return int(tag.RowsAffected()), nil
}

func scanMessage(row pgx.CollectableRow) (chat.Message, error) {
	var (
		m      chat.Message
		name   string
		typ    string
		status string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &name, &typ, &m.Content, &status, &m.CreatedAt, &m.ReadAt)
	if m.SenderID != "" {
		m.Sender = &chat.Sender{ID: m.SenderID, Name: name}
	}
	m.Type = chat.MessageType(typ)
	m.Status = chat.MessageStatus(status)
	return m, err
}
