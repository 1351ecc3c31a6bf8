package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena_realtime/server/chat/domain"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, msg domain.Message) error {
	media, err := json.Marshal(msg.Media)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO messages(message_id, conversation_id, sender_id, content, msg_type, media, status, reply_to_message_id, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, media, msg.Status, msg.ReplyToMessageID, msg.CreatedAt)
	return err
}

func (r *MessageRepository) Get(ctx context.Context, messageID string) (domain.Message, error) {
	var msg domain.Message
	var media []byte
	err := r.pool.QueryRow(ctx, `
		SELECT message_id, conversation_id, sender_id, content, msg_type, media, status,
		       reply_to_message_id, created_at, updated_at, deleted_at
		FROM messages
		WHERE message_id=$1
	`, messageID).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Type, &media,
		&msg.Status, &msg.ReplyToMessageID, &msg.CreatedAt, &msg.UpdatedAt, &msg.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return msg, ErrNotFound
	}
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(media, &msg.Media); err != nil {
		return msg, err
	}
	return msg, nil
}

// List returns messages newest-first with keyset pagination on created_at.
// Soft-deleted messages are excluded.
func (r *MessageRepository) List(ctx context.Context, conversationID string, cursor *time.Time, limit int) ([]domain.Message, error) {
	base := `
		SELECT message_id, conversation_id, sender_id, content, msg_type, media, status,
		       reply_to_message_id, created_at, updated_at, deleted_at
		FROM messages
		WHERE conversation_id=$1 AND deleted_at IS NULL`
	args := []any{conversationID}

	if cursor != nil {
		base += ` AND created_at < $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, *cursor, limit)
	} else {
		base += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		var msg domain.Message
		var media []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Type, &media,
			&msg.Status, &msg.ReplyToMessageID, &msg.CreatedAt, &msg.UpdatedAt, &msg.DeletedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(media, &msg.Media); err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	return items, rows.Err()
}

// MarkDelivered promotes a message from SENT to DELIVERED. The status guard
// keeps the transition monotonic: a SEEN message never regresses.
func (r *MessageRepository) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status=$2
		WHERE message_id=$1 AND status=$3
	`, messageID, domain.StatusDelivered, domain.StatusSent)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSeenBulk sets SEEN on every message in the conversation that the
// reader did not send and that is not already SEEN.
func (r *MessageRepository) MarkSeenBulk(ctx context.Context, conversationID, readerID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status=$3
		WHERE conversation_id=$1 AND sender_id<>$2 AND status<>$3
	`, conversationID, readerID, domain.StatusSeen)
	return err
}

func (r *MessageRepository) SoftDelete(ctx context.Context, messageID, senderID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET deleted_at=now()
		WHERE message_id=$1 AND sender_id=$2 AND deleted_at IS NULL
	`, messageID, senderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
