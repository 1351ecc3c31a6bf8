package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena_realtime/server/chat/domain"
)

var ErrNotFound = errors.New("not found")

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Create(ctx context.Context, conv domain.Conversation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations(conversation_id, conv_type, name, avatar_url, created_by, created_at, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $6)
	`, conv.ID, conv.Type, conv.Name, conv.AvatarURL, conv.CreatedBy, conv.CreatedAt)
	return err
}

func (r *ConversationRepository) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT conversation_id, conv_type, name, avatar_url, created_by,
		       last_message_id, last_message_content, last_message_at,
		       created_at, updated_at
		FROM conversations
		WHERE conversation_id=$1
	`, conversationID).Scan(&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL, &conv.CreatedBy,
		&conv.LastMessageID, &conv.LastMessageContent, &conv.LastMessageAt,
		&conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conv, ErrNotFound
	}
	return conv, err
}

// FindDirect returns the existing DIRECT conversation both users are active
// participants of, or ErrNotFound. The lookup is symmetric in its arguments.
func (r *ConversationRepository) FindDirect(ctx context.Context, userID1, userID2 string) (domain.Conversation, error) {
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT c.conversation_id, c.conv_type, c.name, c.avatar_url, c.created_by,
		       c.last_message_id, c.last_message_content, c.last_message_at,
		       c.created_at, c.updated_at
		FROM conversations c
		WHERE c.conv_type='DIRECT'
		  AND EXISTS (
		        SELECT 1 FROM conversation_participants p
		        WHERE p.conversation_id=c.conversation_id AND p.user_id=$1 AND p.left_at IS NULL)
		  AND EXISTS (
		        SELECT 1 FROM conversation_participants p
		        WHERE p.conversation_id=c.conversation_id AND p.user_id=$2 AND p.left_at IS NULL)
		ORDER BY c.created_at
		LIMIT 1
	`, userID1, userID2).Scan(&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL, &conv.CreatedBy,
		&conv.LastMessageID, &conv.LastMessageContent, &conv.LastMessageAt,
		&conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conv, ErrNotFound
	}
	return conv, err
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID string, cursor *time.Time, limit int) ([]domain.Conversation, map[string]int, error) {
	base := `
		SELECT c.conversation_id, c.conv_type, c.name, c.avatar_url, c.created_by,
		       c.last_message_id, c.last_message_content, c.last_message_at,
		       c.created_at, c.updated_at, p.unread_count
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id=c.conversation_id
		WHERE p.user_id=$1 AND p.left_at IS NULL`
	args := []any{userID}

	if cursor != nil {
		base += ` AND c.updated_at < $2 ORDER BY c.updated_at DESC LIMIT $3`
		args = append(args, *cursor, limit)
	} else {
		base += ` ORDER BY c.updated_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	items := make([]domain.Conversation, 0)
	unread := map[string]int{}
	for rows.Next() {
		var conv domain.Conversation
		var unreadCount int
		if err := rows.Scan(&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL, &conv.CreatedBy,
			&conv.LastMessageID, &conv.LastMessageContent, &conv.LastMessageAt,
			&conv.CreatedAt, &conv.UpdatedAt, &unreadCount); err != nil {
			return nil, nil, err
		}
		items = append(items, conv)
		unread[conv.ID] = unreadCount
	}
	return items, unread, rows.Err()
}

func (r *ConversationRepository) SetLastMessage(ctx context.Context, conversationID, messageID, preview string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_id=$2, last_message_content=$3, last_message_at=$4, updated_at=$4
		WHERE conversation_id=$1
	`, conversationID, messageID, preview, at)
	return err
}

// UpsertParticipant adds a participant or, if the row exists with a
// soft-leave timestamp, rejoins them with the given role. An existing active
// participant is left untouched.
func (r *ConversationRepository) UpsertParticipant(ctx context.Context, p domain.Participant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_participants(participant_id, conversation_id, user_id, part_role, unread_count, muted, joined_at)
		VALUES($1, $2, $3, $4, 0, false, $5)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			part_role = CASE WHEN conversation_participants.left_at IS NOT NULL
				THEN EXCLUDED.part_role ELSE conversation_participants.part_role END,
			joined_at = CASE WHEN conversation_participants.left_at IS NOT NULL
				THEN EXCLUDED.joined_at ELSE conversation_participants.joined_at END,
			left_at = NULL
	`, p.ID, p.ConversationID, p.UserID, p.Role, p.JoinedAt)
	return err
}

func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET left_at=now()
		WHERE conversation_id=$1 AND user_id=$2 AND left_at IS NULL
	`, conversationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepository) GetParticipant(ctx context.Context, conversationID, userID string) (domain.Participant, error) {
	var p domain.Participant
	err := r.pool.QueryRow(ctx, `
		SELECT participant_id, conversation_id, user_id, part_role,
		       last_seen_message_id, unread_count, muted, joined_at, left_at
		FROM conversation_participants
		WHERE conversation_id=$1 AND user_id=$2
	`, conversationID, userID).Scan(&p.ID, &p.ConversationID, &p.UserID, &p.Role,
		&p.LastSeenMessageID, &p.UnreadCount, &p.Muted, &p.JoinedAt, &p.LeftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r *ConversationRepository) ActiveParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT participant_id, conversation_id, user_id, part_role,
		       last_seen_message_id, unread_count, muted, joined_at, left_at
		FROM conversation_participants
		WHERE conversation_id=$1 AND left_at IS NULL
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Participant, 0)
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.UserID, &p.Role,
			&p.LastSeenMessageID, &p.UnreadCount, &p.Muted, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM conversation_participants
			WHERE conversation_id=$1 AND user_id=$2 AND left_at IS NULL
		)
	`, conversationID, userID).Scan(&exists)
	return exists, err
}

// IncrementUnread bumps the unread counter of every active participant
// except the sender, in one atomic statement.
func (r *ConversationRepository) IncrementUnread(ctx context.Context, conversationID, senderID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id=$1 AND user_id<>$2 AND left_at IS NULL
	`, conversationID, senderID)
	return err
}

// MarkSeen stamps the reader's last-seen pointer and resets their unread
// counter to zero. Other participants' counters are untouched.
func (r *ConversationRepository) MarkSeen(ctx context.Context, conversationID, userID, messageID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET last_seen_message_id=$3, unread_count=0
		WHERE conversation_id=$1 AND user_id=$2
	`, conversationID, userID, messageID)
	return err
}
