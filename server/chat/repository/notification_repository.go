package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena_realtime/server/chat/domain"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n domain.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications(notification_id, user_id, actor_id, notif_type, post_id, comment_id, content, is_read, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.UserID, n.ActorID, n.Type, n.PostID, n.CommentID, n.Content, n.IsRead, n.CreatedAt)
	return err
}

func (r *NotificationRepository) Get(ctx context.Context, notificationID string) (domain.Notification, error) {
	var n domain.Notification
	err := r.pool.QueryRow(ctx, `
		SELECT notification_id, user_id, actor_id, notif_type, post_id, comment_id, content, is_read, created_at
		FROM notifications
		WHERE notification_id=$1
	`, notificationID).Scan(&n.ID, &n.UserID, &n.ActorID, &n.Type, &n.PostID, &n.CommentID, &n.Content, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return n, ErrNotFound
	}
	return n, err
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, cursor *time.Time, limit int, unreadOnly bool) ([]domain.Notification, error) {
	base := `
		SELECT notification_id, user_id, actor_id, notif_type, post_id, comment_id, content, is_read, created_at
		FROM notifications
		WHERE user_id=$1`
	args := []any{userID}

	if unreadOnly {
		base += ` AND is_read=false`
	}
	if cursor != nil {
		args = append(args, *cursor)
		base += ` AND created_at < $2`
	}
	args = append(args, limit)
	if cursor != nil {
		base += ` ORDER BY created_at DESC LIMIT $3`
	} else {
		base += ` ORDER BY created_at DESC LIMIT $2`
	}

	rows, err := r.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.ActorID, &n.Type, &n.PostID, &n.CommentID, &n.Content, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND is_read=false
	`, userID).Scan(&count)
	return count, err
}

func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read=true WHERE notification_id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read=true WHERE user_id=$1 AND is_read=false
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) Delete(ctx context.Context, notificationID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE notification_id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *NotificationRepository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE user_id=$1
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
