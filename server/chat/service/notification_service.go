package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arena_realtime/server/chat/domain"
	"arena_realtime/server/common/infra/mq"
	commonlog "arena_realtime/server/common/log"
	"arena_realtime/server/realtime/relay"
)

type NotificationStore interface {
	Create(ctx context.Context, n domain.Notification) error
	Get(ctx context.Context, notificationID string) (domain.Notification, error)
	ListForUser(ctx context.Context, userID string, cursor *time.Time, limit int, unreadOnly bool) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, notificationID, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, notificationID, userID string) (bool, error)
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

type RelayPublisher interface {
	Publish(ctx context.Context, kind, userID string, payload any) (int64, error)
}

var routingKeyToType = map[string]domain.NotificationType{
	mq.RoutePostLiked:           domain.NotifyPostLiked,
	mq.RoutePostCommented:       domain.NotifyPostCommented,
	mq.RoutePostShared:          domain.NotifyPostShared,
	mq.RouteCommentMentioned:    domain.NotifyMentioned,
	mq.RouteCommentReplied:      domain.NotifyReplyThread,
	mq.RouteFriendRequest:       domain.NotifyFriendRequest,
	mq.RouteFriendAccepted:      domain.NotifyFriendAccepted,
	mq.RouteTeamJoinRequest:     domain.NotifyTeamJoinRequest,
	mq.RouteTeamRequestApproved: domain.NotifyTeamRequestApproved,
	mq.RouteTeamRequestRejected: domain.NotifyTeamRequestRejected,
	mq.RouteReportResolved:      domain.NotifyReportResolved,
}

func TypeForRoutingKey(routingKey string) (domain.NotificationType, bool) {
	t, ok := routingKeyToType[routingKey]
	return t, ok
}

// ContentFor renders the preview string shown in the notification list.
func ContentFor(notifType domain.NotificationType, actorUsername string) string {
	switch notifType {
	case domain.NotifyPostLiked:
		return fmt.Sprintf("%s đã thích bài viết của bạn", actorUsername)
	case domain.NotifyPostCommented:
		return fmt.Sprintf("%s đã bình luận bài viết của bạn", actorUsername)
	case domain.NotifyPostShared:
		return fmt.Sprintf("%s đã chia sẻ bài viết của bạn", actorUsername)
	case domain.NotifyMentioned:
		return fmt.Sprintf("%s đã nhắc đến bạn trong một bình luận", actorUsername)
	case domain.NotifyReplyThread:
		return fmt.Sprintf("%s đã trả lời bình luận của bạn", actorUsername)
	case domain.NotifyFriendRequest:
		return fmt.Sprintf("%s đã gửi lời mời kết bạn", actorUsername)
	case domain.NotifyFriendAccepted:
		return fmt.Sprintf("%s đã chấp nhận lời mời kết bạn của bạn", actorUsername)
	case domain.NotifyTeamJoinRequest:
		return fmt.Sprintf("%s đã yêu cầu tham gia đội của bạn", actorUsername)
	case domain.NotifyTeamRequestApproved:
		return fmt.Sprintf("%s đã duyệt yêu cầu tham gia đội của bạn", actorUsername)
	case domain.NotifyTeamRequestRejected:
		return fmt.Sprintf("%s đã từ chối yêu cầu tham gia đội của bạn", actorUsername)
	case domain.NotifyReportResolved:
		return fmt.Sprintf("%s đã xử lý báo cáo của bạn", actorUsername)
	default:
		return fmt.Sprintf("%s đã tương tác với bạn", actorUsername)
	}
}

type NotificationService struct {
	notifs NotificationStore
	users  UserStore
	online OnlineChecker
	relay  RelayPublisher
}

func NewNotificationService(notifs NotificationStore, users UserStore, online OnlineChecker, relayPub RelayPublisher) *NotificationService {
	return &NotificationService{notifs: notifs, users: users, online: online, relay: relayPub}
}

type notificationEvent struct {
	ActorID   string  `json:"actor_id"`
	UserID    string  `json:"user_id"`
	PostID    *string `json:"post_id"`
	CommentID *string `json:"comment_id"`
}

// HandleEvent turns one queue delivery into a durable Notification and, if
// the recipient is online, a relayed payload. Malformed or self-addressed
// events are dropped without error so the queue message is acknowledged.
// Only a persistence failure is returned to the caller.
func (s *NotificationService) HandleEvent(ctx context.Context, routingKey string, body []byte) error {
	notifType, ok := TypeForRoutingKey(routingKey)
	if !ok {
		commonlog.Warnf("event=notification action=consume status=skipped reason=unknown_routing_key routing_key=%s", routingKey)
		return nil
	}

	var event notificationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		commonlog.Errorf("event=notification action=consume status=skipped reason=invalid_json routing_key=%s error=%v", routingKey, err)
		return nil
	}
	if event.ActorID == "" || event.UserID == "" {
		commonlog.Warnf("event=notification action=consume status=skipped reason=missing_fields routing_key=%s", routingKey)
		return nil
	}
	// An actor never gets notified about their own action.
	if event.ActorID == event.UserID {
		return nil
	}

	actorUsername := "Someone"
	var actorAvatar *string
	if actor, err := s.users.GetByID(ctx, event.ActorID); err == nil {
		actorUsername = actor.Username
		actorAvatar = actor.AvatarURL
	}

	notification := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    event.UserID,
		ActorID:   event.ActorID,
		Type:      notifType,
		PostID:    event.PostID,
		CommentID: event.CommentID,
		Content:   ContentFor(notifType, actorUsername),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifs.Create(ctx, notification); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	commonlog.Infof("event=notification action=persist notification_id=%s type=%s user_id=%s", notification.ID, notifType, event.UserID)

	online, err := s.online.IsOnline(ctx, event.UserID)
	if err != nil || !online {
		return nil
	}
	payload := map[string]any{
		"id":             notification.ID,
		"type":           notification.Type,
		"actor_id":       notification.ActorID,
		"actor_username": actorUsername,
		"actor_avatar":   actorAvatar,
		"content":        notification.Content,
		"post_id":        notification.PostID,
		"comment_id":     notification.CommentID,
		"created_at":     notification.CreatedAt.Format(time.RFC3339Nano),
		"is_read":        false,
	}
	if _, err := s.relay.Publish(ctx, relay.KindNotification, event.UserID, payload); err != nil {
		// Realtime delivery is best-effort; the durable record already exists.
		commonlog.Errorf("event=notification action=relay status=failed notification_id=%s error=%v", notification.ID, err)
	}
	return nil
}

type NotificationActor struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type NotificationPublic struct {
	domain.Notification
	Actor NotificationActor `json:"actor"`
}

type NotificationsPage struct {
	Data        []NotificationPublic `json:"data"`
	NextCursor  *string              `json:"next_cursor,omitempty"`
	HasMore     bool                 `json:"has_more"`
	UnreadCount int                  `json:"unread_count"`
}

func (s *NotificationService) List(ctx context.Context, userID string, cursor *time.Time, limit int, unreadOnly bool) (NotificationsPage, error) {
	if limit <= 0 {
		limit = 20
	}
	notifications, err := s.notifs.ListForUser(ctx, userID, cursor, limit+1, unreadOnly)
	if err != nil {
		return NotificationsPage{}, err
	}

	page := NotificationsPage{Data: make([]NotificationPublic, 0, len(notifications))}
	if len(notifications) > limit {
		notifications = notifications[:limit]
		page.HasMore = true
		next := notifications[len(notifications)-1].CreatedAt.Format(time.RFC3339Nano)
		page.NextCursor = &next
	}
	for _, n := range notifications {
		item := NotificationPublic{Notification: n, Actor: NotificationActor{ID: n.ActorID, Username: "Unknown"}}
		if actor, err := s.users.GetByID(ctx, n.ActorID); err == nil {
			item.Actor.Username = actor.Username
			item.Actor.AvatarURL = actor.AvatarURL
		}
		page.Data = append(page.Data, item)
	}

	unread, err := s.notifs.UnreadCount(ctx, userID)
	if err != nil {
		return NotificationsPage{}, err
	}
	page.UnreadCount = unread
	return page, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.notifs.UnreadCount(ctx, userID)
}

func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) (bool, error) {
	return s.notifs.MarkRead(ctx, notificationID, userID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.notifs.MarkAllRead(ctx, userID)
}

func (s *NotificationService) Delete(ctx context.Context, notificationID, userID string) (bool, error) {
	return s.notifs.Delete(ctx, notificationID, userID)
}

func (s *NotificationService) DeleteAll(ctx context.Context, userID string) (int64, error) {
	return s.notifs.DeleteAll(ctx, userID)
}
