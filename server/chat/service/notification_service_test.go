package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena_realtime/server/chat/domain"
	"arena_realtime/server/chat/repository"
	"arena_realtime/server/common/infra/mq"
	"arena_realtime/server/realtime/relay"
)

type fakeNotifStore struct {
	created   []domain.Notification
	createErr error
}

func (f *fakeNotifStore) Create(ctx context.Context, n domain.Notification) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotifStore) Get(ctx context.Context, notificationID string) (domain.Notification, error) {
	for _, n := range f.created {
		if n.ID == notificationID {
			return n, nil
		}
	}
	return domain.Notification{}, repository.ErrNotFound
}

func (f *fakeNotifStore) ListForUser(ctx context.Context, userID string, cursor *time.Time, limit int, unreadOnly bool) ([]domain.Notification, error) {
	var out []domain.Notification
	for i := len(f.created) - 1; i >= 0; i-- {
		n := f.created[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNotifStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, n := range f.created {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifStore) MarkRead(ctx context.Context, notificationID, userID string) (bool, error) {
	for i, n := range f.created {
		if n.ID == notificationID && n.UserID == userID && !n.IsRead {
			f.created[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNotifStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	var count int64
	for i, n := range f.created {
		if n.UserID == userID && !n.IsRead {
			f.created[i].IsRead = true
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifStore) Delete(ctx context.Context, notificationID, userID string) (bool, error) {
	for i, n := range f.created {
		if n.ID == notificationID && n.UserID == userID {
			f.created = append(f.created[:i], f.created[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNotifStore) DeleteAll(ctx context.Context, userID string) (int64, error) {
	var kept []domain.Notification
	var count int64
	for _, n := range f.created {
		if n.UserID == userID {
			count++
			continue
		}
		kept = append(kept, n)
	}
	f.created = kept
	return count, nil
}

type relayedPayload struct {
	Kind    string
	UserID  string
	Payload any
}

type fakeRelay struct {
	published []relayedPayload
}

func (f *fakeRelay) Publish(ctx context.Context, kind, userID string, payload any) (int64, error) {
	f.published = append(f.published, relayedPayload{Kind: kind, UserID: userID, Payload: payload})
	return 1, nil
}

func newTestNotificationService(online map[string]bool) (*NotificationService, *fakeNotifStore, *fakeRelay) {
	store := &fakeNotifStore{}
	relayPub := &fakeRelay{}
	users := &fakeUserStore{users: map[string]domain.User{
		"u1": {ID: "u1", Username: "alice"},
		"u2": {ID: "u2", Username: "bob"},
	}}
	svc := NewNotificationService(store, users, &fakeOnline{online: online}, relayPub)
	return svc, store, relayPub
}

func TestTypeForRoutingKey(t *testing.T) {
	cases := map[string]domain.NotificationType{
		mq.RoutePostLiked:       domain.NotifyPostLiked,
		mq.RouteCommentReplied:  domain.NotifyReplyThread,
		mq.RouteFriendRequest:   domain.NotifyFriendRequest,
		mq.RouteTeamJoinRequest: domain.NotifyTeamJoinRequest,
		mq.RouteReportResolved:  domain.NotifyReportResolved,
	}
	for routingKey, want := range cases {
		got, ok := TypeForRoutingKey(routingKey)
		require.True(t, ok, routingKey)
		assert.Equal(t, want, got)
	}

	_, ok := TypeForRoutingKey("post.deleted")
	assert.False(t, ok)
}

func TestHandleEventPersistsAndRelaysWhenOnline(t *testing.T) {
	svc, store, relayPub := newTestNotificationService(map[string]bool{"u2": true})

	err := svc.HandleEvent(context.Background(), mq.RoutePostLiked, []byte(`{"actor_id":"u1","user_id":"u2","post_id":"p1"}`))
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	notification := store.created[0]
	assert.Equal(t, "u2", notification.UserID)
	assert.Equal(t, domain.NotifyPostLiked, notification.Type)
	assert.Equal(t, "alice đã thích bài viết của bạn", notification.Content)

	require.Len(t, relayPub.published, 1)
	assert.Equal(t, relay.KindNotification, relayPub.published[0].Kind)
	assert.Equal(t, "u2", relayPub.published[0].UserID)
}

func TestHandleEventOfflineSkipsRelay(t *testing.T) {
	svc, store, relayPub := newTestNotificationService(nil)

	err := svc.HandleEvent(context.Background(), mq.RouteFriendRequest, []byte(`{"actor_id":"u1","user_id":"u2"}`))
	require.NoError(t, err)

	assert.Len(t, store.created, 1, "durable record regardless of presence")
	assert.Empty(t, relayPub.published)
}

func TestHandleEventSelfNotificationDropped(t *testing.T) {
	svc, store, relayPub := newTestNotificationService(map[string]bool{"u1": true})

	err := svc.HandleEvent(context.Background(), mq.RoutePostLiked, []byte(`{"actor_id":"u1","user_id":"u1"}`))
	require.NoError(t, err)

	assert.Empty(t, store.created)
	assert.Empty(t, relayPub.published)
}

func TestHandleEventMalformedDroppedWithoutError(t *testing.T) {
	svc, store, _ := newTestNotificationService(nil)
	ctx := context.Background()

	// Unknown routing key, invalid JSON and missing fields are all dropped
	// with a nil error so the delivery is acknowledged.
	require.NoError(t, svc.HandleEvent(ctx, "post.deleted", []byte(`{"actor_id":"u1","user_id":"u2"}`)))
	require.NoError(t, svc.HandleEvent(ctx, mq.RoutePostLiked, []byte(`{not json`)))
	require.NoError(t, svc.HandleEvent(ctx, mq.RoutePostLiked, []byte(`{"actor_id":"u1"}`)))
	assert.Empty(t, store.created)
}

func TestHandleEventPersistFailureReturnsError(t *testing.T) {
	svc, store, _ := newTestNotificationService(nil)
	store.createErr = assert.AnError

	err := svc.HandleEvent(context.Background(), mq.RoutePostLiked, []byte(`{"actor_id":"u1","user_id":"u2"}`))
	assert.Error(t, err)
}

func TestMarkReadAndCounts(t *testing.T) {
	svc, _, _ := newTestNotificationService(nil)
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, mq.RoutePostLiked, []byte(`{"actor_id":"u1","user_id":"u2"}`)))
	require.NoError(t, svc.HandleEvent(ctx, mq.RoutePostCommented, []byte(`{"actor_id":"u1","user_id":"u2"}`)))

	count, err := svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	page, err := svc.List(ctx, "u2", nil, 10, false)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "alice", page.Data[0].Actor.Username)

	ok, err := svc.MarkRead(ctx, page.Data[0].ID, "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	count, err = svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	marked, err := svc.MarkAllRead(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, marked)
}
