package service

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena_realtime/server/chat/domain"
	"arena_realtime/server/chat/repository"
	"arena_realtime/server/common/infra/mq"
)

type fakeConvStore struct {
	convs        map[string]domain.Conversation
	participants map[string]map[string]*domain.Participant
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{
		convs:        map[string]domain.Conversation{},
		participants: map[string]map[string]*domain.Participant{},
	}
}

func (f *fakeConvStore) Create(ctx context.Context, conv domain.Conversation) error {
	f.convs[conv.ID] = conv
	return nil
}

func (f *fakeConvStore) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conv, ok := f.convs[conversationID]
	if !ok {
		return domain.Conversation{}, repository.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConvStore) FindDirect(ctx context.Context, userID1, userID2 string) (domain.Conversation, error) {
	for id, conv := range f.convs {
		if conv.Type != domain.ConversationDirect {
			continue
		}
		members := f.participants[id]
		if _, ok1 := members[userID1]; ok1 {
			if _, ok2 := members[userID2]; ok2 {
				return conv, nil
			}
		}
	}
	return domain.Conversation{}, repository.ErrNotFound
}

func (f *fakeConvStore) ListForUser(ctx context.Context, userID string, cursor *time.Time, limit int) ([]domain.Conversation, map[string]int, error) {
	var out []domain.Conversation
	unread := map[string]int{}
	for id, members := range f.participants {
		p, ok := members[userID]
		if !ok || p.LeftAt != nil {
			continue
		}
		out = append(out, f.convs[id])
		unread[id] = p.UnreadCount
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, unread, nil
}

func (f *fakeConvStore) SetLastMessage(ctx context.Context, conversationID, messageID, preview string, at time.Time) error {
	conv := f.convs[conversationID]
	conv.LastMessageID = &messageID
	conv.LastMessageContent = &preview
	conv.LastMessageAt = &at
	conv.UpdatedAt = at
	f.convs[conversationID] = conv
	return nil
}

func (f *fakeConvStore) UpsertParticipant(ctx context.Context, p domain.Participant) error {
	if _, ok := f.participants[p.ConversationID]; !ok {
		f.participants[p.ConversationID] = map[string]*domain.Participant{}
	}
	if existing, ok := f.participants[p.ConversationID][p.UserID]; ok {
		existing.LeftAt = nil
		return nil
	}
	cp := p
	f.participants[p.ConversationID][p.UserID] = &cp
	return nil
}

func (f *fakeConvStore) RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	p, ok := f.participants[conversationID][userID]
	if !ok || p.LeftAt != nil {
		return false, nil
	}
	now := time.Now()
	p.LeftAt = &now
	return true, nil
}

func (f *fakeConvStore) GetParticipant(ctx context.Context, conversationID, userID string) (domain.Participant, error) {
	p, ok := f.participants[conversationID][userID]
	if !ok {
		return domain.Participant{}, repository.ErrNotFound
	}
	return *p, nil
}

func (f *fakeConvStore) ActiveParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range f.participants[conversationID] {
		if p.LeftAt == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeConvStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	p, ok := f.participants[conversationID][userID]
	return ok && p.LeftAt == nil, nil
}

func (f *fakeConvStore) IncrementUnread(ctx context.Context, conversationID, senderID string) error {
	for userID, p := range f.participants[conversationID] {
		if userID == senderID || p.LeftAt != nil {
			continue
		}
		p.UnreadCount++
	}
	return nil
}

func (f *fakeConvStore) MarkSeen(ctx context.Context, conversationID, userID, messageID string) error {
	p, ok := f.participants[conversationID][userID]
	if !ok {
		return repository.ErrNotFound
	}
	p.UnreadCount = 0
	p.LastSeenMessageID = &messageID
	return nil
}

type fakeMessageStore struct {
	messages map[string]*domain.Message
	order    []string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: map[string]*domain.Message{}}
}

func (f *fakeMessageStore) Create(ctx context.Context, msg domain.Message) error {
	cp := msg
	f.messages[msg.ID] = &cp
	f.order = append(f.order, msg.ID)
	return nil
}

func (f *fakeMessageStore) Get(ctx context.Context, messageID string) (domain.Message, error) {
	msg, ok := f.messages[messageID]
	if !ok {
		return domain.Message{}, repository.ErrNotFound
	}
	return *msg, nil
}

func (f *fakeMessageStore) List(ctx context.Context, conversationID string, cursor *time.Time, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for i := len(f.order) - 1; i >= 0; i-- {
		msg := f.messages[f.order[i]]
		if msg.ConversationID != conversationID || msg.DeletedAt != nil {
			continue
		}
		if cursor != nil && !msg.CreatedAt.Before(*cursor) {
			continue
		}
		out = append(out, *msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMessageStore) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	msg, ok := f.messages[messageID]
	if !ok || msg.Status != domain.StatusSent {
		return false, nil
	}
	msg.Status = domain.StatusDelivered
	return true, nil
}

func (f *fakeMessageStore) MarkSeenBulk(ctx context.Context, conversationID, readerID string) error {
	for _, msg := range f.messages {
		if msg.ConversationID != conversationID || msg.SenderID == readerID {
			continue
		}
		msg.Status = domain.StatusSeen
	}
	return nil
}

func (f *fakeMessageStore) SoftDelete(ctx context.Context, messageID, senderID string) (bool, error) {
	msg, ok := f.messages[messageID]
	if !ok || msg.SenderID != senderID || msg.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	msg.DeletedAt = &now
	return true, nil
}

type fakeUserStore struct {
	users map[string]domain.User
}

func (f *fakeUserStore) GetByID(ctx context.Context, userID string) (domain.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return user, nil
}

type fakeOnline struct {
	online map[string]bool
}

func (f *fakeOnline) IsOnline(ctx context.Context, userID string) (bool, error) {
	return f.online[userID], nil
}

type publishedEvent struct {
	RoutingKey string
	Payload    map[string]any
}

type fakeEvents struct {
	events []publishedEvent
}

func (f *fakeEvents) PublishMessageEvent(ctx context.Context, routingKey string, payload map[string]any) error {
	f.events = append(f.events, publishedEvent{RoutingKey: routingKey, Payload: payload})
	return nil
}

func (f *fakeEvents) byKey(routingKey string) []publishedEvent {
	var out []publishedEvent
	for _, e := range f.events {
		if e.RoutingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}

func newTestMessageService() (*MessageService, *fakeConvStore, *fakeMessageStore, *fakeEvents) {
	convs := newFakeConvStore()
	messages := newFakeMessageStore()
	events := &fakeEvents{}
	users := &fakeUserStore{users: map[string]domain.User{
		"u1": {ID: "u1", Username: "alice"},
		"u2": {ID: "u2", Username: "bob"},
		"u3": {ID: "u3", Username: "carol"},
	}}
	svc := NewMessageService(convs, messages, users, &fakeOnline{online: map[string]bool{"u2": true}}, events)
	return svc, convs, messages, events
}

func str(s string) *string { return &s }

func TestCreateDirectConversationIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, convs, _, _ := newTestMessageService()

	first, err := svc.CreateConversation(ctx, "u1", ConversationCreate{
		Type:           domain.ConversationDirect,
		ParticipantIDs: []string{"u2"},
	})
	require.NoError(t, err)

	// Same pair again, from the other side.
	second, err := svc.CreateConversation(ctx, "u2", ConversationCreate{
		Type:           domain.ConversationDirect,
		ParticipantIDs: []string{"u1"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, convs.convs, 1)
	assert.Len(t, convs.participants[first.ID], 2)
}

func TestCreateDirectConversationParticipantCount(t *testing.T) {
	svc, _, _, _ := newTestMessageService()
	_, err := svc.CreateConversation(context.Background(), "u1", ConversationCreate{
		Type:           domain.ConversationDirect,
		ParticipantIDs: []string{"u2", "u3"},
	})
	assert.ErrorIs(t, err, ErrDirectParticipantCount)
}

func TestCreateGroupRequiresName(t *testing.T) {
	svc, _, _, _ := newTestMessageService()
	_, err := svc.CreateConversation(context.Background(), "u1", ConversationCreate{
		Type:           domain.ConversationGroup,
		ParticipantIDs: []string{"u2", "u3"},
	})
	assert.ErrorIs(t, err, ErrGroupNameRequired)
}

func TestGroupCreatorIsAdmin(t *testing.T) {
	ctx := context.Background()
	svc, convs, _, _ := newTestMessageService()

	conv, err := svc.CreateConversation(ctx, "u1", ConversationCreate{
		Type:           domain.ConversationGroup,
		ParticipantIDs: []string{"u2", "u3"},
		Name:           str("team"),
	})
	require.NoError(t, err)

	creator, err := convs.GetParticipant(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, creator.Role)

	member, err := convs.GetParticipant(ctx, conv.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, member.Role)
}

func TestSendMessageIncrementsUnreadForOthers(t *testing.T) {
	ctx := context.Background()
	svc, convs, _, _ := newTestMessageService()

	conv, err := svc.CreateConversation(ctx, "u1", ConversationCreate{
		Type:           domain.ConversationGroup,
		ParticipantIDs: []string{"u2", "u3"},
		Name:           str("team"),
	})
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, conv.ID, "u1", MessageCreate{Content: str("hello")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, domain.MessageText, msg.Type)

	assert.Equal(t, 0, convs.participants[conv.ID]["u1"].UnreadCount)
	assert.Equal(t, 1, convs.participants[conv.ID]["u2"].UnreadCount)
	assert.Equal(t, 1, convs.participants[conv.ID]["u3"].UnreadCount)

	updated, err := convs.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastMessageContent)
	assert.Equal(t, "hello", *updated.LastMessageContent)
}

func TestSendMessagePublishesSentEvent(t *testing.T) {
	ctx := context.Background()
	svc, _, _, events := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, conv.ID, "u1", MessageCreate{Content: str("hello")})
	require.NoError(t, err)

	// Every send publishes to the durable queue, regardless of transport.
	sent := events.byKey(mq.RouteMessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, msg.ID, sent[0].Payload["message_id"])
	assert.Equal(t, conv.ID, sent[0].Payload["conversation_id"])
	assert.Equal(t, "u1", sent[0].Payload["sender_id"])
}

func TestMarkConversationSeenPublishesSeenEvent(t *testing.T) {
	ctx := context.Background()
	svc, _, _, events := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, conv.ID, "u1", MessageCreate{Content: str("hello")})
	require.NoError(t, err)

	require.NoError(t, svc.MarkConversationSeen(ctx, conv.ID, "u2", msg.ID))

	seen := events.byKey(mq.RouteMessageSeen)
	require.Len(t, seen, 1)
	assert.Equal(t, conv.ID, seen[0].Payload["conversation_id"])
	assert.Equal(t, "u2", seen[0].Payload["user_id"])
	assert.Equal(t, msg.ID, seen[0].Payload["message_id"])

	// A non-participant's attempt publishes nothing.
	err = svc.MarkConversationSeen(ctx, conv.ID, "u3", msg.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Len(t, events.byKey(mq.RouteMessageSeen), 1)
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "u3", MessageCreate{Content: str("hi")})
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "u1", MessageCreate{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestMarkConversationSeen(t *testing.T) {
	ctx := context.Background()
	svc, convs, messages, _ := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	first, err := svc.SendMessage(ctx, conv.ID, "u1", MessageCreate{Content: str("one")})
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, conv.ID, "u1", MessageCreate{Content: str("two")})
	require.NoError(t, err)
	require.Equal(t, 2, convs.participants[conv.ID]["u2"].UnreadCount)

	require.NoError(t, svc.MarkConversationSeen(ctx, conv.ID, "u2", second.ID))

	reader := convs.participants[conv.ID]["u2"]
	assert.Equal(t, 0, reader.UnreadCount)
	require.NotNil(t, reader.LastSeenMessageID)
	assert.Equal(t, second.ID, *reader.LastSeenMessageID)

	// Both of the sender's messages are promoted to SEEN.
	assert.Equal(t, domain.StatusSeen, messages.messages[first.ID].Status)
	assert.Equal(t, domain.StatusSeen, messages.messages[second.ID].Status)
}

func TestMarkConversationSeenRequiresMembership(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	err = svc.MarkConversationSeen(ctx, conv.ID, "u3", "m1")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestRemoveParticipantPermissions(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestMessageService()

	conv, err := svc.CreateConversation(ctx, "u1", ConversationCreate{
		Type:           domain.ConversationGroup,
		ParticipantIDs: []string{"u2", "u3"},
		Name:           str("team"),
	})
	require.NoError(t, err)

	// A member cannot remove someone else.
	err = svc.RemoveParticipant(ctx, conv.ID, "u2", "u3")
	assert.ErrorIs(t, err, ErrRemoveForbidden)

	// Self-leave is always allowed.
	require.NoError(t, svc.RemoveParticipant(ctx, conv.ID, "u3", "u3"))

	// The group admin can remove a member.
	require.NoError(t, svc.RemoveParticipant(ctx, conv.ID, "u1", "u2"))
}

func TestListMessagesChronologicalWithCursor(t *testing.T) {
	ctx := context.Background()
	svc, _, messages, _ := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, messages.Create(ctx, domain.Message{
			ID:             content,
			ConversationID: conv.ID,
			SenderID:       "u1",
			Content:        str(content),
			Type:           domain.MessageText,
			Status:         domain.StatusSent,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := svc.ListMessages(ctx, conv.ID, "u2", nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)

	// Newest two, oldest first within the page.
	assert.Equal(t, "two", page.Data[0].ID)
	assert.Equal(t, "three", page.Data[1].ID)
	assert.Equal(t, "alice", page.Data[0].SenderUsername)

	cursor, err := time.Parse(time.RFC3339Nano, *page.NextCursor)
	require.NoError(t, err)
	next, err := svc.ListMessages(ctx, conv.ID, "u2", &cursor, 2)
	require.NoError(t, err)
	require.Len(t, next.Data, 1)
	assert.Equal(t, "one", next.Data[0].ID)
	assert.False(t, next.HasMore)
}

func TestDeleteMessageOwnerOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, messages, _ := newTestMessageService()

	conv, err := svc.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, conv.ID, "u1", MessageCreate{Content: str("hello")})
	require.NoError(t, err)

	err = svc.DeleteMessage(ctx, msg.ID, "u2")
	assert.ErrorIs(t, err, repository.ErrNotFound, "only the sender may delete")

	require.NoError(t, svc.DeleteMessage(ctx, msg.ID, "u1"))
	assert.NotNil(t, messages.messages[msg.ID].DeletedAt)

	// Deleted messages no longer appear in listings.
	page, err := svc.ListMessages(ctx, conv.ID, "u2", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
}

func TestDeriveMessageType(t *testing.T) {
	image := domain.MediaAttachment{URL: "u", Type: "image"}
	video := domain.MediaAttachment{URL: "u", Type: "video"}

	assert.Equal(t, domain.MessageText, DeriveMessageType(str("hi"), nil))
	assert.Equal(t, domain.MessageImage, DeriveMessageType(nil, []domain.MediaAttachment{image}))
	assert.Equal(t, domain.MessageVideo, DeriveMessageType(nil, []domain.MediaAttachment{image, video}))
	assert.Equal(t, domain.MessageMixed, DeriveMessageType(str("hi"), []domain.MediaAttachment{image}))
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "[Media]", PreviewText(nil))
	assert.Equal(t, "[Media]", PreviewText(str("")))
	assert.Equal(t, "hello", PreviewText(str("hello")))

	long := strings.Repeat("à", 150)
	preview := PreviewText(str(long))
	assert.Equal(t, 100, len([]rune(preview)))
}
