package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"arena_realtime/server/chat/domain"
	"arena_realtime/server/chat/repository"
	"arena_realtime/server/common/infra/mq"
	commonlog "arena_realtime/server/common/log"
)

var (
	ErrNotParticipant         = errors.New("user is not a participant in this conversation")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrEmptyMessage           = errors.New("message must have content or media")
	ErrDirectParticipantCount = errors.New("direct chat requires exactly one other participant")
	ErrGroupNameRequired      = errors.New("group chat requires a name")
	ErrRemoveForbidden        = errors.New("only admins can remove other participants")
)

type ConversationStore interface {
	Create(ctx context.Context, conv domain.Conversation) error
	Get(ctx context.Context, conversationID string) (domain.Conversation, error)
	FindDirect(ctx context.Context, userID1, userID2 string) (domain.Conversation, error)
	ListForUser(ctx context.Context, userID string, cursor *time.Time, limit int) ([]domain.Conversation, map[string]int, error)
	SetLastMessage(ctx context.Context, conversationID, messageID, preview string, at time.Time) error
	UpsertParticipant(ctx context.Context, p domain.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (domain.Participant, error)
	ActiveParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	IncrementUnread(ctx context.Context, conversationID, senderID string) error
	MarkSeen(ctx context.Context, conversationID, userID, messageID string) error
}

type MessageStore interface {
	Create(ctx context.Context, msg domain.Message) error
	Get(ctx context.Context, messageID string) (domain.Message, error)
	List(ctx context.Context, conversationID string, cursor *time.Time, limit int) ([]domain.Message, error)
	MarkDelivered(ctx context.Context, messageID string) (bool, error)
	MarkSeenBulk(ctx context.Context, conversationID, readerID string) error
	SoftDelete(ctx context.Context, messageID, senderID string) (bool, error)
}

type UserStore interface {
	GetByID(ctx context.Context, userID string) (domain.User, error)
}

type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type EventPublisher interface {
	PublishMessageEvent(ctx context.Context, routingKey string, payload map[string]any) error
}

type MessageService struct {
	convs    ConversationStore
	messages MessageStore
	users    UserStore
	online   OnlineChecker
	events   EventPublisher
}

func NewMessageService(convs ConversationStore, messages MessageStore, users UserStore, online OnlineChecker, events EventPublisher) *MessageService {
	return &MessageService{convs: convs, messages: messages, users: users, online: online, events: events}
}

type ConversationCreate struct {
	Type           domain.ConversationType `json:"type" binding:"required"`
	ParticipantIDs []string                `json:"participant_ids" binding:"required"`
	Name           *string                 `json:"name"`
	AvatarURL      *string                 `json:"avatar_url"`
}

type MessageCreate struct {
	Content          *string                  `json:"content"`
	Media            []domain.MediaAttachment `json:"media"`
	ReplyToMessageID *string                  `json:"reply_to_message_id"`
}

// CreateConversation creates a DIRECT or GROUP conversation. DIRECT creation
// is idempotent: an existing conversation between the two users is returned
// instead of a duplicate.
func (s *MessageService) CreateConversation(ctx context.Context, creatorID string, input ConversationCreate) (domain.Conversation, error) {
	if input.Type == domain.ConversationDirect {
		if len(input.ParticipantIDs) != 1 {
			return domain.Conversation{}, ErrDirectParticipantCount
		}
		existing, err := s.convs.FindDirect(ctx, creatorID, input.ParticipantIDs[0])
		if err == nil {
			return existing, nil
		}
		if !isNotFound(err) {
			return domain.Conversation{}, err
		}
	}
	if input.Type == domain.ConversationGroup && (input.Name == nil || *input.Name == "") {
		return domain.Conversation{}, ErrGroupNameRequired
	}

	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		Type:      input.Type,
		AvatarURL: input.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Type == domain.ConversationGroup {
		conv.Name = input.Name
		conv.CreatedBy = &creatorID
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		return domain.Conversation{}, err
	}

	creatorRole := domain.RoleMember
	if input.Type == domain.ConversationGroup {
		creatorRole = domain.RoleAdmin
	}
	if err := s.addParticipant(ctx, conv.ID, creatorID, creatorRole); err != nil {
		return domain.Conversation{}, err
	}
	for _, userID := range input.ParticipantIDs {
		if err := s.addParticipant(ctx, conv.ID, userID, domain.RoleMember); err != nil {
			return domain.Conversation{}, err
		}
	}

	commonlog.Infof("event=conversation action=create type=%s conversation_id=%s", conv.Type, conv.ID)
	return conv, nil
}

// GetOrCreateDirect returns the DIRECT conversation between the two users,
// creating it on first use. Argument order does not matter.
func (s *MessageService) GetOrCreateDirect(ctx context.Context, userID, otherUserID string) (domain.Conversation, error) {
	return s.CreateConversation(ctx, userID, ConversationCreate{
		Type:           domain.ConversationDirect,
		ParticipantIDs: []string{otherUserID},
	})
}

func (s *MessageService) addParticipant(ctx context.Context, conversationID, userID string, role domain.ParticipantRole) error {
	return s.convs.UpsertParticipant(ctx, domain.Participant{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       time.Now().UTC(),
	})
}

func (s *MessageService) AddParticipants(ctx context.Context, conversationID, requesterID string, userIDs []string) error {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return ErrConversationNotFound
		}
		return err
	}
	if conv.Type != domain.ConversationGroup {
		return errors.New("participants can only be added to group conversations")
	}
	ok, err := s.convs.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	for _, userID := range userIDs {
		if err := s.addParticipant(ctx, conversationID, userID, domain.RoleMember); err != nil {
			return err
		}
	}
	return nil
}

// RemoveParticipant soft-leaves a participant. Members may remove
// themselves; removing someone else requires the ADMIN role.
func (s *MessageService) RemoveParticipant(ctx context.Context, conversationID, requesterID, userID string) error {
	if requesterID != userID {
		requester, err := s.convs.GetParticipant(ctx, conversationID, requesterID)
		if err != nil {
			if isNotFound(err) {
				return ErrNotParticipant
			}
			return err
		}
		if requester.Role != domain.RoleAdmin || requester.LeftAt != nil {
			return ErrRemoveForbidden
		}
	}
	removed, err := s.convs.RemoveParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotParticipant
	}
	return nil
}

// SendMessage persists a message, refreshes the conversation preview and
// bumps every other active participant's unread counter by one.
func (s *MessageService) SendMessage(ctx context.Context, conversationID, senderID string, input MessageCreate) (domain.Message, error) {
	hasContent := input.Content != nil && *input.Content != ""
	if !hasContent && len(input.Media) == 0 {
		return domain.Message{}, ErrEmptyMessage
	}

	ok, err := s.convs.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, ErrNotParticipant
	}

	msg := domain.Message{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		SenderID:         senderID,
		Content:          input.Content,
		Type:             DeriveMessageType(input.Content, input.Media),
		Media:            input.Media,
		Status:           domain.StatusSent,
		ReplyToMessageID: input.ReplyToMessageID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return domain.Message{}, err
	}

	if err := s.convs.SetLastMessage(ctx, conversationID, msg.ID, PreviewText(input.Content), msg.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	if err := s.convs.IncrementUnread(ctx, conversationID, senderID); err != nil {
		return domain.Message{}, err
	}

	s.publishEvent(ctx, mq.RouteMessageSent, map[string]any{
		"message_id":      msg.ID,
		"conversation_id": conversationID,
		"sender_id":       senderID,
	})

	commonlog.Infof("event=chat_message action=send conversation_id=%s message_id=%s", conversationID, msg.ID)
	return msg, nil
}

// publishEvent is best-effort: the durable write already happened, so a
// broker failure only delays realtime fan-out.
func (s *MessageService) publishEvent(ctx context.Context, routingKey string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishMessageEvent(ctx, routingKey, payload); err != nil {
		commonlog.Errorf("event=chat_message action=publish_event routing_key=%s status=failed error=%v", routingKey, err)
	}
}

// MarkConversationSeen resets the reader's unread counter, stamps their
// last-seen pointer at messageID and bulk-promotes others' messages to SEEN.
func (s *MessageService) MarkConversationSeen(ctx context.Context, conversationID, userID, messageID string) error {
	if _, err := s.convs.GetParticipant(ctx, conversationID, userID); err != nil {
		if isNotFound(err) {
			return ErrNotParticipant
		}
		return err
	}
	if err := s.convs.MarkSeen(ctx, conversationID, userID, messageID); err != nil {
		return err
	}
	if err := s.messages.MarkSeenBulk(ctx, conversationID, userID); err != nil {
		return err
	}
	s.publishEvent(ctx, mq.RouteMessageSeen, map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
		"message_id":      messageID,
	})
	return nil
}

// DeleteMessage soft-deletes one of the requester's own messages. Deleting
// someone else's message, or a message already deleted, reports ErrNotFound
// through the removed flag.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	removed, err := s.messages.SoftDelete(ctx, messageID, requesterID)
	if err != nil {
		return err
	}
	if !removed {
		return repository.ErrNotFound
	}
	return nil
}

type MessagePublic struct {
	domain.Message
	SenderUsername string  `json:"sender_username"`
	SenderAvatar   *string `json:"sender_avatar,omitempty"`
}

type MessagesPage struct {
	Data       []MessagePublic `json:"data"`
	NextCursor *string         `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

// ListMessages pages newest-first internally, then returns the page in
// chronological order for display.
func (s *MessageService) ListMessages(ctx context.Context, conversationID, requesterID string, cursor *time.Time, limit int) (MessagesPage, error) {
	ok, err := s.convs.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return MessagesPage{}, err
	}
	if !ok {
		return MessagesPage{}, ErrNotParticipant
	}

	if limit <= 0 {
		limit = 50
	}
	messages, err := s.messages.List(ctx, conversationID, cursor, limit+1)
	if err != nil {
		return MessagesPage{}, err
	}

	page := MessagesPage{Data: make([]MessagePublic, 0, len(messages))}
	if len(messages) > limit {
		messages = messages[:limit]
		page.HasMore = true
		next := messages[len(messages)-1].CreatedAt.Format(time.RFC3339Nano)
		page.NextCursor = &next
	}

	for _, msg := range messages {
		item := MessagePublic{Message: msg, SenderUsername: "Unknown"}
		if sender, err := s.users.GetByID(ctx, msg.SenderID); err == nil {
			item.SenderUsername = sender.Username
			item.SenderAvatar = sender.AvatarURL
		}
		page.Data = append(page.Data, item)
	}
	// chronological order, oldest first
	for i, j := 0, len(page.Data)-1; i < j; i, j = i+1, j-1 {
		page.Data[i], page.Data[j] = page.Data[j], page.Data[i]
	}
	return page, nil
}

type ParticipantInfo struct {
	UserID    string                 `json:"user_id"`
	Username  string                 `json:"username"`
	AvatarURL *string                `json:"avatar_url,omitempty"`
	Role      domain.ParticipantRole `json:"role"`
	IsOnline  bool                   `json:"is_online"`
}

func (s *MessageService) Participants(ctx context.Context, conversationID string) ([]ParticipantInfo, error) {
	participants, err := s.convs.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	infos := make([]ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		user, err := s.users.GetByID(ctx, p.UserID)
		if err != nil {
			continue
		}
		online := false
		if s.online != nil {
			// Presence may be unavailable; default to offline.
			if v, err := s.online.IsOnline(ctx, p.UserID); err == nil {
				online = v
			}
		}
		infos = append(infos, ParticipantInfo{
			UserID:    p.UserID,
			Username:  user.Username,
			AvatarURL: user.AvatarURL,
			Role:      p.Role,
			IsOnline:  online,
		})
	}
	return infos, nil
}

type ConversationListItem struct {
	ID                 string                  `json:"id"`
	Type               domain.ConversationType `json:"type"`
	Name               *string                 `json:"name,omitempty"`
	AvatarURL          *string                 `json:"avatar_url,omitempty"`
	LastMessageContent *string                 `json:"last_message_content,omitempty"`
	LastMessageAt      *time.Time              `json:"last_message_at,omitempty"`
	UnreadCount        int                     `json:"unread_count"`
}

type ConversationsPage struct {
	Data       []ConversationListItem `json:"data"`
	NextCursor *string                `json:"next_cursor,omitempty"`
	HasMore    bool                   `json:"has_more"`
}

func (s *MessageService) ListConversations(ctx context.Context, userID string, cursor *time.Time, limit int) (ConversationsPage, error) {
	if limit <= 0 {
		limit = 20
	}
	conversations, unread, err := s.convs.ListForUser(ctx, userID, cursor, limit+1)
	if err != nil {
		return ConversationsPage{}, err
	}

	page := ConversationsPage{Data: make([]ConversationListItem, 0, len(conversations))}
	if len(conversations) > limit {
		conversations = conversations[:limit]
		page.HasMore = true
		next := conversations[len(conversations)-1].UpdatedAt.Format(time.RFC3339Nano)
		page.NextCursor = &next
	}

	for _, conv := range conversations {
		item := ConversationListItem{
			ID:                 conv.ID,
			Type:               conv.Type,
			Name:               conv.Name,
			AvatarURL:          conv.AvatarURL,
			LastMessageContent: conv.LastMessageContent,
			LastMessageAt:      conv.LastMessageAt,
			UnreadCount:        unread[conv.ID],
		}
		// Direct chats display the other user's name and avatar.
		if conv.Type == domain.ConversationDirect {
			if other, ok := s.otherParticipant(ctx, conv.ID, userID); ok {
				item.Name = &other.Username
				item.AvatarURL = other.AvatarURL
			}
		}
		page.Data = append(page.Data, item)
	}
	return page, nil
}

func (s *MessageService) otherParticipant(ctx context.Context, conversationID, userID string) (domain.User, bool) {
	participants, err := s.convs.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return domain.User{}, false
	}
	for _, p := range participants {
		if p.UserID == userID {
			continue
		}
		if user, err := s.users.GetByID(ctx, p.UserID); err == nil {
			return user, true
		}
	}
	return domain.User{}, false
}

func (s *MessageService) GetConversation(ctx context.Context, conversationID, requesterID string) (domain.Conversation, []ParticipantInfo, error) {
	ok, err := s.convs.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	if !ok {
		return domain.Conversation{}, nil, ErrNotParticipant
	}
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return domain.Conversation{}, nil, ErrConversationNotFound
		}
		return domain.Conversation{}, nil, err
	}
	infos, err := s.Participants(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	return conv, infos, nil
}

// DeriveMessageType classifies a message from its content and attachments.
func DeriveMessageType(content *string, media []domain.MediaAttachment) domain.MessageType {
	hasContent := content != nil && *content != ""
	if len(media) == 0 {
		return domain.MessageText
	}
	hasVideo := false
	for _, m := range media {
		if m.Type == "video" {
			hasVideo = true
			break
		}
	}
	if hasContent {
		return domain.MessageMixed
	}
	if hasVideo {
		return domain.MessageVideo
	}
	return domain.MessageImage
}

// PreviewText is the denormalized conversation preview: the first 100 runes
// of the content, or a media placeholder.
func PreviewText(content *string) string {
	if content == nil || *content == "" {
		return "[Media]"
	}
	runes := []rune(*content)
	if len(runes) > 100 {
		return string(runes[:100])
	}
	return *content
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
