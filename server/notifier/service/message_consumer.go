package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"arena_realtime/server/chat/domain"
	chatservice "arena_realtime/server/chat/service"
	"arena_realtime/server/common/infra/mq"
	commonlog "arena_realtime/server/common/log"
	"arena_realtime/server/realtime/relay"
)

const messageQueue = "message_consumer"

// MessageStatusStore is the slice of the message repository the consumer
// needs: status transitions only.
type MessageStatusStore interface {
	Get(ctx context.Context, messageID string) (domain.Message, error)
	MarkDelivered(ctx context.Context, messageID string) (bool, error)
}

type ParticipantStore interface {
	ActiveParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error)
}

// MessageConsumer fans chat events out to whoever is online. It is the only
// component that turns a durable queue delivery into realtime frames for
// recipients other than the sender.
type MessageConsumer struct {
	messages MessageStatusStore
	convs    ParticipantStore
	users    chatservice.UserStore
	online   chatservice.OnlineChecker
	relay    chatservice.RelayPublisher
}

func NewMessageConsumer(messages MessageStatusStore, convs ParticipantStore, users chatservice.UserStore, online chatservice.OnlineChecker, relayPub chatservice.RelayPublisher) *MessageConsumer {
	return &MessageConsumer{messages: messages, convs: convs, users: users, online: online, relay: relayPub}
}

func (c *MessageConsumer) Start(ctx context.Context, conn *amqp.Connection) error {
	return mq.Consume(ctx, conn, mq.ConsumerConfig{
		Exchange: mq.MessageEventsExchange,
		Queue:    messageQueue,
		Bindings: []string{"message.*"},
	}, c.Handle)
}

type messageEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	UserID         string `json:"user_id"`
}

func (c *MessageConsumer) Handle(ctx context.Context, routingKey string, body []byte) error {
	var event messageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		commonlog.Errorf("event=message_consumer action=consume status=skipped reason=invalid_json routing_key=%s error=%v", routingKey, err)
		return nil
	}

	switch routingKey {
	case mq.RouteMessageSent:
		return c.handleSent(ctx, event)
	case mq.RouteMessageDelivered:
		return c.handleDelivered(ctx, event)
	case mq.RouteMessageSeen:
		return c.handleSeen(ctx, event)
	case mq.RouteMessageTyping:
		return c.handleTyping(ctx, event)
	default:
		commonlog.Warnf("event=message_consumer action=consume status=skipped reason=unknown_routing_key routing_key=%s", routingKey)
		return nil
	}
}

// handleSent delivers NEW_MESSAGE to every online participant except the
// sender. The message's status is untouched here: DELIVERED is reserved for
// an explicit message.delivered acknowledgement.
func (c *MessageConsumer) handleSent(ctx context.Context, event messageEvent) error {
	if event.MessageID == "" || event.ConversationID == "" {
		return nil
	}
	msg, err := c.messages.Get(ctx, event.MessageID)
	if err != nil {
		commonlog.Errorf("event=message_consumer action=fetch_message status=failed message_id=%s error=%v", event.MessageID, err)
		return nil
	}

	senderUsername := "Unknown"
	var senderAvatar *string
	if sender, err := c.users.GetByID(ctx, msg.SenderID); err == nil {
		senderUsername = sender.Username
		senderAvatar = sender.AvatarURL
	}

	payload := map[string]any{
		"type":             "NEW_MESSAGE",
		"conversationId":   msg.ConversationID,
		"messageId":        msg.ID,
		"senderId":         msg.SenderID,
		"senderUsername":   senderUsername,
		"senderAvatar":     senderAvatar,
		"content":          msg.Content,
		"messageType":      msg.Type,
		"media":            msg.Media,
		"status":           msg.Status,
		"replyToMessageId": msg.ReplyToMessageID,
		"createdAt":        msg.CreatedAt.Format(time.RFC3339Nano),
	}

	for _, userID := range c.onlineRecipients(ctx, msg.ConversationID, msg.SenderID) {
		if _, err := c.relay.Publish(ctx, relay.KindMessage, userID, payload); err != nil {
			commonlog.Errorf("event=message_consumer action=relay status=failed message_id=%s user_id=%s error=%v", msg.ID, userID, err)
		}
	}
	return nil
}

func (c *MessageConsumer) handleDelivered(ctx context.Context, event messageEvent) error {
	if event.MessageID == "" {
		return nil
	}
	msg, err := c.messages.Get(ctx, event.MessageID)
	if err != nil {
		return nil
	}
	promoted, err := c.messages.MarkDelivered(ctx, event.MessageID)
	if err != nil {
		commonlog.Errorf("event=message_consumer action=mark_delivered status=failed message_id=%s error=%v", event.MessageID, err)
		return nil
	}
	if promoted {
		c.publishToSender(ctx, msg.SenderID, map[string]any{
			"type":      "MESSAGE_STATUS",
			"messageId": event.MessageID,
			"status":    domain.StatusDelivered,
		})
	}
	return nil
}

// handleSeen fans MESSAGE_SEEN out to the other online participants. The
// reader's own unread reset and bulk status promotion already happened in
// the gateway before the event was published.
func (c *MessageConsumer) handleSeen(ctx context.Context, event messageEvent) error {
	if event.ConversationID == "" || event.UserID == "" {
		return nil
	}
	username := "Unknown"
	if user, err := c.users.GetByID(ctx, event.UserID); err == nil {
		username = user.Username
	}
	payload := map[string]any{
		"type":              "MESSAGE_SEEN",
		"conversationId":    event.ConversationID,
		"userId":            event.UserID,
		"username":          username,
		"lastSeenMessageId": event.MessageID,
	}
	for _, userID := range c.onlineRecipients(ctx, event.ConversationID, event.UserID) {
		if _, err := c.relay.Publish(ctx, relay.KindMessage, userID, payload); err != nil {
			commonlog.Errorf("event=message_consumer action=relay status=failed conversation_id=%s user_id=%s error=%v", event.ConversationID, userID, err)
		}
	}
	return nil
}

func (c *MessageConsumer) handleTyping(ctx context.Context, event messageEvent) error {
	if event.ConversationID == "" || event.UserID == "" {
		return nil
	}
	username := "Unknown"
	if user, err := c.users.GetByID(ctx, event.UserID); err == nil {
		username = user.Username
	}
	payload := map[string]any{
		"type":           "TYPING",
		"conversationId": event.ConversationID,
		"userId":         event.UserID,
		"username":       username,
	}
	for _, userID := range c.onlineRecipients(ctx, event.ConversationID, event.UserID) {
		if _, err := c.relay.Publish(ctx, relay.KindMessage, userID, payload); err != nil {
			commonlog.Errorf("event=message_consumer action=relay status=failed conversation_id=%s user_id=%s error=%v", event.ConversationID, userID, err)
		}
	}
	return nil
}

func (c *MessageConsumer) onlineRecipients(ctx context.Context, conversationID, excludeUserID string) []string {
	participants, err := c.convs.ActiveParticipants(ctx, conversationID)
	if err != nil {
		commonlog.Errorf("event=message_consumer action=fetch_participants status=failed conversation_id=%s error=%v", conversationID, err)
		return nil
	}
	var online []string
	for _, p := range participants {
		if p.UserID == excludeUserID {
			continue
		}
		if ok, err := c.online.IsOnline(ctx, p.UserID); err == nil && ok {
			online = append(online, p.UserID)
		}
	}
	return online
}

func (c *MessageConsumer) publishToSender(ctx context.Context, senderID string, payload map[string]any) {
	if ok, err := c.online.IsOnline(ctx, senderID); err != nil || !ok {
		return
	}
	if _, err := c.relay.Publish(ctx, relay.KindMessage, senderID, payload); err != nil {
		commonlog.Errorf("event=message_consumer action=relay status=failed user_id=%s error=%v", senderID, err)
	}
}
