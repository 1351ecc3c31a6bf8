package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	chatservice "arena_realtime/server/chat/service"
	commonauth "arena_realtime/server/common/auth"
	"arena_realtime/server/common/infra/mq"
	commonlog "arena_realtime/server/common/log"
	"arena_realtime/server/realtime/relay"
)

// closeCodeUnauthenticated distinguishes auth failures from ordinary closes.
const closeCodeUnauthenticated = 4001

type EventPublisher interface {
	PublishMessageEvent(ctx context.Context, routingKey string, payload map[string]any) error
}

// RealtimeService owns the websocket endpoint: handshake, frame dispatch and
// the per-connection relay subscription.
type RealtimeService struct {
	registry *Registry
	relay    *relay.Relay
	subCfg   relay.SubscribeConfig
	messages *chatservice.MessageService
	users    *chatservice.UserService
	auth     *commonauth.Service
	events   EventPublisher
}

func NewRealtimeService(registry *Registry, relayBridge *relay.Relay, subCfg relay.SubscribeConfig, messages *chatservice.MessageService, users *chatservice.UserService, auth *commonauth.Service, events EventPublisher) *RealtimeService {
	return &RealtimeService{
		registry: registry,
		relay:    relayBridge,
		subCfg:   subCfg,
		messages: messages,
		users:    users,
		auth:     auth,
		events:   events,
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *RealtimeService) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	token := c.Query("token")
	claims, err := s.auth.ParseToken(token)
	if err != nil {
		closeUnauthenticated(conn, "invalid or expired token")
		return
	}
	user, err := s.users.ActiveUser(c.Request.Context(), claims.UserID)
	if err != nil {
		closeUnauthenticated(conn, "unknown or deactivated user")
		return
	}

	client := &Client{
		UserID:    user.ID,
		SocketID:  uuid.NewString(),
		Conn:      conn,
		CreatedAt: time.Now(),
	}

	// The listener outlives the HTTP request context: the connection is
	// hijacked, so tie the subscription to the read loop instead.
	listenCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.registry.Register(listenCtx, client)
	defer s.registry.Unregister(context.Background(), client)

	go s.relay.Subscribe(listenCtx, s.subCfg, func(topic string, payload []byte) {
		client.WriteRaw(payload)
	}, relay.Topic(relay.KindMessage, user.ID), relay.Topic(relay.KindNotification, user.ID))

	client.WriteJSON(newConnectedFrame(user.ID))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Best-effort realtime signaling: malformed frames are dropped.
			continue
		}
		s.dispatch(listenCtx, client, frame)
	}
}

func (s *RealtimeService) dispatch(ctx context.Context, client *Client, frame clientFrame) {
	switch frame.Type {
	case frameTypePing:
		client.WriteJSON(newPongFrame())
	case frameTypeSendMessage:
		s.handleSendMessage(ctx, client, frame)
	case frameTypeTyping:
		s.handleTyping(ctx, client, frame)
	case frameTypeMarkSeen:
		s.handleMarkSeen(ctx, client, frame)
	}
}

func (s *RealtimeService) handleSendMessage(ctx context.Context, client *Client, frame clientFrame) {
	hasContent := frame.Content != nil && *frame.Content != ""
	if frame.ConversationID == "" || (!hasContent && len(frame.Media) == 0) {
		client.WriteJSON(newErrorFrame("Invalid message: missing conversationId or content/media"))
		return
	}

	msg, err := s.messages.SendMessage(ctx, frame.ConversationID, client.UserID, chatservice.MessageCreate{
		Content:          frame.Content,
		Media:            frame.Media,
		ReplyToMessageID: frame.ReplyToMessageID,
	})
	if err != nil {
		if errors.Is(err, chatservice.ErrNotParticipant) || errors.Is(err, chatservice.ErrEmptyMessage) {
			client.WriteJSON(newErrorFrame(err.Error()))
			return
		}
		commonlog.Errorf("event=ws action=send_message status=failed user_id=%s conversation_id=%s error=%v", client.UserID, frame.ConversationID, err)
		client.WriteJSON(newErrorFrame("Failed to send message"))
		return
	}

	// Sender always gets an immediate ACK; fan-out to other participants
	// happens through the durable queue the service published to.
	client.WriteJSON(newAckFrame(frame.TempID, msg.ID))
}

func (s *RealtimeService) handleTyping(ctx context.Context, client *Client, frame clientFrame) {
	if frame.ConversationID == "" {
		return
	}
	if err := s.events.PublishMessageEvent(ctx, mq.RouteMessageTyping, map[string]any{
		"conversation_id": frame.ConversationID,
		"user_id":         client.UserID,
	}); err != nil {
		commonlog.Errorf("event=ws action=publish_event routing_key=%s status=failed error=%v", mq.RouteMessageTyping, err)
	}
}

func (s *RealtimeService) handleMarkSeen(ctx context.Context, client *Client, frame clientFrame) {
	if frame.ConversationID == "" || frame.MessageID == "" {
		return
	}
	if err := s.messages.MarkConversationSeen(ctx, frame.ConversationID, client.UserID, frame.MessageID); err != nil {
		commonlog.Errorf("event=ws action=mark_seen status=failed user_id=%s conversation_id=%s error=%v", client.UserID, frame.ConversationID, err)
	}
}

func closeUnauthenticated(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(closeCodeUnauthenticated, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
