package service

import "arena_realtime/server/chat/domain"

// Client -> server frame types.
const (
	frameTypePing        = "ping"
	frameTypeSendMessage = "SEND_MESSAGE"
	frameTypeTyping      = "TYPING"
	frameTypeMarkSeen    = "MARK_SEEN"
)

type clientFrame struct {
	Type             string                   `json:"type"`
	ConversationID   string                   `json:"conversationId"`
	Content          *string                  `json:"content"`
	Media            []domain.MediaAttachment `json:"media"`
	TempID           string                   `json:"tempId"`
	ReplyToMessageID *string                  `json:"replyToMessageId"`
	MessageID        string                   `json:"messageId"`
}

type pongFrame struct {
	Type string `json:"type"`
}

type connectedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ackFrame struct {
	Type      string `json:"type"`
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func newPongFrame() pongFrame {
	return pongFrame{Type: "pong"}
}

func newConnectedFrame(userID string) connectedFrame {
	return connectedFrame{Type: "connected", Message: "Connected to notification and message stream", UserID: userID}
}

func newErrorFrame(message string) errorFrame {
	return errorFrame{Type: "ERROR", Message: message}
}

func newAckFrame(tempID, messageID string) ackFrame {
	return ackFrame{Type: "MESSAGE_ACK", TempID: tempID, MessageID: messageID, Status: string(domain.StatusSent)}
}
