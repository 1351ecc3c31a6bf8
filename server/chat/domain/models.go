package domain

import "time"

type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

type ParticipantRole string

const (
	RoleMember ParticipantRole = "MEMBER"
	RoleAdmin  ParticipantRole = "ADMIN"
)

type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageVideo MessageType = "VIDEO"
	MessageMixed MessageType = "MIXED"
)

// MessageStatus transitions are monotonic: SENT -> DELIVERED -> SEEN.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusSeen      MessageStatus = "SEEN"
)

// UserRole is a non-optional field on every user record with an explicit
// default at construction time.
type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleModerator UserRole = "moderator"
	UserRoleAdmin     UserRole = "admin"

	DefaultUserRole = UserRoleUser
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	Role         UserRole  `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Conversation struct {
	ID                 string           `json:"id"`
	Type               ConversationType `json:"type"`
	Name               *string          `json:"name,omitempty"`
	AvatarURL          *string          `json:"avatar_url,omitempty"`
	CreatedBy          *string          `json:"created_by,omitempty"`
	LastMessageID      *string          `json:"last_message_id,omitempty"`
	LastMessageContent *string          `json:"last_message_content,omitempty"`
	LastMessageAt      *time.Time       `json:"last_message_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type Participant struct {
	ID                string          `json:"id"`
	ConversationID    string          `json:"conversation_id"`
	UserID            string          `json:"user_id"`
	Role              ParticipantRole `json:"role"`
	LastSeenMessageID *string         `json:"last_seen_message_id,omitempty"`
	UnreadCount       int             `json:"unread_count"`
	Muted             bool            `json:"muted"`
	JoinedAt          time.Time       `json:"joined_at"`
	LeftAt            *time.Time      `json:"left_at,omitempty"`
}

type MediaAttachment struct {
	URL          string   `json:"url"`
	Type         string   `json:"type"` // "image" | "video"
	ThumbnailURL *string  `json:"thumbnail_url,omitempty"`
	Width        *int     `json:"width,omitempty"`
	Height       *int     `json:"height,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
}

type Message struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversation_id"`
	SenderID         string            `json:"sender_id"`
	Content          *string           `json:"content,omitempty"`
	Type             MessageType       `json:"type"`
	Media            []MediaAttachment `json:"media"`
	Status           MessageStatus     `json:"status"`
	ReplyToMessageID *string           `json:"reply_to_message_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        *time.Time        `json:"updated_at,omitempty"`
	DeletedAt        *time.Time        `json:"deleted_at,omitempty"`
}

type NotificationType string

const (
	NotifyPostLiked           NotificationType = "post_liked"
	NotifyPostCommented       NotificationType = "post_commented"
	NotifyPostShared          NotificationType = "post_shared"
	NotifyMentioned           NotificationType = "mentioned"
	NotifyReplyThread         NotificationType = "reply_thread"
	NotifyFriendRequest       NotificationType = "friend_request"
	NotifyFriendAccepted      NotificationType = "friend_accepted"
	NotifyTeamJoinRequest     NotificationType = "team_join_request"
	NotifyTeamRequestApproved NotificationType = "team_request_approved"
	NotifyTeamRequestRejected NotificationType = "team_request_rejected"
	NotifyReportResolved      NotificationType = "report_resolved"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	ActorID   string           `json:"actor_id"`
	Type      NotificationType `json:"type"`
	PostID    *string          `json:"post_id,omitempty"`
	CommentID *string          `json:"comment_id,omitempty"`
	Content   string           `json:"content"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
