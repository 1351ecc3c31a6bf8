package mq

import amqp "github.com/rabbitmq/amqp091-go"

const (
	EventsExchange        = "events"
	MessageEventsExchange = "message_events"
)

// Notification event routing keys published to the events exchange.
const (
	RoutePostLiked           = "post.liked"
	RoutePostCommented       = "post.commented"
	RoutePostShared          = "post.shared"
	RouteCommentMentioned    = "comment.mentioned"
	RouteCommentReplied      = "comment.replied"
	RouteFriendRequest       = "friend.request"
	RouteFriendAccepted      = "friend.accepted"
	RouteTeamJoinRequest     = "team.join_request"
	RouteTeamRequestApproved = "team.request_approved"
	RouteTeamRequestRejected = "team.request_rejected"
	RouteReportResolved      = "report.resolved"
)

// Message event routing keys published to the message_events exchange.
const (
	RouteMessageSent      = "message.sent"
	RouteMessageDelivered = "message.delivered"
	RouteMessageSeen      = "message.seen"
	RouteMessageTyping    = "message.typing"
)

func NewConnection(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}
