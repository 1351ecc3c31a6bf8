package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"arena_realtime/server/chat/domain"
	"arena_realtime/server/chat/repository"
	chatservice "arena_realtime/server/chat/service"
	commonauth "arena_realtime/server/common/auth"
	"arena_realtime/server/common/middleware"
	"arena_realtime/server/common/transport/httpresp"
	gwservice "arena_realtime/server/gateway/service"
	"arena_realtime/server/realtime/presence"
)

type Handler struct {
	auth          *commonauth.Service
	users         *chatservice.UserService
	messages      *chatservice.MessageService
	notifications *chatservice.NotificationService
	media         *chatservice.MediaService
	realtime      *gwservice.RealtimeService
	registry      *gwservice.Registry
	presence      *presence.Tracker
}

func NewHandler(
	auth *commonauth.Service,
	users *chatservice.UserService,
	messages *chatservice.MessageService,
	notifications *chatservice.NotificationService,
	media *chatservice.MediaService,
	realtime *gwservice.RealtimeService,
	registry *gwservice.Registry,
	tracker *presence.Tracker,
) *Handler {
	return &Handler{
		auth:          auth,
		users:         users,
		messages:      messages,
		notifications: notifications,
		media:         media,
		realtime:      realtime,
		registry:      registry,
		presence:      tracker,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/ws", h.realtime.HandleWS)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
	}

	authed := r.Group("/", middleware.AuthRequired(h.auth))

	convs := authed.Group("/conversations")
	{
		convs.POST("", h.createConversation)
		convs.GET("", h.listConversations)
		convs.POST("/direct/:user_id", h.getOrCreateDirect)
		convs.GET("/:id", h.getConversation)
		convs.GET("/:id/messages", h.listMessages)
		convs.POST("/:id/messages", h.sendMessage)
		convs.DELETE("/:id/messages/:message_id", h.deleteMessage)
		convs.POST("/:id/seen", h.markSeen)
		convs.POST("/:id/participants", h.addParticipants)
		convs.DELETE("/:id/participants/:user_id", h.removeParticipant)
	}

	notifs := authed.Group("/notifications")
	{
		notifs.GET("", h.listNotifications)
		notifs.GET("/unread-count", h.unreadCount)
		notifs.POST("/:id/read", h.markNotificationRead)
		notifs.POST("/read-all", h.markAllNotificationsRead)
		notifs.DELETE("/:id", h.deleteNotification)
		notifs.DELETE("", h.deleteAllNotifications)
	}

	authed.POST("/media", h.uploadMedia)
	authed.GET("/media/presign", h.presignMedia)

	admin := authed.Group("/admin", middleware.RequireRoles(string(domain.UserRoleAdmin), string(domain.UserRoleModerator)))
	{
		admin.GET("/presence/:user_id", h.presenceCheck)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, NewHealthResponse("ok", h.registry.LocalConnectionCount()))
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	user, err := h.users.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidCredentials))
		return
	}
	token, err := h.auth.GenerateToken(user.ID, string(user.Role))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to issue token"))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token, user.ID, string(user.Role)))
}

func (h *Handler) createConversation(c *gin.Context) {
	var req chatservice.ConversationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	conv, err := h.messages.CreateConversation(c.Request.Context(), c.GetString("auth_user_id"), req)
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrDirectParticipantCount), errors.Is(err, chatservice.ErrGroupNameRequired):
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to create conversation"))
		}
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	cursor, ok := parseCursor(c.Query("cursor"))
	if !ok {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("invalid cursor"))
		return
	}
	page, err := h.messages.ListConversations(c.Request.Context(), c.GetString("auth_user_id"), cursor, intQuery(c, "limit"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to list conversations"))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getOrCreateDirect(c *gin.Context) {
	conv, err := h.messages.GetOrCreateDirect(c.Request.Context(), c.GetString("auth_user_id"), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to open direct conversation"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) getConversation(c *gin.Context) {
	conv, participants, err := h.messages.GetConversation(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"))
	if err != nil {
		respondConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "participants": participants})
}

func (h *Handler) listMessages(c *gin.Context) {
	cursor, ok := parseCursor(c.Query("cursor"))
	if !ok {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("invalid cursor"))
		return
	}
	page, err := h.messages.ListMessages(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"), cursor, intQuery(c, "limit"))
	if err != nil {
		respondConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req chatservice.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	msg, err := h.messages.SendMessage(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"), req)
	if err != nil {
		if errors.Is(err, chatservice.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
			return
		}
		respondConversationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	err := h.messages.DeleteMessage(c.Request.Context(), c.Param("message_id"), c.GetString("auth_user_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, httpresp.NewErrorResponse("message not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to delete message"))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

type markSeenRequest struct {
	MessageID string `json:"message_id" binding:"required"`
}

func (h *Handler) markSeen(c *gin.Context) {
	var req markSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := h.messages.MarkConversationSeen(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"), req.MessageID); err != nil {
		respondConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

type addParticipantsRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

func (h *Handler) addParticipants(c *gin.Context) {
	var req addParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := h.messages.AddParticipants(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"), req.UserIDs); err != nil {
		respondConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) removeParticipant(c *gin.Context) {
	err := h.messages.RemoveParticipant(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"), c.Param("user_id"))
	if err != nil {
		if errors.Is(err, chatservice.ErrRemoveForbidden) {
			c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(err.Error()))
			return
		}
		respondConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) listNotifications(c *gin.Context) {
	cursor, ok := parseCursor(c.Query("cursor"))
	if !ok {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("invalid cursor"))
		return
	}
	unreadOnly := c.Query("unread_only") == "true"
	page, err := h.notifications.List(c.Request.Context(), c.GetString("auth_user_id"), cursor, intQuery(c, "limit"), unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to list notifications"))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) unreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to count notifications"))
		return
	}
	c.JSON(http.StatusOK, UnreadCountResponse{UnreadCount: count})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	ok, err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to mark notification"))
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotificationGone))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	count, err := h.notifications.MarkAllRead(c.Request.Context(), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to mark notifications"))
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

func (h *Handler) deleteNotification(c *gin.Context) {
	ok, err := h.notifications.Delete(c.Request.Context(), c.Param("id"), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to delete notification"))
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotificationGone))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) deleteAllNotifications(c *gin.Context) {
	count, err := h.notifications.DeleteAll(c.Request.Context(), c.GetString("auth_user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to delete notifications"))
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

const maxUploadBytes = 50 << 20

func (h *Handler) uploadMedia(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("file field is required"))
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, httpresp.NewErrorResponse("file too large"))
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("failed to read file"))
		return
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	attachment, err := h.media.UploadAttachment(c.Request.Context(), c.GetString("auth_user_id"), file.Filename, contentType, src, file.Size)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, attachment)
}

// presignMedia issues a short-lived direct download URL for a stored object,
// for clients that cannot reach the public bucket URL.
func (h *Handler) presignMedia(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("key query parameter is required"))
		return
	}
	url, err := h.media.PresignDownload(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("failed to presign download"))
		return
	}
	c.JSON(http.StatusOK, URLResponse{URL: url})
}

func (h *Handler) presenceCheck(c *gin.Context) {
	userID := c.Param("user_id")
	online, err := h.presence.IsOnline(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("presence lookup failed"))
		return
	}
	c.JSON(http.StatusOK, PresenceResponse{UserID: userID, IsOnline: online})
}

func respondConversationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chatservice.ErrNotParticipant):
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrNotParticipant))
	case errors.Is(err, chatservice.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrConversationGone))
	default:
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse("internal error"))
	}
}

func intQuery(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 0 {
		return 0
	}
	if n > 200 {
		return 200
	}
	return n
}
