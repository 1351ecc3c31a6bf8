package api

import (
	"strings"
	"time"
)

type HealthResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
}

func NewHealthResponse(status string, activeConnections int) HealthResponse {
	return HealthResponse{Status: status, ActiveConnections: activeConnections}
}

type PresenceResponse struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

type URLResponse struct {
	URL string `json:"url"`
}

// parseCursor accepts an RFC3339 timestamp cursor; empty means "first page".
func parseCursor(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, raw); err != nil {
			return nil, false
		}
	}
	return &t, true
}
