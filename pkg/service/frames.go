package service

import "encoding/json"

// Outbound frame types
const (
	FrameConnected      = "connected"
	FrameMessage        = "message"
	FrameTyping         = "typing"
	FramePresence       = "presence"
	FrameDocumentUpdate = "document_update"
	FramePong           = "pong"
	FramePresenceInfo   = "presence_info"
	FrameDirect         = "direct"
	FrameHeartbeat      = "heartbeat"
)

// Inbound frame types
const (
	ClientTyping          = "typing"
	ClientPing            = "ping"
	ClientRequestPresence = "request_presence"
)

// Frame is the envelope for every server-to-client message:
// {"type": ..., "workspace_id"?: ..., "data": ..., "timestamp": ...}
type Frame struct {
	Type        string  `json:"type"`
	WorkspaceID string  `json:"workspace_id,omitempty"`
	Data        any     `json:"data,omitempty"`
	Timestamp   float64 `json:"timestamp"`
}

// ClientFrame is the envelope for client-to-server messages. Data stays raw
// until the type tag selects a payload shape; unknown types are ignored.
type ClientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TypingData is the payload of an inbound typing frame.
type TypingData struct {
	IsTyping bool `json:"is_typing"`
}

// TypingPayload fans out a typing indicator.
type TypingPayload struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresencePayload fans out a join/leave/membership change.
type PresencePayload struct {
	UserID      string   `json:"user_id"`
	Status      string   `json:"status"` // joined, left, added, removed
	OnlineUsers []string `json:"online_users"`
}

// DocumentUpdatePayload fans out a document context change.
type DocumentUpdatePayload struct {
	DocumentID string         `json:"document_id"`
	UpdateType string         `json:"update_type"`
	Details    map[string]any `json:"details,omitempty"`
}

// WorkspaceStats is the presence snapshot returned to clients and over the
// presence HTTP endpoint.
type WorkspaceStats struct {
	WorkspaceID     string   `json:"workspace_id"`
	OnlineCount     int      `json:"online_count"`
	OnlineUsers     []string `json:"online_users"`
	TypingUsers     []string `json:"typing_users"`
	ConnectionCount int      `json:"connection_count"`
}
