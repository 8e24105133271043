package models

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// SystemSender is the sender id used for server-generated messages.
const SystemSender = "system"

var ErrEmptyContent = errors.New("message content cannot be empty")

// ChatMessage is a single turn in a workspace conversation.
// Messages are immutable after construction.
type ChatMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Timestamp      float64        `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewChatMessage builds a message with a fresh id and current timestamp.
// Content is trimmed; empty or whitespace-only content is rejected.
func NewChatMessage(conversationID, senderID, role, content string, metadata map[string]any) (*ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Role:           role,
		Content:        content,
		Timestamp:      NowSeconds(),
		Metadata:       metadata,
	}, nil
}

var (
	clockMu  sync.Mutex
	lastTick float64
)

// NowSeconds returns wall-clock seconds as a float, strictly increasing
// across calls so that updated_at ordering always matches call ordering.
func NowSeconds() float64 {
	clockMu.Lock()
	defer clockMu.Unlock()
	t := float64(time.Now().UnixMicro()) / 1e6
	if t <= lastTick {
		t = lastTick + 1e-6
	}
	lastTick = t
	return t
}
