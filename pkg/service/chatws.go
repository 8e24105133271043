package service

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/turboalan/collab/pkg/models"
	"github.com/turboalan/collab/pkg/utils"
)

// Conn is the subset of a websocket connection the presence layer needs.
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// UserPresence tracks one live connection of one user in one workspace. A
// user may hold several connections to the same workspace (multiple tabs),
// each with its own presence entry.
type UserPresence struct {
	UserID      string
	WorkspaceID string
	ConnectedAt float64

	conn    Conn
	writeMu sync.Mutex

	// typing state, guarded by the owning manager's mutex
	lastActivity    float64
	isTyping        bool
	typingStartedAt float64
}

func (p *UserPresence) send(f Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(f)
}

// ChatWebSocketManager owns the live connections of every workspace and fans
// server events out to them. It holds no workspace state of its own beyond
// presence; content lives in the WorkspaceManager.
type ChatWebSocketManager struct {
	mu sync.Mutex
	// workspaceID -> live presences
	connections map[string][]*UserPresence
	// userID -> workspaceIDs with at least one live connection
	userWorkspaces map[string]map[string]struct{}

	typingTimeout time.Duration
	logger        *slog.Logger
	now           func() float64

	// optional cross-instance publisher, set once at wiring time
	publish func(workspaceID string, f Frame)
}

// SetPublisher installs a hook invoked for every broadcast frame so a relay
// can mirror it to other instances. Call before serving traffic.
func (m *ChatWebSocketManager) SetPublisher(fn func(workspaceID string, f Frame)) {
	m.publish = fn
}

func NewChatWebSocketManager(typingTimeout time.Duration) *ChatWebSocketManager {
	if typingTimeout <= 0 {
		typingTimeout = 5 * time.Second
	}
	return &ChatWebSocketManager{
		connections:    make(map[string][]*UserPresence),
		userWorkspaces: make(map[string]map[string]struct{}),
		typingTimeout:  typingTimeout,
		logger:         utils.GetLogger(),
		now:            models.NowSeconds,
	}
}

// Connect registers a live connection, greets it, and announces the join to
// everyone already in the room.
func (m *ChatWebSocketManager) Connect(workspaceID, userID string, conn Conn) *UserPresence {
	now := m.now()
	p := &UserPresence{
		UserID:       userID,
		WorkspaceID:  workspaceID,
		ConnectedAt:  now,
		conn:         conn,
		lastActivity: now,
	}

	m.mu.Lock()
	m.connections[workspaceID] = append(m.connections[workspaceID], p)
	if m.userWorkspaces[userID] == nil {
		m.userWorkspaces[userID] = make(map[string]struct{})
	}
	m.userWorkspaces[userID][workspaceID] = struct{}{}
	m.mu.Unlock()

	if err := p.send(Frame{
		Type:        FrameConnected,
		WorkspaceID: workspaceID,
		Data:        map[string]any{"user_id": userID},
		Timestamp:   now,
	}); err != nil {
		m.logger.Warn("greeting failed", "workspace_id", workspaceID, "user_id", userID, "error", err)
	}

	m.logger.Info("user connected", "workspace_id", workspaceID, "user_id", userID)
	m.BroadcastPresence(workspaceID, userID, "joined")
	return p
}

// Disconnect removes exactly the given connection. Removing a connection that
// is already gone is a no-op, so the call is safe from both the read loop and
// the dead-connection sweep. The departure is announced only when the entry
// was actually present.
func (m *ChatWebSocketManager) Disconnect(p *UserPresence) {
	m.mu.Lock()
	conns := m.connections[p.WorkspaceID]
	found := false
	for i, c := range conns {
		if c == p {
			m.connections[p.WorkspaceID] = append(conns[:i], conns[i+1:]...)
			found = true
			break
		}
	}
	if found {
		if len(m.connections[p.WorkspaceID]) == 0 {
			delete(m.connections, p.WorkspaceID)
		}
		// Drop the user->workspace edge only when no connection remains.
		remaining := false
		for _, c := range m.connections[p.WorkspaceID] {
			if c.UserID == p.UserID {
				remaining = true
				break
			}
		}
		if !remaining {
			if set := m.userWorkspaces[p.UserID]; set != nil {
				delete(set, p.WorkspaceID)
				if len(set) == 0 {
					delete(m.userWorkspaces, p.UserID)
				}
			}
		}
	}
	m.mu.Unlock()

	if !found {
		return
	}
	_ = p.conn.Close()
	m.logger.Info("user disconnected", "workspace_id", p.WorkspaceID, "user_id", p.UserID)
	m.BroadcastPresence(p.WorkspaceID, p.UserID, "left")
}

// snapshot returns a copy of the live presences so sends happen outside the
// manager lock.
func (m *ChatWebSocketManager) snapshot(workspaceID string) []*UserPresence {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.connections[workspaceID]
	out := make([]*UserPresence, len(conns))
	copy(out, conns)
	return out
}

// fanOut delivers a frame locally and mirrors it to the relay when one is
// installed. Heartbeats stay local.
func (m *ChatWebSocketManager) fanOut(workspaceID string, f Frame, excludeUser string) {
	m.deliver(workspaceID, f, excludeUser)
	if m.publish != nil && f.Type != FrameHeartbeat {
		m.publish(workspaceID, f)
	}
}

// deliver sends a frame to every presence in the snapshot except excludeUser,
// then sweeps any connection whose write failed.
func (m *ChatWebSocketManager) deliver(workspaceID string, f Frame, excludeUser string) {
	var dead []*UserPresence
	for _, p := range m.snapshot(workspaceID) {
		if excludeUser != "" && p.UserID == excludeUser {
			continue
		}
		if err := p.send(f); err != nil {
			m.logger.Warn("broadcast write failed", "workspace_id", workspaceID, "user_id", p.UserID, "error", err)
			dead = append(dead, p)
		}
	}
	for _, p := range dead {
		m.Disconnect(p)
	}
}

// BroadcastMessage sends a chat payload to everyone in the workspace except
// excludeUser (typically the sender, who already has the message).
func (m *ChatWebSocketManager) BroadcastMessage(workspaceID string, data any, excludeUser string) {
	m.fanOut(workspaceID, Frame{
		Type:        FrameMessage,
		WorkspaceID: workspaceID,
		Data:        data,
		Timestamp:   m.now(),
	}, excludeUser)
}

// BroadcastTyping updates the sender's typing state and tells everyone else.
func (m *ChatWebSocketManager) BroadcastTyping(workspaceID, userID string, isTyping bool) {
	now := m.now()
	m.mu.Lock()
	for _, p := range m.connections[workspaceID] {
		if p.UserID == userID {
			p.isTyping = isTyping
			p.typingStartedAt = now
			p.lastActivity = now
			break
		}
	}
	m.mu.Unlock()

	m.fanOut(workspaceID, Frame{
		Type:        FrameTyping,
		WorkspaceID: workspaceID,
		Data:        TypingPayload{UserID: userID, IsTyping: isTyping},
		Timestamp:   now,
	}, userID)
}

// BroadcastPresence announces a membership or connectivity change to the
// whole room, the subject included.
func (m *ChatWebSocketManager) BroadcastPresence(workspaceID, userID, status string) {
	m.fanOut(workspaceID, Frame{
		Type:        FramePresence,
		WorkspaceID: workspaceID,
		Data: PresencePayload{
			UserID:      userID,
			Status:      status,
			OnlineUsers: m.OnlineUsers(workspaceID),
		},
		Timestamp: m.now(),
	}, "")
}

// BroadcastDocumentUpdate announces a document change to the whole room.
func (m *ChatWebSocketManager) BroadcastDocumentUpdate(workspaceID, documentID, updateType string, details map[string]any) {
	m.fanOut(workspaceID, Frame{
		Type:        FrameDocumentUpdate,
		WorkspaceID: workspaceID,
		Data: DocumentUpdatePayload{
			DocumentID: documentID,
			UpdateType: updateType,
			Details:    details,
		},
		Timestamp: m.now(),
	}, "")
}

// SendToUser delivers a frame to every connection the user holds in the given
// workspace. Returns true if at least one delivery succeeded.
func (m *ChatWebSocketManager) SendToUser(workspaceID, userID, frameType string, data any) bool {
	f := Frame{
		Type:        frameType,
		WorkspaceID: workspaceID,
		Data:        data,
		Timestamp:   m.now(),
	}
	sent := false
	var dead []*UserPresence
	for _, p := range m.snapshot(workspaceID) {
		if p.UserID != userID {
			continue
		}
		if err := p.send(f); err != nil {
			dead = append(dead, p)
			continue
		}
		sent = true
	}
	for _, p := range dead {
		m.Disconnect(p)
	}
	return sent
}

// OnlineUsers returns the distinct users with a live connection, sorted.
func (m *ChatWebSocketManager) OnlineUsers(workspaceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, p := range m.connections[workspaceID] {
		seen[p.UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TypingUsers returns the users whose typing indicator is still fresh.
// Staleness is judged at read time: an indicator older than the typing
// timeout no longer counts, without any background timer.
func (m *ChatWebSocketManager) TypingUsers(workspaceID string) []string {
	cutoff := m.now() - m.typingTimeout.Seconds()
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, p := range m.connections[workspaceID] {
		if p.isTyping && p.typingStartedAt > cutoff {
			seen[p.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats reports the room's presence snapshot.
func (m *ChatWebSocketManager) Stats(workspaceID string) WorkspaceStats {
	online := m.OnlineUsers(workspaceID)
	typing := m.TypingUsers(workspaceID)
	m.mu.Lock()
	count := len(m.connections[workspaceID])
	m.mu.Unlock()
	return WorkspaceStats{
		WorkspaceID:     workspaceID,
		OnlineCount:     len(online),
		OnlineUsers:     online,
		TypingUsers:     typing,
		ConnectionCount: count,
	}
}

// UserWorkspaceIDs returns the workspaces in which the user currently holds a
// live connection.
func (m *ChatWebSocketManager) UserWorkspaceIDs(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.userWorkspaces[userID]))
	for id := range m.userWorkspaces[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HandleClientMessage dispatches one inbound frame from a connected client.
// Unknown frame types are dropped silently.
func (m *ChatWebSocketManager) HandleClientMessage(workspaceID, userID string, raw []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		m.logger.Warn("unparseable client frame", "workspace_id", workspaceID, "user_id", userID, "error", err)
		return
	}

	switch frame.Type {
	case ClientTyping:
		var data TypingData
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				return
			}
		}
		m.BroadcastTyping(workspaceID, userID, data.IsTyping)

	case ClientPing:
		now := m.now()
		m.mu.Lock()
		for _, p := range m.connections[workspaceID] {
			if p.UserID == userID {
				p.lastActivity = now
				break
			}
		}
		m.mu.Unlock()
		m.SendToUser(workspaceID, userID, FramePong, nil)

	case ClientRequestPresence:
		m.SendToUser(workspaceID, userID, FramePresenceInfo, m.Stats(workspaceID))
	}
}

// Heartbeat sends a keepalive frame to every live connection and prunes the
// ones that fail. Run from a ticker goroutine.
func (m *ChatWebSocketManager) Heartbeat() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.fanOut(id, Frame{
			Type:        FrameHeartbeat,
			WorkspaceID: id,
			Timestamp:   m.now(),
		}, "")
	}
}
