package service

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	fail   bool
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection reset")
	}
	c.frames = append(c.frames, v.(Frame))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) byType(frameType string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func newTestChatManager() *ChatWebSocketManager {
	return NewChatWebSocketManager(5 * time.Second)
}

func TestConnect_GreetsAndAnnounces(t *testing.T) {
	m := newTestChatManager()

	alice := &fakeConn{}
	m.Connect("ws1", "alice", alice)
	bob := &fakeConn{}
	m.Connect("ws1", "bob", bob)

	if got := alice.byType(FrameConnected); len(got) != 1 {
		t.Fatalf("alice connected frames = %d, want 1", len(got))
	}
	// Alice sees bob's join; bob's own join announcement reaches him too.
	if got := alice.byType(FramePresence); len(got) < 2 {
		t.Fatalf("alice presence frames = %d, want at least 2", len(got))
	}

	online := m.OnlineUsers("ws1")
	if len(online) != 2 || online[0] != "alice" || online[1] != "bob" {
		t.Fatalf("online users = %v", online)
	}
}

func TestBroadcastMessage_ExcludesSender(t *testing.T) {
	m := newTestChatManager()
	alice := &fakeConn{}
	bob := &fakeConn{}
	carol := &fakeConn{}
	m.Connect("ws1", "alice", alice)
	m.Connect("ws1", "bob", bob)
	m.Connect("ws1", "carol", carol)

	m.BroadcastMessage("ws1", map[string]any{"content": "hi"}, "alice")

	if got := alice.byType(FrameMessage); len(got) != 0 {
		t.Fatalf("sender received own broadcast")
	}
	for name, c := range map[string]*fakeConn{"bob": bob, "carol": carol} {
		if got := c.byType(FrameMessage); len(got) != 1 {
			t.Fatalf("%s message frames = %d, want 1", name, len(got))
		}
	}
}

func TestBroadcast_PrunesDeadConnections(t *testing.T) {
	m := newTestChatManager()
	alice := &fakeConn{}
	dead := &fakeConn{fail: true}
	m.Connect("ws1", "alice", alice)

	m.mu.Lock()
	p := &UserPresence{UserID: "bob", WorkspaceID: "ws1", conn: dead}
	m.connections["ws1"] = append(m.connections["ws1"], p)
	m.mu.Unlock()

	m.BroadcastMessage("ws1", map[string]any{"content": "hi"}, "")

	online := m.OnlineUsers("ws1")
	if len(online) != 1 || online[0] != "alice" {
		t.Fatalf("online after prune = %v, want [alice]", online)
	}
	if !dead.closed {
		t.Fatalf("dead connection was not closed")
	}
	// The survivors hear about the departure.
	found := false
	for _, f := range alice.byType(FramePresence) {
		if f.Data.(PresencePayload).Status == "left" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no departure announcement after prune")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	m := newTestChatManager()
	conn := &fakeConn{}
	p := m.Connect("ws1", "alice", conn)

	m.Disconnect(p)
	m.Disconnect(p)

	if n := len(m.OnlineUsers("ws1")); n != 0 {
		t.Fatalf("online users after disconnect = %d", n)
	}
}

func TestTypingExpiry(t *testing.T) {
	m := newTestChatManager()
	var now float64 = 1000
	m.now = func() float64 { return now }

	m.Connect("ws1", "alice", &fakeConn{})
	m.Connect("ws1", "bob", &fakeConn{})
	m.BroadcastTyping("ws1", "alice", true)

	now = 1003
	if got := m.TypingUsers("ws1"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("typing users at +3s = %v, want [alice]", got)
	}
	// The indicator lapses without any explicit stop frame.
	now = 1006
	if got := m.TypingUsers("ws1"); len(got) != 0 {
		t.Fatalf("typing users at +6s = %v, want none", got)
	}
}

func TestBroadcastTyping_ExcludesTypist(t *testing.T) {
	m := newTestChatManager()
	alice := &fakeConn{}
	bob := &fakeConn{}
	m.Connect("ws1", "alice", alice)
	m.Connect("ws1", "bob", bob)

	m.BroadcastTyping("ws1", "alice", true)

	if got := alice.byType(FrameTyping); len(got) != 0 {
		t.Fatalf("typist received own indicator")
	}
	got := bob.byType(FrameTyping)
	if len(got) != 1 {
		t.Fatalf("bob typing frames = %d, want 1", len(got))
	}
	payload := got[0].Data.(TypingPayload)
	if payload.UserID != "alice" || !payload.IsTyping {
		t.Fatalf("typing payload = %+v", payload)
	}
}

func TestHandleClientMessage_Ping(t *testing.T) {
	m := newTestChatManager()
	alice := &fakeConn{}
	bob := &fakeConn{}
	m.Connect("ws1", "alice", alice)
	m.Connect("ws1", "bob", bob)

	m.HandleClientMessage("ws1", "alice", []byte(`{"type":"ping"}`))

	if got := alice.byType(FramePong); len(got) != 1 {
		t.Fatalf("alice pong frames = %d, want 1", len(got))
	}
	if got := bob.byType(FramePong); len(got) != 0 {
		t.Fatalf("pong leaked to another user")
	}
}

func TestHandleClientMessage_Typing(t *testing.T) {
	m := newTestChatManager()
	alice := &fakeConn{}
	bob := &fakeConn{}
	m.Connect("ws1", "alice", alice)
	m.Connect("ws1", "bob", bob)

	m.HandleClientMessage("ws1", "alice", []byte(`{"type":"typing","data":{"is_typing":true}}`))

	if got := bob.byType(FrameTyping); len(got) != 1 {
		t.Fatalf("typing frame did not reach bob")
	}
	if got := m.TypingUsers("ws1"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("typing users = %v, want [alice]", got)
	}
}

func TestHandleClientMessage_RequestPresence(t *testing.T) {
	m := newTestChatManager()
	alice := &fakeConn{}
	m.Connect("ws1", "alice", alice)
	m.Connect("ws1", "bob", &fakeConn{})

	m.HandleClientMessage("ws1", "alice", []byte(`{"type":"request_presence"}`))

	got := alice.byType(FramePresenceInfo)
	if len(got) != 1 {
		t.Fatalf("presence_info frames = %d, want 1", len(got))
	}
	stats := got[0].Data.(WorkspaceStats)
	if stats.OnlineCount != 2 || stats.ConnectionCount != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHandleClientMessage_UnknownTypeIgnored(t *testing.T) {
	m := newTestChatManager()
	alice := &fakeConn{}
	m.Connect("ws1", "alice", alice)

	before := len(alice.frames)
	m.HandleClientMessage("ws1", "alice", []byte(`{"type":"mystery"}`))
	m.HandleClientMessage("ws1", "alice", []byte(`not json`))

	if len(alice.frames) != before {
		t.Fatalf("unknown frame produced output")
	}
}

func TestStats_MultipleConnectionsPerUser(t *testing.T) {
	m := newTestChatManager()
	m.Connect("ws1", "alice", &fakeConn{})
	m.Connect("ws1", "alice", &fakeConn{})
	m.Connect("ws1", "bob", &fakeConn{})

	stats := m.Stats("ws1")
	if stats.OnlineCount != 2 {
		t.Fatalf("online count = %d, want 2 distinct users", stats.OnlineCount)
	}
	if stats.ConnectionCount != 3 {
		t.Fatalf("connection count = %d, want 3", stats.ConnectionCount)
	}
}

func TestSetPublisher_MirrorsBroadcasts(t *testing.T) {
	m := newTestChatManager()
	m.Connect("ws1", "alice", &fakeConn{})

	var published []Frame
	m.SetPublisher(func(workspaceID string, f Frame) {
		if workspaceID == "ws1" {
			published = append(published, f)
		}
	})

	m.BroadcastMessage("ws1", map[string]any{"content": "hi"}, "")
	m.Heartbeat()

	if len(published) != 1 || published[0].Type != FrameMessage {
		t.Fatalf("published frames = %+v, want one message frame", published)
	}
}

func TestFrameEnvelopeShape(t *testing.T) {
	b, err := json.Marshal(Frame{Type: FrameMessage, WorkspaceID: "ws1", Data: map[string]any{"k": "v"}, Timestamp: 12.5})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	for _, key := range []string{"type", "workspace_id", "data", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("frame envelope missing %q: %s", key, b)
		}
	}
}
