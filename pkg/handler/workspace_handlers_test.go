package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turboalan/collab/pkg/event"
	"github.com/turboalan/collab/pkg/models"
	"github.com/turboalan/collab/pkg/service"
)

type stubResponder struct {
	reply string
	err   error
}

func (s *stubResponder) Reply(ctx context.Context, workspaceID string) (*models.ChatMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.ChatMessage{
		ID:             "stub",
		ConversationID: workspaceID,
		SenderID:       "assistant",
		Role:           models.RoleAssistant,
		Content:        s.reply,
	}, nil
}

func newTestRouter(t *testing.T, responder AssistantResponder) (*gin.Engine, *service.WorkspaceManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := service.NewWorkspaceManager(nil, event.NewEmitter(nil), service.ManagerOptions{})
	chat := service.NewChatWebSocketManager(5 * time.Second)
	h := NewWorkspaceHandler(m, chat, responder)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return r, m
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func createWorkspace(t *testing.T, r *gin.Engine, owner, name string) string {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/api/workspaces?user_id="+owner, map[string]any{"name": name})
	if rec.Code != http.StatusOK {
		t.Fatalf("create workspace status = %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody(t, rec)["id"].(string)
}

func TestCreateWorkspace(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces?user_id=alice", map[string]any{"name": "Doc Review"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["name"] != "Doc Review" || body["owner_id"] != "alice" {
		t.Fatalf("workspace = %v", body)
	}
	// A welcome system message is posted at creation time.
	if body["message_count"].(float64) != 1 {
		t.Fatalf("message_count = %v, want 1", body["message_count"])
	}
}

func TestCreateWorkspace_MissingUserID(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetWorkspace_AccessControl(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodGet, "/api/workspaces/"+id+"?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner get status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/api/workspaces/"+id+"?user_id=mallory", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider get status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/api/workspaces/nope?user_id=alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d, want 404", rec.Code)
	}
}

func TestMessagesFlow(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/messages?user_id=alice", map[string]any{"content": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["content"] != "hello" {
		t.Fatalf("message body = %s", rec.Body.String())
	}

	// Whitespace-only content fails validation.
	rec = doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/messages?user_id=alice", map[string]any{"content": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank message status = %d, want 400", rec.Code)
	}

	// Non-participants cannot post.
	rec = doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/messages?user_id=mallory", map[string]any{"content": "hi"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider send status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/workspaces/"+id+"/messages?user_id=alice&limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get messages status = %d", rec.Code)
	}
	var msgs []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0]["content"] != "hello" {
		t.Fatalf("limited messages = %v", msgs)
	}
}

func TestDeleteWorkspace(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodDelete, "/api/workspaces/"+id+"?user_id=bob", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/workspaces/"+id+"?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/api/workspaces/"+id+"?user_id=alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestParticipantsFlow(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/participants?added_by=alice", map[string]any{"user_id": "bob"})
	if rec.Code != http.StatusOK || decodeBody(t, rec)["success"] != true {
		t.Fatalf("add participant = %d: %s", rec.Code, rec.Body.String())
	}

	// Adding twice reports success=false without an error status.
	rec = doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/participants?added_by=alice", map[string]any{"user_id": "bob"})
	if rec.Code != http.StatusOK || decodeBody(t, rec)["success"] != false {
		t.Fatalf("duplicate add = %d: %s", rec.Code, rec.Body.String())
	}

	// An outsider cannot invite.
	rec = doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/participants?added_by=mallory", map[string]any{"user_id": "eve"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider invite status = %d, want 403", rec.Code)
	}

	// A peer cannot remove another peer.
	rec = doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/participants?added_by=bob", map[string]any{"user_id": "carol"})
	if rec.Code != http.StatusOK {
		t.Fatalf("bob invite status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/workspaces/"+id+"/participants/carol?removed_by=bob", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("peer removal status = %d, want 403", rec.Code)
	}

	// Self-removal is allowed; removing the owner is not.
	rec = doJSON(t, r, http.MethodDelete, "/api/workspaces/"+id+"/participants/carol?removed_by=carol", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("self removal status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/workspaces/"+id+"/participants/alice?removed_by=alice", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("owner removal status = %d, want 403", rec.Code)
	}
}

func TestChat(t *testing.T) {
	r, _ := newTestRouter(t, &stubResponder{reply: "Here are my suggestions."})
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/chat?user_id=alice", map[string]any{"message": "review this"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["reply"] != "Here are my suggestions." {
		t.Fatalf("chat body = %v", body)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/chat?user_id=mallory", map[string]any{"message": "hi"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider chat status = %d, want 403", rec.Code)
	}

	long := strings.Repeat("a", maxChatMessageLen+1)
	rec = doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/chat?user_id=alice", map[string]any{"message": long})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized chat status = %d, want 400", rec.Code)
	}
}

func TestChat_NoModelConfigured(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/chat?user_id=alice", map[string]any{"message": "hi"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("chat without model status = %d, want 500", rec.Code)
	}
}

func TestDocumentsFlow(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/documents?user_id=alice", map[string]any{
		"file_id": "f1", "filename": "draft.docx", "file_type": "docx", "job_id": "job1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add document status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/api/workspaces/"+id+"/documents?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get documents status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["active_document_id"] != "f1" {
		t.Fatalf("active document = %v, want f1 (first added becomes active)", body["active_document_id"])
	}

	rec = doJSON(t, r, http.MethodPut, "/api/workspaces/"+id+"/documents/ghost/active?user_id=alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("set unknown active status = %d, want 404", rec.Code)
	}
}

func TestClearMessages(t *testing.T) {
	r, m := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	for i := 0; i < 3; i++ {
		doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/messages?user_id=alice", map[string]any{"content": fmt.Sprintf("m%d", i)})
	}

	rec := doJSON(t, r, http.MethodPost, "/api/workspaces/"+id+"/clear?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}

	// Only the welcome system message survives.
	w, _ := m.GetWorkspace(context.Background(), id)
	if w.MessageCount() != 1 {
		t.Fatalf("messages after clear = %d, want 1", w.MessageCount())
	}
}

func TestGetPresence(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	id := createWorkspace(t, r, "alice", "Room")

	rec := doJSON(t, r, http.MethodGet, "/api/workspaces/"+id+"/presence?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("presence status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["online_count"].(float64) != 0 {
		t.Fatalf("online_count = %v, want 0", body["online_count"])
	}
}
