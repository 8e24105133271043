package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Workspace is a collaborative document session: a bounded conversation
// thread, the documents being worked on, and the set of participants.
//
// All methods are safe for concurrent use. The in-memory workspace is the
// source of truth while the process is alive; the store keeps a mirror.
type Workspace struct {
	mu sync.RWMutex

	id           string
	name         string
	ownerID      string
	participants map[string]struct{}
	messages     []*ChatMessage
	documents    map[string]*DocumentContext
	docOrder     []string
	activeDocID  string
	createdAt    float64
	updatedAt    float64
	maxMessages  int
	metadata     map[string]any
}

// NewWorkspace creates a workspace owned by ownerID. The owner is always a
// participant and can never be removed.
func NewWorkspace(id, name, ownerID string, maxMessages int) *Workspace {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	now := NowSeconds()
	return &Workspace{
		id:           id,
		name:         name,
		ownerID:      ownerID,
		participants: map[string]struct{}{ownerID: {}},
		documents:    map[string]*DocumentContext{},
		createdAt:    now,
		updatedAt:    now,
		maxMessages:  maxMessages,
		metadata:     map[string]any{},
	}
}

func (w *Workspace) ID() string      { return w.id }
func (w *Workspace) Name() string    { return w.name }
func (w *Workspace) OwnerID() string { return w.ownerID }

func (w *Workspace) CreatedAt() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.createdAt
}

func (w *Workspace) UpdatedAt() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.updatedAt
}

// Participants returns the participant ids in sorted order.
func (w *Workspace) Participants() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.participants))
	for id := range w.participants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddParticipant adds a user. Returns false if already present.
func (w *Workspace) AddParticipant(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.participants[userID]; ok {
		return false
	}
	w.participants[userID] = struct{}{}
	w.updatedAt = NowSeconds()
	return true
}

// RemoveParticipant removes a user. The owner can never be removed.
func (w *Workspace) RemoveParticipant(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if userID == w.ownerID {
		return false
	}
	if _, ok := w.participants[userID]; !ok {
		return false
	}
	delete(w.participants, userID)
	w.updatedAt = NowSeconds()
	return true
}

func (w *Workspace) IsParticipant(userID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.participants[userID]
	return ok
}

// AddMessage appends a message to the conversation and trims the thread to
// the configured bound. System messages survive trimming.
func (w *Workspace) AddMessage(senderID, role, content string, metadata map[string]any) (*ChatMessage, error) {
	msg, err := NewChatMessage(w.id, senderID, role, content, metadata)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	w.updatedAt = NowSeconds()
	w.trimMessagesLocked()
	return msg, nil
}

// trimMessagesLocked keeps every system message plus the most recent
// non-system messages, preserving the original relative order.
func (w *Workspace) trimMessagesLocked() {
	if len(w.messages) <= w.maxMessages {
		return
	}
	var system, other []*ChatMessage
	for _, m := range w.messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}
	keep := w.maxMessages - len(system)
	if keep < 0 {
		keep = 0
	}
	if keep < len(other) {
		other = other[len(other)-keep:]
	}
	w.messages = append(system, other...)
}

// Messages returns the conversation, optionally limited to the last n
// messages. Limit <= 0 returns everything.
func (w *Workspace) Messages(limit int) []*ChatMessage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	msgs := w.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (w *Workspace) MessageCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.messages)
}

// ClearMessages drops every non-system message.
func (w *Workspace) ClearMessages() {
	w.mu.Lock()
	defer w.mu.Unlock()
	var kept []*ChatMessage
	for _, m := range w.messages {
		if m.Role == RoleSystem {
			kept = append(kept, m)
		}
	}
	w.messages = kept
	w.updatedAt = NowSeconds()
}

// AddDocument attaches a document. A duplicate file id overwrites the prior
// entry (last write wins). The first document added becomes active.
func (w *Workspace) AddDocument(fileID, filename, fileType, jobID string) *DocumentContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc := &DocumentContext{
		FileID:   fileID,
		JobID:    jobID,
		Filename: filename,
		FileType: fileType,
		Metadata: map[string]any{},
	}
	if _, exists := w.documents[fileID]; !exists {
		w.docOrder = append(w.docOrder, fileID)
	}
	w.documents[fileID] = doc
	if w.activeDocID == "" {
		w.activeDocID = fileID
	}
	w.updatedAt = NowSeconds()
	out := *doc
	return &out
}

// Document returns a copy of the document with the given file id.
func (w *Workspace) Document(fileID string) (*DocumentContext, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, ok := w.documents[fileID]
	if !ok {
		return nil, false
	}
	out := *doc
	return &out, true
}

// Documents returns copies of all documents in attachment order.
func (w *Workspace) Documents() []*DocumentContext {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*DocumentContext, 0, len(w.docOrder))
	for _, id := range w.docOrder {
		if doc, ok := w.documents[id]; ok {
			c := *doc
			out = append(out, &c)
		}
	}
	return out
}

func (w *Workspace) DocumentCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.documents)
}

// ActiveDocument returns a copy of the active document, if any.
func (w *Workspace) ActiveDocument() (*DocumentContext, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, ok := w.documents[w.activeDocID]
	if !ok {
		return nil, false
	}
	out := *doc
	return &out, true
}

func (w *Workspace) ActiveDocumentID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activeDocID
}

// SetActiveDocument points the active document at a known file id. Unknown
// ids leave the current pointer untouched and return false.
func (w *Workspace) SetActiveDocument(fileID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.documents[fileID]; !ok {
		return false
	}
	w.activeDocID = fileID
	w.updatedAt = NowSeconds()
	return true
}

// UpdateDocumentProgress records refinement progress for a document.
func (w *Workspace) UpdateDocumentProgress(fileID string, currentPass int, refinedContent string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.documents[fileID]
	if !ok {
		return false
	}
	doc.CurrentPass = currentPass
	if refinedContent != "" {
		doc.RefinedContent = refinedContent
	}
	w.updatedAt = NowSeconds()
	return true
}

// DocumentSummary renders a human-readable listing of the documents for use
// in an LLM system prompt. Pure function of current state.
func (w *Workspace) DocumentSummary() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.documents) == 0 {
		return "No documents in workspace."
	}
	var b strings.Builder
	b.WriteString("Documents in workspace:")
	for _, id := range w.docOrder {
		doc, ok := w.documents[id]
		if !ok {
			continue
		}
		active := ""
		if id == w.activeDocID {
			active = " (active)"
		}
		status := "Not processed"
		if doc.JobID != "" {
			status = fmt.Sprintf("Pass %d", doc.CurrentPass)
		}
		fmt.Fprintf(&b, "\n- %s%s: %s, %s", doc.Filename, active, doc.FileType, status)
	}
	return b.String()
}
