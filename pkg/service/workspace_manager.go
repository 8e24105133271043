package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/turboalan/collab/pkg/event"
	"github.com/turboalan/collab/pkg/models"
	"github.com/turboalan/collab/pkg/utils"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrForbidden         = errors.New("operation not permitted")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrNotParticipant    = errors.New("user is not a participant")
)

// lazyLoadLimit bounds how many workspaces one user listing pulls from the
// store in a single pass.
const lazyLoadLimit = 50

// SnapshotStore is the durable mirror behind the in-memory registry. A nil
// store leaves the manager fully functional but memory-only.
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.WorkspaceSnapshot) error
	Load(ctx context.Context, id string) (*models.WorkspaceSnapshot, error)
	LoadByParticipant(ctx context.Context, userID string, limit int) ([]*models.WorkspaceSnapshot, error)
}

// ManagerOptions carries the tunable limits of a WorkspaceManager.
type ManagerOptions struct {
	MaxMessages          int // per-workspace conversation bound
	MaxWorkspacesPerUser int
	MaxTotalWorkspaces   int
	ContextMessages      int // default window for LLM context
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.MaxMessages <= 0 {
		o.MaxMessages = 100
	}
	if o.MaxWorkspacesPerUser <= 0 {
		o.MaxWorkspacesPerUser = 50
	}
	if o.MaxTotalWorkspaces <= 0 {
		o.MaxTotalWorkspaces = 5000
	}
	if o.ContextMessages <= 0 {
		o.ContextMessages = 15
	}
	return o
}

// WorkspaceManager is the registry of all live workspaces. Reads go to
// memory; absent workspaces are loaded through from the store on demand, and
// every mutation is mirrored back best-effort.
type WorkspaceManager struct {
	mu sync.RWMutex
	// workspaceID -> workspace
	workspaces map[string]*models.Workspace
	// userID -> workspaceIDs the user participates in (reverse index)
	userWorkspaces map[string]map[string]struct{}

	store  SnapshotStore
	events *event.Emitter
	opts   ManagerOptions
	logger *slog.Logger

	persistFailures atomic.Int64
}

func NewWorkspaceManager(store SnapshotStore, events *event.Emitter, opts ManagerOptions) *WorkspaceManager {
	return &WorkspaceManager{
		workspaces:     make(map[string]*models.Workspace),
		userWorkspaces: make(map[string]map[string]struct{}),
		store:          store,
		events:         events,
		opts:           opts.withDefaults(),
		logger:         utils.GetLogger(),
	}
}

// Events exposes the manager's emitter for wiring real-time listeners.
func (m *WorkspaceManager) Events() *event.Emitter { return m.events }

// PersistFailures reports how many best-effort store writes have failed since
// startup. Exposed for health reporting.
func (m *WorkspaceManager) PersistFailures() int64 { return m.persistFailures.Load() }

// CreateWorkspace creates and registers a workspace. A blank name gets a
// timestamped default. Creating may evict the owner's oldest workspaces when
// the per-user limit is exceeded.
func (m *WorkspaceManager) CreateWorkspace(ctx context.Context, ownerID, name, workspaceID string) *models.Workspace {
	if workspaceID == "" {
		workspaceID = uuid.New().String()
	}
	if name == "" {
		name = "Workspace " + time.Now().Format("2006-01-02 15:04")
	}

	w := models.NewWorkspace(workspaceID, name, ownerID, m.opts.MaxMessages)

	m.mu.Lock()
	m.workspaces[workspaceID] = w
	m.indexLocked(ownerID, workspaceID)
	m.cleanupLocked(ownerID)
	m.mu.Unlock()

	m.logger.Info("workspace created", "workspace_id", workspaceID, "owner_id", ownerID)
	m.persist(ctx, w)
	return w
}

// GetWorkspace returns the workspace, loading it through from the store when
// absent from memory. Store failures are treated as not-found.
func (m *WorkspaceManager) GetWorkspace(ctx context.Context, workspaceID string) (*models.Workspace, bool) {
	m.mu.RLock()
	w, ok := m.workspaces[workspaceID]
	m.mu.RUnlock()
	if ok {
		return w, true
	}
	return m.loadThrough(ctx, workspaceID)
}

// GetOrCreateWorkspace returns the existing workspace or creates one under
// the given id.
func (m *WorkspaceManager) GetOrCreateWorkspace(ctx context.Context, workspaceID, ownerID, name string) *models.Workspace {
	if w, ok := m.GetWorkspace(ctx, workspaceID); ok {
		return w
	}
	return m.CreateWorkspace(ctx, ownerID, name, workspaceID)
}

// loadThrough fetches a snapshot from the store and registers the rebuilt
// workspace. Another goroutine may have loaded it concurrently; the first
// registration wins.
func (m *WorkspaceManager) loadThrough(ctx context.Context, workspaceID string) (*models.Workspace, bool) {
	if m.store == nil {
		return nil, false
	}
	snap, err := m.store.Load(ctx, workspaceID)
	if err != nil {
		return nil, false
	}
	w := models.WorkspaceFromSnapshot(snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.workspaces[workspaceID]; ok {
		return existing, true
	}
	m.registerLocked(w)
	return w, true
}

// registerLocked places a workspace in the registry and indexes all of its
// participants. Caller holds the write lock.
func (m *WorkspaceManager) registerLocked(w *models.Workspace) {
	m.workspaces[w.ID()] = w
	for _, userID := range w.Participants() {
		m.indexLocked(userID, w.ID())
	}
}

func (m *WorkspaceManager) indexLocked(userID, workspaceID string) {
	if m.userWorkspaces[userID] == nil {
		m.userWorkspaces[userID] = make(map[string]struct{})
	}
	m.userWorkspaces[userID][workspaceID] = struct{}{}
}

func (m *WorkspaceManager) unindexLocked(userID, workspaceID string) {
	if set := m.userWorkspaces[userID]; set != nil {
		delete(set, workspaceID)
		if len(set) == 0 {
			delete(m.userWorkspaces, userID)
		}
	}
}

// UserWorkspaces returns every workspace the user participates in, newest
// updated first. When the user has nothing in memory the store is consulted
// once. The reverse index is repaired on the way: memberships granted through
// another user's session are picked up and indexed here.
func (m *WorkspaceManager) UserWorkspaces(ctx context.Context, userID string) []*models.Workspace {
	m.mu.RLock()
	empty := len(m.userWorkspaces[userID]) == 0
	m.mu.RUnlock()

	if empty && m.store != nil {
		snaps, err := m.store.LoadByParticipant(ctx, userID, lazyLoadLimit)
		if err != nil {
			m.logger.Warn("store listing failed", "user_id", userID, "error", err)
		} else if len(snaps) > 0 {
			m.mu.Lock()
			for _, snap := range snaps {
				if _, ok := m.workspaces[snap.ID]; ok {
					continue
				}
				m.registerLocked(models.WorkspaceFromSnapshot(snap))
			}
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	seen := make(map[string]struct{})
	var out []*models.Workspace
	for id := range m.userWorkspaces[userID] {
		w, ok := m.workspaces[id]
		if !ok || !w.IsParticipant(userID) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, w)
	}
	// Repair scan over the whole registry.
	for id, w := range m.workspaces {
		if _, dup := seen[id]; dup {
			continue
		}
		if w.IsParticipant(userID) {
			m.indexLocked(userID, id)
			out = append(out, w)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt() > out[j].UpdatedAt() })
	return out
}

// DeleteWorkspace removes a workspace from the registry. Only the owner may
// delete. The stored mirror is left in place, so a deleted workspace can be
// resurrected by a later load-through.
func (m *WorkspaceManager) DeleteWorkspace(ctx context.Context, workspaceID, requestedBy string) error {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return ErrWorkspaceNotFound
	}
	if w.OwnerID() != requestedBy {
		return ErrForbidden
	}

	m.mu.Lock()
	m.deleteLocked(w)
	m.mu.Unlock()

	m.logger.Info("workspace deleted", "workspace_id", workspaceID, "deleted_by", requestedBy)
	if m.events != nil {
		m.events.Emit(event.WorkspaceDeletedEvent{WorkspaceID: workspaceID, DeletedBy: requestedBy})
	}
	return nil
}

func (m *WorkspaceManager) deleteLocked(w *models.Workspace) {
	for _, userID := range w.Participants() {
		m.unindexLocked(userID, w.ID())
	}
	delete(m.workspaces, w.ID())
}

// AddParticipant lets any existing participant invite another user.
func (m *WorkspaceManager) AddParticipant(ctx context.Context, workspaceID, requestedBy, userID string) error {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return ErrWorkspaceNotFound
	}
	if !w.IsParticipant(requestedBy) {
		return ErrForbidden
	}
	if !w.AddParticipant(userID) {
		return fmt.Errorf("user %s is already a participant", userID)
	}

	m.mu.Lock()
	m.indexLocked(userID, workspaceID)
	m.mu.Unlock()

	m.persist(ctx, w)
	return nil
}

// RemoveParticipant removes a user. The owner may remove anyone; any user may
// remove themself. The owner can never be removed.
func (m *WorkspaceManager) RemoveParticipant(ctx context.Context, workspaceID, requestedBy, userID string) error {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return ErrWorkspaceNotFound
	}
	if requestedBy != w.OwnerID() && requestedBy != userID {
		return ErrForbidden
	}
	if userID == w.OwnerID() {
		return ErrForbidden
	}
	if !w.RemoveParticipant(userID) {
		return ErrNotParticipant
	}

	m.mu.Lock()
	m.unindexLocked(userID, workspaceID)
	m.mu.Unlock()

	m.persist(ctx, w)
	return nil
}

// AddMessage appends a message on behalf of a user. The sender must be a
// participant, except for the trusted identities: the system sender and
// assistant-role messages pass without membership.
func (m *WorkspaceManager) AddMessage(ctx context.Context, workspaceID, senderID, role, content string, metadata map[string]any) (*models.ChatMessage, error) {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	if senderID != models.SystemSender && role != models.RoleAssistant && !w.IsParticipant(senderID) {
		return nil, ErrForbidden
	}
	return m.appendMessage(ctx, w, senderID, role, content, metadata)
}

// InjectMessage appends a message without a membership check. For
// server-originated content only (welcome notes, assistant replies,
// refinement updates); never expose to client input.
func (m *WorkspaceManager) InjectMessage(ctx context.Context, workspaceID, senderID, role, content string, metadata map[string]any) (*models.ChatMessage, error) {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	return m.appendMessage(ctx, w, senderID, role, content, metadata)
}

func (m *WorkspaceManager) appendMessage(ctx context.Context, w *models.Workspace, senderID, role, content string, metadata map[string]any) (*models.ChatMessage, error) {
	msg, err := w.AddMessage(senderID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	if m.events != nil {
		m.events.Emit(event.MessageAddedEvent{WorkspaceID: w.ID(), Message: msg})
	}
	m.persist(ctx, w)
	return msg, nil
}

// ClearMessages drops the non-system conversation history.
func (m *WorkspaceManager) ClearMessages(ctx context.Context, workspaceID, requestedBy string) error {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return ErrWorkspaceNotFound
	}
	if !w.IsParticipant(requestedBy) {
		return ErrForbidden
	}
	w.ClearMessages()
	m.persist(ctx, w)
	return nil
}

// AddDocument attaches a document on behalf of a participant.
func (m *WorkspaceManager) AddDocument(ctx context.Context, workspaceID, requestedBy, fileID, filename, fileType, jobID string) (*models.DocumentContext, error) {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	if !w.IsParticipant(requestedBy) {
		return nil, ErrForbidden
	}
	doc := w.AddDocument(fileID, filename, fileType, jobID)
	if m.events != nil {
		m.events.Emit(event.DocumentUpdatedEvent{
			WorkspaceID: workspaceID,
			DocumentID:  fileID,
			Kind:        models.DocumentAdded,
			Data: map[string]any{
				"filename":  filename,
				"file_type": fileType,
				"added_by":  requestedBy,
			},
		})
	}
	m.persist(ctx, w)
	return doc, nil
}

// SetActiveDocument switches the workspace's active document.
func (m *WorkspaceManager) SetActiveDocument(ctx context.Context, workspaceID, requestedBy, fileID string) error {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return ErrWorkspaceNotFound
	}
	if !w.IsParticipant(requestedBy) {
		return ErrForbidden
	}
	if !w.SetActiveDocument(fileID) {
		return ErrDocumentNotFound
	}
	if m.events != nil {
		m.events.Emit(event.DocumentUpdatedEvent{
			WorkspaceID: workspaceID,
			DocumentID:  fileID,
			Kind:        models.DocumentActiveChanged,
			Data:        map[string]any{"set_by": requestedBy},
		})
	}
	m.persist(ctx, w)
	return nil
}

// UpdateDocumentProgress records refinement progress from the processing
// pipeline. Trusted path, no membership check.
func (m *WorkspaceManager) UpdateDocumentProgress(ctx context.Context, workspaceID, fileID string, currentPass int, refinedContent string) error {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return ErrWorkspaceNotFound
	}
	if !w.UpdateDocumentProgress(fileID, currentPass, refinedContent) {
		return ErrDocumentNotFound
	}
	if m.events != nil {
		m.events.Emit(event.DocumentUpdatedEvent{
			WorkspaceID: workspaceID,
			DocumentID:  fileID,
			Kind:        models.DocumentProcessingUpdate,
			Data:        map[string]any{"current_pass": currentPass},
		})
	}
	m.persist(ctx, w)
	return nil
}

// ConversationContext builds the message window for an assistant reply: a
// synthetic system entry describing the documents (when any exist) followed
// by the most recent messages.
func (m *WorkspaceManager) ConversationContext(ctx context.Context, workspaceID string, numMessages int) []*schema.Message {
	w, ok := m.GetWorkspace(ctx, workspaceID)
	if !ok {
		return nil
	}
	if numMessages <= 0 {
		numMessages = m.opts.ContextMessages
	}

	var out []*schema.Message
	if w.DocumentCount() > 0 {
		out = append(out, schema.SystemMessage("Current workspace context:\n"+w.DocumentSummary()))
	}
	for _, msg := range w.Messages(numMessages) {
		switch msg.Role {
		case models.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		case models.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}

// WorkspaceCount reports the number of workspaces currently registered.
func (m *WorkspaceManager) WorkspaceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workspaces)
}

// cleanupLocked enforces the registry bounds. Per-user overflow evicts the
// user's oldest OWNED workspaces down to five below the limit; workspaces the
// user merely participates in are never touched. Global overflow strips the
// oldest workspaces outright, owner or not, down to one hundred below the
// limit. Caller holds the write lock.
func (m *WorkspaceManager) cleanupLocked(userID string) {
	if len(m.userWorkspaces[userID]) > m.opts.MaxWorkspacesPerUser {
		var candidates []*models.Workspace
		for id := range m.userWorkspaces[userID] {
			if w, ok := m.workspaces[id]; ok {
				candidates = append(candidates, w)
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].UpdatedAt() < candidates[j].UpdatedAt() })

		removeCount := len(candidates) - m.opts.MaxWorkspacesPerUser + 5
		for _, w := range candidates {
			if removeCount <= 0 {
				break
			}
			removeCount--
			if w.OwnerID() != userID {
				continue
			}
			m.deleteLocked(w)
			m.logger.Info("evicted workspace over per-user limit", "workspace_id", w.ID(), "owner_id", userID)
		}
	}

	if len(m.workspaces) > m.opts.MaxTotalWorkspaces {
		all := make([]*models.Workspace, 0, len(m.workspaces))
		for _, w := range m.workspaces {
			all = append(all, w)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt() < all[j].UpdatedAt() })

		removeCount := len(all) - m.opts.MaxTotalWorkspaces + 100
		for i := 0; i < removeCount && i < len(all); i++ {
			m.deleteLocked(all[i])
		}
		m.logger.Warn("global workspace limit reached", "removed", removeCount)
	}
}

// persist mirrors the workspace to the store best-effort. A failed write
// never fails the operation; it is logged and counted.
func (m *WorkspaceManager) persist(ctx context.Context, w *models.Workspace) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, w.Snapshot()); err != nil {
		m.persistFailures.Add(1)
		m.logger.Warn("workspace save failed", "workspace_id", w.ID(), "error", err)
	}
}
