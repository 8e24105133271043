package models

// WorkspaceSnapshot is the storage representation of a workspace: a plain
// value tree that serializes to JSON for the durable mirror.
type WorkspaceSnapshot struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	OwnerID          string             `json:"owner_id"`
	Participants     []string           `json:"participants"`
	Messages         []ChatMessage      `json:"messages"`
	Documents        []DocumentSnapshot `json:"documents"`
	ActiveDocumentID string             `json:"active_document_id,omitempty"`
	CreatedAt        float64            `json:"created_at"`
	UpdatedAt        float64            `json:"updated_at"`
	MaxMessages      int                `json:"max_messages"`
	Metadata         map[string]any     `json:"metadata,omitempty"`
}

// DocumentSnapshot is the stored form of a DocumentContext. The refined
// content is kept as a truncated preview, not the full text.
type DocumentSnapshot struct {
	FileID         string         `json:"file_id"`
	JobID          string         `json:"job_id,omitempty"`
	Filename       string         `json:"filename"`
	FileType       string         `json:"file_type"`
	CurrentPass    int            `json:"current_pass"`
	RefinedContent string         `json:"refined_content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Snapshot captures the full workspace state for persistence.
func (w *Workspace) Snapshot() *WorkspaceSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	participants := make([]string, 0, len(w.participants))
	for id := range w.participants {
		participants = append(participants, id)
	}

	messages := make([]ChatMessage, 0, len(w.messages))
	for _, m := range w.messages {
		messages = append(messages, *m)
	}

	documents := make([]DocumentSnapshot, 0, len(w.docOrder))
	for _, id := range w.docOrder {
		doc, ok := w.documents[id]
		if !ok {
			continue
		}
		documents = append(documents, DocumentSnapshot{
			FileID:         doc.FileID,
			JobID:          doc.JobID,
			Filename:       doc.Filename,
			FileType:       doc.FileType,
			CurrentPass:    doc.CurrentPass,
			RefinedContent: doc.RefinedPreview(),
			Metadata:       doc.Metadata,
		})
	}

	return &WorkspaceSnapshot{
		ID:               w.id,
		Name:             w.name,
		OwnerID:          w.ownerID,
		Participants:     participants,
		Messages:         messages,
		Documents:        documents,
		ActiveDocumentID: w.activeDocID,
		CreatedAt:        w.createdAt,
		UpdatedAt:        w.updatedAt,
		MaxMessages:      w.maxMessages,
		Metadata:         w.metadata,
	}
}

// WorkspaceFromSnapshot rebuilds a workspace from its stored form. The owner
// is re-added to the participant set regardless of the stored list.
func WorkspaceFromSnapshot(s *WorkspaceSnapshot) *Workspace {
	maxMessages := s.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 100
	}

	w := NewWorkspace(s.ID, s.Name, s.OwnerID, maxMessages)
	w.createdAt = s.CreatedAt
	w.updatedAt = s.UpdatedAt
	if s.Metadata != nil {
		w.metadata = s.Metadata
	}

	for _, id := range s.Participants {
		w.participants[id] = struct{}{}
	}

	for i := range s.Messages {
		m := s.Messages[i]
		w.messages = append(w.messages, &m)
	}

	for _, ds := range s.Documents {
		doc := &DocumentContext{
			FileID:         ds.FileID,
			JobID:          ds.JobID,
			Filename:       ds.Filename,
			FileType:       ds.FileType,
			CurrentPass:    ds.CurrentPass,
			RefinedContent: ds.RefinedContent,
			Metadata:       ds.Metadata,
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
		w.documents[ds.FileID] = doc
		w.docOrder = append(w.docOrder, ds.FileID)
	}
	if s.ActiveDocumentID != "" {
		if _, ok := w.documents[s.ActiveDocumentID]; ok {
			w.activeDocID = s.ActiveDocumentID
		}
	}
	return w
}
