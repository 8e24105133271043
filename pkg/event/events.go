package event

import "github.com/turboalan/collab/pkg/models"

// Event names
const (
	WorkspaceMessage  = "workspace.message"
	WorkspaceDocument = "workspace.documentUpdated"
	WorkspaceDeleted  = "workspace.deleted"
)

// MessageAddedEvent is emitted after a message lands in a workspace thread.
type MessageAddedEvent struct {
	WorkspaceID string
	Message     *models.ChatMessage
}

func (e MessageAddedEvent) EventName() string { return WorkspaceMessage }

// DocumentUpdatedEvent is emitted when a workspace document is added, made
// active, or receives refinement progress.
type DocumentUpdatedEvent struct {
	WorkspaceID string
	DocumentID  string
	Kind        string // models.DocumentAdded, DocumentActiveChanged, DocumentProcessingUpdate
	Data        map[string]any
}

func (e DocumentUpdatedEvent) EventName() string { return WorkspaceDocument }

// WorkspaceDeletedEvent is emitted when a workspace is removed by its owner.
type WorkspaceDeletedEvent struct {
	WorkspaceID string
	DeletedBy   string
}

func (e WorkspaceDeletedEvent) EventName() string { return WorkspaceDeleted }
