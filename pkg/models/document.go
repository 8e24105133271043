package models

// Document update kinds broadcast to workspace participants.
const (
	DocumentAdded            = "added"
	DocumentActiveChanged    = "active_changed"
	DocumentProcessingUpdate = "processing_update"
)

// refinedPreviewLimit bounds the refined-content preview kept in snapshots.
const refinedPreviewLimit = 500

// DocumentContext tracks a document attached to a workspace. CurrentPass and
// RefinedContent are updated in place as the refinement pipeline progresses.
type DocumentContext struct {
	FileID         string         `json:"file_id"`
	JobID          string         `json:"job_id,omitempty"`
	Filename       string         `json:"filename"`
	FileType       string         `json:"file_type"`
	CurrentPass    int            `json:"current_pass"`
	RefinedContent string         `json:"refined_content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RefinedPreview returns the refined content truncated for storage.
func (d *DocumentContext) RefinedPreview() string {
	runes := []rune(d.RefinedContent)
	if len(runes) > refinedPreviewLimit {
		return string(runes[:refinedPreviewLimit])
	}
	return d.RefinedContent
}
