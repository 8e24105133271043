package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turboalan/collab/pkg/models"
	"github.com/turboalan/collab/pkg/service"
)

// AssistantResponder produces an assistant reply for a workspace's current
// conversation. *service.Responder satisfies it.
type AssistantResponder interface {
	Reply(ctx context.Context, workspaceID string) (*models.ChatMessage, error)
}

const welcomeMessage = "Welcome to this collaborative workspace! I'm your AI assistant. " +
	"I can help you refine documents, answer questions, and collaborate with your team. " +
	"Upload a document or ask me anything to get started."

// maxChatMessageLen bounds a single chat request.
const maxChatMessageLen = 10000

// WorkspaceHandler handles workspace API requests
type WorkspaceHandler struct {
	manager   *service.WorkspaceManager
	chat      *service.ChatWebSocketManager
	responder AssistantResponder // nil when no model is configured
}

// NewWorkspaceHandler creates a new WorkspaceHandler
func NewWorkspaceHandler(manager *service.WorkspaceManager, chat *service.ChatWebSocketManager, responder AssistantResponder) *WorkspaceHandler {
	return &WorkspaceHandler{manager: manager, chat: chat, responder: responder}
}

// RegisterRoutes registers workspace routes
func (h *WorkspaceHandler) RegisterRoutes(r *gin.RouterGroup) {
	workspaces := r.Group("/workspaces")
	{
		workspaces.POST("", h.Create)
		workspaces.GET("", h.List)
		workspaces.GET("/:id", h.Get)
		workspaces.DELETE("/:id", h.Delete)

		// Participants
		workspaces.POST("/:id/participants", h.AddParticipant)
		workspaces.DELETE("/:id/participants/:userId", h.RemoveParticipant)

		// Messages & chat
		workspaces.GET("/:id/messages", h.GetMessages)
		workspaces.POST("/:id/messages", h.SendMessage)
		workspaces.POST("/:id/chat", h.Chat)
		workspaces.POST("/:id/clear", h.ClearMessages)

		// Documents
		workspaces.POST("/:id/documents", h.AddDocument)
		workspaces.GET("/:id/documents", h.GetDocuments)
		workspaces.PUT("/:id/documents/:fileId/active", h.SetActiveDocument)

		// Presence & real-time
		workspaces.GET("/:id/presence", h.GetPresence)
		workspaces.GET("/:id/ws", h.WebSocket)
	}
}

type createWorkspaceRequest struct {
	Name        string `json:"name"`
	WorkspaceID string `json:"workspace_id"`
}

type addParticipantRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type sendMessageRequest struct {
	Content  string         `json:"content" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type addDocumentRequest struct {
	FileID   string `json:"file_id" binding:"required"`
	Filename string `json:"filename" binding:"required"`
	FileType string `json:"file_type" binding:"required"`
	JobID    string `json:"job_id"`
}

type workspaceResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	OwnerID          string   `json:"owner_id"`
	Participants     []string `json:"participants"`
	MessageCount     int      `json:"message_count"`
	DocumentCount    int      `json:"document_count"`
	ActiveDocumentID string   `json:"active_document_id,omitempty"`
	CreatedAt        float64  `json:"created_at"`
	UpdatedAt        float64  `json:"updated_at"`
}

func toWorkspaceResponse(w *models.Workspace) workspaceResponse {
	return workspaceResponse{
		ID:               w.ID(),
		Name:             w.Name(),
		OwnerID:          w.OwnerID(),
		Participants:     w.Participants(),
		MessageCount:     w.MessageCount(),
		DocumentCount:    w.DocumentCount(),
		ActiveDocumentID: w.ActiveDocumentID(),
		CreatedAt:        w.CreatedAt(),
		UpdatedAt:        w.UpdatedAt(),
	}
}

// userID pulls the caller identity from the query string. Empty means the
// request is rejected before any workspace access.
func userID(c *gin.Context, param string) (string, bool) {
	id := c.Query(param)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": param + " query parameter is required"})
		return "", false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrWorkspaceNotFound), errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrEmptyContent), errors.Is(err, service.ErrNotParticipant):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Create creates a new workspace owned by the caller
// @Summary Create workspace
// @Tags workspaces
// @Accept json
// @Produce json
// @Param user_id query string true "User ID creating the workspace"
// @Success 200 {object} workspaceResponse
// @Router /workspaces [post]
func (h *WorkspaceHandler) Create(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	// The body is optional; both name and workspace_id may be omitted.
	var req createWorkspaceRequest
	_ = c.ShouldBindJSON(&req)

	w := h.manager.CreateWorkspace(c.Request.Context(), uid, req.Name, req.WorkspaceID)

	if _, err := h.manager.InjectMessage(c.Request.Context(), w.ID(), models.SystemSender, models.RoleSystem, welcomeMessage, nil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toWorkspaceResponse(w))
}

// List lists all workspaces the caller participates in, newest first
// @Summary List workspaces
// @Tags workspaces
// @Produce json
// @Param user_id query string true "User ID to list workspaces for"
// @Success 200 {array} workspaceResponse
// @Router /workspaces [get]
func (h *WorkspaceHandler) List(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	workspaces := h.manager.UserWorkspaces(c.Request.Context(), uid)
	out := make([]workspaceResponse, 0, len(workspaces))
	for _, w := range workspaces {
		out = append(out, toWorkspaceResponse(w))
	}
	c.JSON(http.StatusOK, out)
}

// Get returns workspace details to a participant
func (h *WorkspaceHandler) Get(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	w, found := h.manager.GetWorkspace(c.Request.Context(), c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if !w.IsParticipant(uid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized to access this workspace"})
		return
	}
	c.JSON(http.StatusOK, toWorkspaceResponse(w))
}

// Delete removes a workspace (owner only)
func (h *WorkspaceHandler) Delete(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	if err := h.manager.DeleteWorkspace(c.Request.Context(), c.Param("id"), uid); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Workspace deleted"})
}

// AddParticipant invites a user; any participant may invite
func (h *WorkspaceHandler) AddParticipant(c *gin.Context) {
	uid, ok := userID(c, "added_by")
	if !ok {
		return
	}
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workspaceID := c.Param("id")
	if err := h.manager.AddParticipant(c.Request.Context(), workspaceID, uid, req.UserID); err != nil {
		if errors.Is(err, service.ErrWorkspaceNotFound) || errors.Is(err, service.ErrForbidden) {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		// Already a participant: report without failing.
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}

	h.chat.BroadcastPresence(workspaceID, req.UserID, "added")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User " + req.UserID + " added to workspace"})
}

// RemoveParticipant removes a user. The owner may remove anyone, a user may
// remove themself, and the owner can never be removed.
func (h *WorkspaceHandler) RemoveParticipant(c *gin.Context) {
	uid, ok := userID(c, "removed_by")
	if !ok {
		return
	}
	workspaceID := c.Param("id")
	target := c.Param("userId")

	if err := h.manager.RemoveParticipant(c.Request.Context(), workspaceID, uid, target); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	h.chat.BroadcastPresence(workspaceID, target, "removed")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User " + target + " removed from workspace"})
}

// GetMessages returns the conversation, optionally limited to the last n
func (h *WorkspaceHandler) GetMessages(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	w, found := h.manager.GetWorkspace(c.Request.Context(), c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if !w.IsParticipant(uid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized to access this workspace"})
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, w.Messages(limit))
}

// SendMessage appends a user message to the conversation
// @Summary Send message
// @Tags workspaces
// @Accept json
// @Produce json
// @Param user_id query string true "User ID sending the message"
// @Success 200 {object} models.ChatMessage
// @Router /workspaces/{id}/messages [post]
func (h *WorkspaceHandler) SendMessage(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.manager.AddMessage(c.Request.Context(), c.Param("id"), uid, models.RoleUser, req.Content, req.Metadata)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Chat appends a user message and produces an assistant reply in one call
func (h *WorkspaceHandler) Chat(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Message) > maxChatMessageLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message too long. Maximum 10,000 characters"})
		return
	}
	if h.responder == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat model is not configured"})
		return
	}

	workspaceID := c.Param("id")
	userMsg, err := h.manager.AddMessage(c.Request.Context(), workspaceID, uid, models.RoleUser, req.Message, nil)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	assistantMsg, err := h.responder.Reply(c.Request.Context(), workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "user_message": userMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"user_message":      userMsg,
		"assistant_message": assistantMsg,
		"reply":             assistantMsg.Content,
	})
}

// ClearMessages drops the non-system conversation history
func (h *WorkspaceHandler) ClearMessages(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	workspaceID := c.Param("id")
	if err := h.manager.ClearMessages(c.Request.Context(), workspaceID, uid); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	h.chat.BroadcastMessage(workspaceID, map[string]any{"type": "messages_cleared", "cleared_by": uid}, "")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Messages cleared"})
}

// AddDocument attaches a document to the workspace context
func (h *WorkspaceHandler) AddDocument(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	var req addDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workspaceID := c.Param("id")
	doc, err := h.manager.AddDocument(c.Request.Context(), workspaceID, uid, req.FileID, req.Filename, req.FileType, req.JobID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if _, err := h.manager.InjectMessage(c.Request.Context(), workspaceID, models.SystemSender, models.RoleSystem, "Document added: "+req.Filename, nil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "document": doc})
}

// GetDocuments lists the workspace's documents
func (h *WorkspaceHandler) GetDocuments(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	w, found := h.manager.GetWorkspace(c.Request.Context(), c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if !w.IsParticipant(uid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents":          w.Documents(),
		"active_document_id": w.ActiveDocumentID(),
	})
}

// SetActiveDocument switches which document the workspace is focused on
func (h *WorkspaceHandler) SetActiveDocument(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	workspaceID := c.Param("id")
	fileID := c.Param("fileId")

	if err := h.manager.SetActiveDocument(c.Request.Context(), workspaceID, uid, fileID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "active_document_id": fileID})
}

// GetPresence reports who is online and typing
func (h *WorkspaceHandler) GetPresence(c *gin.Context) {
	uid, ok := userID(c, "user_id")
	if !ok {
		return
	}
	w, found := h.manager.GetWorkspace(c.Request.Context(), c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if !w.IsParticipant(uid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}
	c.JSON(http.StatusOK, h.chat.Stats(w.ID()))
}
