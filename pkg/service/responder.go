package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/turboalan/collab/pkg/models"
	"github.com/turboalan/collab/pkg/utils"
)

// responderSystemPrompt frames every assistant reply in the collaborative
// refinement setting.
const responderSystemPrompt = `You are a collaborative AI assistant helping users refine and improve their documents.

Your capabilities:
- Analyze document content and provide suggestions
- Answer questions about text refinement, formatting, and style
- Help multiple users collaborate on document improvements
- Provide specific, actionable feedback

Guidelines:
- Be conversational and helpful
- Reference specific parts of documents when relevant
- Support team collaboration by acknowledging different perspectives
- Keep responses focused but comprehensive
- When asked to make changes, explain what you're doing and why

You have access to the workspace context including any uploaded documents and the conversation history.`

const fallbackReply = "I encountered an error processing your request. Please try again."

// chatModel is the slice of the eino model interface the responder needs.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error)
}

// ResponderConfig configures the OpenAI-compatible backend.
type ResponderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Responder turns a workspace conversation into an assistant reply and
// records the reply back into the workspace.
type Responder struct {
	manager *WorkspaceManager
	model   chatModel
	logger  *slog.Logger
}

// NewResponder builds a responder backed by an OpenAI-compatible chat model.
func NewResponder(ctx context.Context, manager *WorkspaceManager, cfg ResponderConfig) (*Responder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key is not configured")
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &Responder{manager: manager, model: cm, logger: utils.GetLogger()}, nil
}

// Reply generates an assistant message for the workspace's current
// conversation and injects it into the thread. Generation failure degrades to
// a recorded fallback message rather than an error: the chat endpoint always
// produces a visible reply.
func (r *Responder) Reply(ctx context.Context, workspaceID string) (*models.ChatMessage, error) {
	history := []*schema.Message{schema.SystemMessage(responderSystemPrompt)}
	history = append(history, r.manager.ConversationContext(ctx, workspaceID, 0)...)

	response, err := r.model.Generate(ctx, history)
	if err != nil {
		r.logger.Error("assistant generation failed", "workspace_id", workspaceID, "error", err)
		return r.manager.InjectMessage(ctx, workspaceID, models.SystemSender, models.RoleAssistant, fallbackReply, nil)
	}

	content := response.Content
	if content == "" {
		content = "I apologize, I couldn't generate a response."
	}
	return r.manager.InjectMessage(ctx, workspaceID, "assistant", models.RoleAssistant, content, nil)
}
