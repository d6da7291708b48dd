package providers

import (
	"context"
	"errors"
)

// ErrAIModelUnauthorized indicates the provider rejected the configured credentials.
var ErrAIModelUnauthorized = errors.New("ai model provider unauthorized")

// AIMessageRole is the author of a chat message
type AIMessageRole string

const (
	AIRoleSystem    AIMessageRole = "system"
	AIRoleUser      AIMessageRole = "user"
	AIRoleAssistant AIMessageRole = "assistant"
)

// AIMessage is one turn of a conversation sent to the model
type AIMessage struct {
	Role    AIMessageRole
	Content string
	// ImageDataURL attaches an inline image (data:<mime>;base64,...) to the message.
	ImageDataURL string
}

// AICompletionRequest describes a single chat completion
type AICompletionRequest struct {
	Model       string // empty uses the provider default
	Messages    []AIMessage
	Temperature float32
	MaxTokens   int
	// JSON requests a single JSON object as the response.
	JSON bool
}

// AIModelProvider is the external language model used by the analysis pipeline
type AIModelProvider interface {
	// Complete returns the text of the first choice
	Complete(ctx context.Context, req AICompletionRequest) (string, error)

	// UploadDocument uploads a local file for document understanding and returns its file id
	UploadDocument(ctx context.Context, path string) (string, error)

	// DeleteDocument removes a previously uploaded file
	DeleteDocument(ctx context.Context, fileID string) error
}
