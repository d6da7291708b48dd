package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/smartqrhealth/backend/internal/application/services"
)

const maxChatMessageLength = 2000

// PatientAssistant answers questions about a patient's records
type PatientAssistant interface {
	Reply(ctx context.Context, patientID, message string, history []services.ChatMessage) (*services.AssistantReply, error)
}

// AssistantHandler serves the patient assistant chat
type AssistantHandler struct {
	assistant PatientAssistant
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(assistant PatientAssistant) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

type chatRequest struct {
	Message string                 `json:"message"`
	History []services.ChatMessage `json:"history"`
}

// Chat handles POST /api/patients/:id/assistant/chat
func (h *AssistantHandler) Chat(c echo.Context) error {
	patientID := strings.TrimSpace(c.Param("id"))
	if patientID == "" {
		return respondWithError(c, http.StatusBadRequest, "patient ID is required")
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return respondWithError(c, http.StatusBadRequest, "invalid request payload")
	}
	if len(req.Message) > maxChatMessageLength {
		return respondWithError(c, http.StatusBadRequest, "message is too long")
	}

	reply, err := h.assistant.Reply(c.Request().Context(), patientID, req.Message, req.History)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, reply)
}
