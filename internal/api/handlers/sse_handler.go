package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
)

const defaultHeartbeatInterval = 30 * time.Second

// SSEHandler streams AI job events to connected clients
type SSEHandler struct {
	eventBus  providers.EventBus
	heartbeat time.Duration
	clients   map[string]map[chan *entities.AIJobEvent]bool // channel -> clients
	mu        sync.RWMutex
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(eventBus providers.EventBus) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		heartbeat: defaultHeartbeatInterval,
		clients:   make(map[string]map[chan *entities.AIJobEvent]bool),
	}
}

// SetHeartbeatInterval overrides how often idle streams send a heartbeat
func (h *SSEHandler) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		h.heartbeat = d
	}
}

// StreamPatientEvents handles GET /api/patients/:id/ai/events
func (h *SSEHandler) StreamPatientEvents(c echo.Context) error {
	patientID := strings.TrimSpace(c.Param("id"))
	if patientID == "" {
		return respondWithError(c, http.StatusBadRequest, "patient ID is required")
	}

	return h.stream(c, entities.PatientAIJobChannel(patientID), nil, map[string]interface{}{
		"patient_id": patientID,
	})
}

// StreamAllEvents handles GET /api/ai/events?status=FAILED
func (h *SSEHandler) StreamAllEvents(c echo.Context) error {
	var filter func(*entities.AIJobEvent) bool
	if status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))); status != "" {
		switch entities.AIGenStatus(status) {
		case entities.AIGenStatusSuccess, entities.AIGenStatusFailed:
		default:
			return respondWithError(c, http.StatusBadRequest, "status must be SUCCESS or FAILED")
		}
		filter = func(e *entities.AIJobEvent) bool { return string(e.Status) == status }
	}

	return h.stream(c, entities.AIJobEventsChannel, filter, map[string]interface{}{
		"status": c.QueryParam("status"),
	})
}

func (h *SSEHandler) stream(c echo.Context, channel string, filter func(*entities.AIJobEvent) bool, hello map[string]interface{}) error {
	if h.eventBus == nil {
		return respondWithError(c, http.StatusServiceUnavailable, "event streaming is not enabled")
	}

	ctx := c.Request().Context()
	eventChan, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("Failed to subscribe to channel")
		return respondWithError(c, http.StatusInternalServerError, "failed to subscribe to events")
	}

	// Set headers for SSE
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	clientChan := make(chan *entities.AIJobEvent, 10)
	h.registerClient(channel, clientChan)
	defer h.unregisterClient(channel, clientChan)

	hello["timestamp"] = time.Now()
	h.sendEvent(w, "connected", hello)
	w.Flush()

	go h.forwardEvents(ctx, eventChan, clientChan, filter)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("channel", channel).Msg("Client disconnected from AI event stream")
			return nil
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now(),
			})
			w.Flush()
		case event := <-clientChan:
			if event == nil {
				continue
			}
			h.sendEvent(w, string(event.EventType), event)
			w.Flush()
		}
	}
}

// forwardEvents forwards events from the event bus to a client channel
func (h *SSEHandler) forwardEvents(ctx context.Context, eventChan <-chan *entities.AIJobEvent, clientChan chan<- *entities.AIJobEvent, filter func(*entities.AIJobEvent) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if filter != nil && !filter(event) {
				continue
			}
			select {
			case clientChan <- event:
			default:
				// Client channel full, skip event
			}
		}
	}
}

func (h *SSEHandler) registerClient(channel string, clientChan chan *entities.AIJobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[channel] == nil {
		h.clients[channel] = make(map[chan *entities.AIJobEvent]bool)
	}
	h.clients[channel][clientChan] = true
	log.Debug().Str("channel", channel).Int("total", len(h.clients[channel])).Msg("SSE client registered")
}

func (h *SSEHandler) unregisterClient(channel string, clientChan chan *entities.AIJobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.clients[channel]; exists {
		delete(clients, clientChan)
		if len(clients) == 0 {
			delete(h.clients, channel)
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
