package entities

import (
	"time"

	"github.com/google/uuid"
)

// AIJobEventType identifies what happened to a patient's AI job
type AIJobEventType string

const (
	AIJobEventSucceeded AIJobEventType = "ai_job_succeeded"
	AIJobEventFailed    AIJobEventType = "ai_job_failed"
)

// AIJobEvent is published after each job run
type AIJobEvent struct {
	ID          string         `json:"id"`
	PatientID   string         `json:"patient_id"`
	EventType   AIJobEventType `json:"event_type"`
	Status      AIGenStatus    `json:"status"`
	RetryCount  int            `json:"retry_count"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewAIJobEvent builds an event from the patient's state after a job run
func NewAIJobEvent(patientID string, state PatientAIState, now time.Time) *AIJobEvent {
	eventType := AIJobEventSucceeded
	if state.AIGenStatus == AIGenStatusFailed {
		eventType = AIJobEventFailed
	}
	return &AIJobEvent{
		ID:          uuid.NewString(),
		PatientID:   patientID,
		EventType:   eventType,
		Status:      state.AIGenStatus,
		RetryCount:  state.AIRetryCount,
		NextRetryAt: state.AINextRetryAt,
		Error:       state.AILastError,
		Timestamp:   now,
	}
}

// AIJobEventsChannel carries events for every patient
const AIJobEventsChannel = "ai:jobs:events"

// PatientAIJobChannel returns the per-patient channel
func PatientAIJobChannel(patientID string) string {
	return "ai:jobs:patient:" + patientID
}
