package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartqrhealth/backend/internal/api/handlers"
	"github.com/smartqrhealth/backend/internal/application/services"
	"github.com/smartqrhealth/backend/internal/domain/entities"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

type stubJobRunner struct {
	outcome  services.JobOutcome
	calls    []string
	triggers []string
}

func (s *stubJobRunner) ProcessPatientJob(ctx context.Context, patientID string) services.JobOutcome {
	s.calls = append(s.calls, patientID)
	s.triggers = append(s.triggers, services.TriggerFromContext(ctx))
	out := s.outcome
	out.PatientID = patientID
	return out
}

type stubViewReader struct {
	view *services.PatientAIView
	err  error
}

func (s *stubViewReader) GetView(ctx context.Context, patientID string) (*services.PatientAIView, error) {
	return s.view, s.err
}

func TestPatientAIHandler_TriggerJob(t *testing.T) {
	t.Run("failure is still accepted", func(t *testing.T) {
		jobs := &stubJobRunner{outcome: services.JobOutcome{Status: entities.AIGenStatusFailed, RetryCount: 1, Error: "timeout"}}
		handler := handlers.NewPatientAIHandler(jobs, &stubViewReader{})

		c, rec := newContext(http.MethodPost, "/api/patients/p-1/ai/jobs", "", "id", "p-1")
		require.NoError(t, handler.TriggerJob(c))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []string{"p-1"}, jobs.calls)
		assert.Equal(t, []string{services.TriggerAPI}, jobs.triggers)

		var body services.JobOutcome
		decodeBody(t, rec, &body)
		assert.Equal(t, entities.AIGenStatusFailed, body.Status)
		assert.Equal(t, 1, body.RetryCount)
	})

	t.Run("missing id", func(t *testing.T) {
		jobs := &stubJobRunner{}
		handler := handlers.NewPatientAIHandler(jobs, &stubViewReader{})

		c, rec := newContext(http.MethodPost, "/api/patients//ai/jobs", "", "id", " ")
		require.NoError(t, handler.TriggerJob(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, jobs.calls)
	})
}

func TestPatientAIHandler_GetAIView(t *testing.T) {
	summary := "Stable."
	view := &services.PatientAIView{PatientID: "p-1", HasAIAnalysis: true, AISummary: &summary, AIGenStatus: entities.AIGenStatusFailed, RefreshFailing: true}

	tests := []struct {
		name   string
		reader *stubViewReader
		status int
	}{
		{name: "found", reader: &stubViewReader{view: view}, status: http.StatusOK},
		{name: "not found", reader: &stubViewReader{err: apperrors.NewNotFoundError("patient not found")}, status: http.StatusNotFound},
		{name: "internal", reader: &stubViewReader{err: assert.AnError}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := handlers.NewPatientAIHandler(&stubJobRunner{}, tt.reader)
			c, rec := newContext(http.MethodGet, "/api/patients/p-1/ai", "", "id", "p-1")
			require.NoError(t, handler.GetAIView(c))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("body", func(t *testing.T) {
		handler := handlers.NewPatientAIHandler(&stubJobRunner{}, &stubViewReader{view: view})
		c, rec := newContext(http.MethodGet, "/api/patients/p-1/ai", "", "id", "p-1")
		require.NoError(t, handler.GetAIView(c))

		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, true, body["refresh_failing"])
		assert.Equal(t, "Stable.", body["ai_summary"])
		assert.Equal(t, "FAILED", body["ai_gen_status"])
	})

	t.Run("internal error hides details", func(t *testing.T) {
		handler := handlers.NewPatientAIHandler(&stubJobRunner{}, &stubViewReader{err: assert.AnError})
		c, rec := newContext(http.MethodGet, "/api/patients/p-1/ai", "", "id", "p-1")
		require.NoError(t, handler.GetAIView(c))
		assert.Equal(t, "internal server error", errorMessage(t, rec))
	})
}
