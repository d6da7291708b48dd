package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
)

// PatientAIView is the patient-facing rendering of the AI state
type PatientAIView struct {
	PatientID         string               `json:"patient_id"`
	HasAIAnalysis     bool                 `json:"has_ai_analysis"`
	AISummary         *string              `json:"ai_summary,omitempty"`
	AIRiskLevel       entities.RiskLevel   `json:"ai_risk_level,omitempty"`
	AIKeyIssues       []string             `json:"ai_key_issues"`
	AILifestyleAdvice []string             `json:"ai_lifestyle_advice"`
	AIAnalysis        *entities.AIAnalysis `json:"ai_analysis,omitempty"`
	AIGenStatus       entities.AIGenStatus `json:"ai_gen_status"`
	AIRetryCount      int                  `json:"ai_retry_count"`
	AINextRetryAt     *time.Time           `json:"ai_next_retry_at,omitempty"`

	// LastSuccessfulAnalysisAt is when the shown analysis was produced.
	LastSuccessfulAnalysisAt *time.Time `json:"last_successful_analysis_at,omitempty"`
	// RefreshFailing marks a shown analysis whose latest refresh failed.
	RefreshFailing bool `json:"refresh_failing"`
}

// NewPatientAIView renders a patient's AI state
func NewPatientAIView(p *entities.Patient) *PatientAIView {
	ai := p.AI
	status := ai.AIGenStatus
	if status == "" {
		status = entities.AIGenStatusPending
	}
	return &PatientAIView{
		PatientID:                p.ID,
		HasAIAnalysis:            ai.HasAIAnalysis,
		AISummary:                ai.AISummary,
		AIRiskLevel:              ai.AIRiskLevel,
		AIKeyIssues:              nonNilStrings(ai.AIKeyIssues),
		AILifestyleAdvice:        nonNilStrings(ai.AILifestyleAdvice),
		AIAnalysis:               ai.AIAnalysis,
		AIGenStatus:              status,
		AIRetryCount:             ai.AIRetryCount,
		AINextRetryAt:            ai.AINextRetryAt,
		LastSuccessfulAnalysisAt: ai.AILastUpdatedAt,
		RefreshFailing:           ai.HasAIAnalysis && status == entities.AIGenStatusFailed,
	}
}

// PatientAIViewService serves AI views through an optional cache
type PatientAIViewService struct {
	patients repositories.PatientRepository
	cache    providers.CacheProvider
	ttl      time.Duration
}

// NewPatientAIViewService creates a new view service
func NewPatientAIViewService(patients repositories.PatientRepository) *PatientAIViewService {
	return &PatientAIViewService{patients: patients, ttl: 5 * time.Minute}
}

// SetCache enables read-through caching of views
func (s *PatientAIViewService) SetCache(cache providers.CacheProvider, ttl time.Duration) {
	s.cache = cache
	if ttl > 0 {
		s.ttl = ttl
	}
}

// GetView returns the patient's AI view
func (s *PatientAIViewService) GetView(ctx context.Context, patientID string) (*PatientAIView, error) {
	key := providers.PatientAIViewCacheKey(patientID)
	if s.cache != nil {
		data, err := s.cache.Get(ctx, key)
		if err == nil {
			var view PatientAIView
			if json.Unmarshal(data, &view) == nil {
				return &view, nil
			}
		} else if !errors.Is(err, providers.ErrCacheMiss) {
			log.Warn().Err(err).Str("patient_id", patientID).Msg("AI view cache read failed")
		}
	}

	patient, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	view := NewPatientAIView(patient)

	if s.cache != nil {
		if data, err := json.Marshal(view); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				log.Warn().Err(err).Str("patient_id", patientID).Msg("AI view cache write failed")
			}
		}
	}
	return view, nil
}
