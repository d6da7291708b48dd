package entities

import (
	"time"
)

// AIGenStatus is the lifecycle state of a patient's AI summary
type AIGenStatus string

const (
	AIGenStatusPending AIGenStatus = "PENDING"
	AIGenStatusSuccess AIGenStatus = "SUCCESS"
	AIGenStatusFailed  AIGenStatus = "FAILED"
)

// Patient is a hospital patient profile
type Patient struct {
	ID                  string    `json:"id" db:"id"`
	FullName            string    `json:"full_name" db:"full_name"`
	Email               string    `json:"email" db:"email"`
	Age                 int       `json:"age" db:"age"`
	Gender              string    `json:"gender" db:"gender"`
	BloodGroup          string    `json:"blood_group" db:"blood_group"`
	Allergies           []string  `json:"allergies" db:"-"`
	MedicalConditions   []string  `json:"medical_conditions" db:"-"`
	Medications         []string  `json:"medications" db:"-"`
	RiskLevel           RiskLevel `json:"risk_level" db:"risk_level"`
	HasEmergencyContact bool      `json:"has_emergency_contact" db:"has_emergency_contact"`

	AI PatientAIState `json:"ai" db:"-"`

	// Version increments on every AI-state write.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PatientAIState holds the fields owned by the AI pipeline
type PatientAIState struct {
	HasAIAnalysis     bool        `json:"has_ai_analysis"`
	AISummary         *string     `json:"ai_summary,omitempty"`
	AIRiskLevel       RiskLevel   `json:"ai_risk_level,omitempty"`
	AIKeyIssues       []string    `json:"ai_key_issues"`
	AILifestyleAdvice []string    `json:"ai_lifestyle_advice"`
	AIAnalysis        *AIAnalysis `json:"ai_analysis,omitempty"`
	AIUpdatedAt       *time.Time  `json:"ai_updated_at,omitempty"`
	AILastUpdatedAt   *time.Time  `json:"ai_last_updated_at,omitempty"`
	AIGenStatus       AIGenStatus `json:"ai_gen_status"`
	AIRetryCount      int         `json:"ai_retry_count"`
	AINextRetryAt     *time.Time  `json:"ai_next_retry_at,omitempty"`
	AILastError       string      `json:"ai_last_error,omitempty"`
}

// SuccessState builds the AI state recorded after a successful generation.
func SuccessState(data SummaryData, now time.Time) PatientAIState {
	summary := data.AISummary
	analysis := data.AIAnalysis
	return PatientAIState{
		HasAIAnalysis:     true,
		AISummary:         &summary,
		AIRiskLevel:       data.AIRiskLevel,
		AIKeyIssues:       nonNil(data.AIKeyIssues),
		AILifestyleAdvice: nonNil(data.AILifestyleAdvice),
		AIAnalysis:        &analysis,
		AIUpdatedAt:       &now,
		AILastUpdatedAt:   &now,
		AIGenStatus:       AIGenStatusSuccess,
		AIRetryCount:      0,
		AINextRetryAt:     nil,
	}
}

// WithFailure returns a copy of s marked FAILED with the given retry time.
// Analysis content and HasAIAnalysis are left as they were.
func (s PatientAIState) WithFailure(nextRetryAt time.Time, reason string) PatientAIState {
	next := nextRetryAt
	s.AIGenStatus = AIGenStatusFailed
	s.AIRetryCount++
	s.AINextRetryAt = &next
	s.AILastError = reason
	return s
}

// DueForRetry reports whether the patient's failed job may run again at now.
func (s PatientAIState) DueForRetry(now time.Time) bool {
	return s.AIGenStatus == AIGenStatusFailed && s.AINextRetryAt != nil && !s.AINextRetryAt.After(now)
}

// ProfileSnapshot is the profile subset sent to the summary generator
type ProfileSnapshot struct {
	Age                 int
	Gender              string
	BloodGroup          string
	Allergies           []string
	MedicalConditions   []string
	Medications         []string
	RiskLevel           RiskLevel
	HasEmergencyContact bool
}

// Snapshot extracts the profile fields used for AI generation.
func (p *Patient) Snapshot() ProfileSnapshot {
	return ProfileSnapshot{
		Age:                 p.Age,
		Gender:              p.Gender,
		BloodGroup:          p.BloodGroup,
		Allergies:           p.Allergies,
		MedicalConditions:   p.MedicalConditions,
		Medications:         p.Medications,
		RiskLevel:           p.RiskLevel,
		HasEmergencyContact: p.HasEmergencyContact,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
