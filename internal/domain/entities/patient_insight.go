package entities

import "time"

// PatientInsight is the searchable projection of a patient's latest AI analysis
type PatientInsight struct {
	PatientID   string    `json:"patient_id"`
	FullName    string    `json:"full_name"`
	AIRiskLevel RiskLevel `json:"ai_risk_level"`
	AIKeyIssues []string  `json:"ai_key_issues"`
	AISummary   string    `json:"ai_summary"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPatientInsight builds the insight for a patient with a successful analysis.
func NewPatientInsight(p *Patient, state PatientAIState) *PatientInsight {
	insight := &PatientInsight{
		PatientID:   p.ID,
		FullName:    p.FullName,
		AIRiskLevel: state.AIRiskLevel,
		AIKeyIssues: state.AIKeyIssues,
	}
	if state.AISummary != nil {
		insight.AISummary = *state.AISummary
	}
	if state.AIUpdatedAt != nil {
		insight.UpdatedAt = *state.AIUpdatedAt
	}
	return insight
}
