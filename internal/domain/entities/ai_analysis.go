package entities

import (
	"strings"
	"time"
)

// RiskLevel is an AI or clinician assessed risk category
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "Low"
	RiskLevelMedium RiskLevel = "Medium"
	RiskLevelHigh   RiskLevel = "High"
)

// Valid reports whether r is one of the known risk levels
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return true
	}
	return false
}

// ParseRiskLevel normalises case ("HIGH", "high") into a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLevelLow, true
	case "medium":
		return RiskLevelMedium, true
	case "high":
		return RiskLevelHigh, true
	}
	return "", false
}

// ParameterStatus classifies a measured value against its normal range
type ParameterStatus string

const (
	ParameterStatusLow    ParameterStatus = "LOW"
	ParameterStatusNormal ParameterStatus = "NORMAL"
	ParameterStatusHigh   ParameterStatus = "HIGH"
)

// Valid reports whether s is one of the known statuses
func (s ParameterStatus) Valid() bool {
	switch s {
	case ParameterStatusLow, ParameterStatusNormal, ParameterStatusHigh:
		return true
	}
	return false
}

// Parameter is a single measured value from a report
type Parameter struct {
	Name        string          `json:"name"`
	Value       string          `json:"value"`
	Unit        string          `json:"unit"`
	NormalRange string          `json:"normalRange"`
	Status      ParameterStatus `json:"status"`
}

// IsAbnormal reports whether the parameter is outside its normal range
func (p Parameter) IsAbnormal() bool {
	return p.Status != ParameterStatusNormal
}

// AIAnalysis is the structured breakdown attached to a patient aggregate
type AIAnalysis struct {
	ReportType string      `json:"reportType"`
	Parameters []Parameter `json:"parameters"`
	Notes      string      `json:"notes"`
}

// SummaryData is the validated output of one summary generation
type SummaryData struct {
	AISummary         string     `json:"aiSummary"`
	AIRiskLevel       RiskLevel  `json:"aiRiskLevel"`
	AIKeyIssues       []string   `json:"aiKeyIssues"`
	AILifestyleAdvice []string   `json:"aiLifestyleAdvice"`
	AIAnalysis        AIAnalysis `json:"aiAnalysis"`
	AIUpdatedAt       time.Time  `json:"aiUpdatedAt"`
}

// ReportAnalysis is the validated output of a single report analysis
type ReportAnalysis struct {
	ReportType      string      `json:"reportType"`
	Parameters      []Parameter `json:"parameters"`
	Summary         string      `json:"summary"`
	RiskLevel       RiskLevel   `json:"riskLevel"`
	LifestyleAdvice []string    `json:"lifestyleAdvice"`
	Raw             []byte      `json:"-"`
}

// KeyIssues lists every abnormal parameter as "<name> is <status>".
func (a ReportAnalysis) KeyIssues() []string {
	issues := make([]string, 0, len(a.Parameters))
	for _, p := range a.Parameters {
		if p.IsAbnormal() {
			issues = append(issues, p.Name+" is "+string(p.Status))
		}
	}
	return issues
}

// ToSummaryData projects a report analysis onto the patient aggregate fields.
func (a ReportAnalysis) ToSummaryData(now time.Time) SummaryData {
	return SummaryData{
		AISummary:         a.Summary,
		AIRiskLevel:       a.RiskLevel,
		AIKeyIssues:       a.KeyIssues(),
		AILifestyleAdvice: a.LifestyleAdvice,
		AIAnalysis: AIAnalysis{
			ReportType: a.ReportType,
			Parameters: a.Parameters,
			Notes:      a.Summary,
		},
		AIUpdatedAt: now,
	}
}
