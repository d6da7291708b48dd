package entities

import (
	"encoding/json"
	"path"
	"strings"
	"time"
)

// ReportStatus tracks the AI analysis state of one report
type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "PENDING"
	ReportStatusAnalyzed ReportStatus = "ANALYZED"
	ReportStatusFailed   ReportStatus = "FAILED"
)

// Declared report types
const (
	ReportTypeLab          = "Lab"
	ReportTypeScan         = "Scan"
	ReportTypePrescription = "Prescription"
	ReportTypeConsultation = "Consultation"
	ReportTypeSurgery      = "Surgery"
	ReportTypeOther        = "Other"
)

// Report is an uploaded medical document
type Report struct {
	ID            string    `json:"id" db:"id"`
	PatientID     string    `json:"patient_id" db:"patient_id"`
	Title         string    `json:"title" db:"title"`
	ReportType    string    `json:"report_type" db:"report_type"`
	ReportDate    time.Time `json:"report_date" db:"report_date"`
	ReportFileURL string    `json:"report_file_url" db:"report_file_url"`

	AICategory          string          `json:"ai_category,omitempty" db:"ai_category"`
	Parameters          []Parameter     `json:"parameters" db:"-"`
	AISummary           string          `json:"ai_summary,omitempty" db:"ai_summary"`
	RiskLevel           RiskLevel       `json:"risk_level,omitempty" db:"risk_level"`
	AIHealthSuggestions []string        `json:"ai_health_suggestions" db:"-"`
	AIRaw               json.RawMessage `json:"ai_raw,omitempty" db:"ai_raw"`
	AIUpdatedAt         *time.Time      `json:"ai_updated_at,omitempty" db:"ai_updated_at"`
	Status              ReportStatus    `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasFile reports whether the report references an uploaded file
func (r *Report) HasFile() bool {
	return strings.TrimSpace(r.ReportFileURL) != ""
}

// FileName returns the last path element of the file reference.
func (r *Report) FileName() string {
	return path.Base(strings.ReplaceAll(r.ReportFileURL, "\\", "/"))
}

// IsPDF reports whether the file reference looks like a PDF
func (r *Report) IsPDF() bool {
	return strings.EqualFold(path.Ext(r.FileName()), ".pdf")
}

// ApplyAnalysis copies a successful analysis onto the report.
func (r *Report) ApplyAnalysis(a ReportAnalysis, now time.Time) {
	r.AICategory = a.ReportType
	r.Parameters = a.Parameters
	r.AISummary = a.Summary
	r.RiskLevel = a.RiskLevel
	r.AIHealthSuggestions = a.LifestyleAdvice
	r.AIRaw = a.Raw
	r.AIUpdatedAt = &now
	r.Status = ReportStatusAnalyzed
}

// ReportFile is the input to a single report analysis
type ReportFile struct {
	Name     string
	MimeType string
	Data     []byte
	// Path is the file on local disk, when there is one.
	Path string
}

// IsPDF reports whether the file is a PDF document
func (f ReportFile) IsPDF() bool {
	return f.MimeType == "application/pdf"
}

// IsImage reports whether the file is an image
func (f ReportFile) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}
