package repositories

import (
	"context"
	"time"

	"github.com/smartqrhealth/backend/internal/domain/entities"
)

// PatientRepository defines the patient operations used by the AI pipeline.
// Profile fields are read-only here; only the AI state is written.
type PatientRepository interface {
	// GetByID retrieves a patient by ID. Returns a NotFound AppError when missing.
	GetByID(ctx context.Context, id string) (*entities.Patient, error)

	// ListDueForRetry returns FAILED patients whose next retry time is at or
	// before now, oldest next retry first.
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*entities.Patient, error)

	// UpdateAIState writes the AI state if the stored version still equals
	// expectedVersion. Returns the new version, or a Conflict AppError.
	UpdateAIState(ctx context.Context, id string, expectedVersion int64, state entities.PatientAIState) (int64, error)
}

// ReportRepository defines the report operations used by the AI pipeline
type ReportRepository interface {
	// GetByID retrieves a report by ID
	GetByID(ctx context.Context, id string) (*entities.Report, error)

	// GetLatestWithFile returns the most recent report with a file reference,
	// or nil when the patient has none.
	GetLatestWithFile(ctx context.Context, patientID string) (*entities.Report, error)

	// ListRecentByPatient returns up to limit reports, newest first
	ListRecentByPatient(ctx context.Context, patientID string, limit int) ([]*entities.Report, error)

	// UpdateAnalysis stores the AI-derived fields and status of a report
	UpdateAnalysis(ctx context.Context, report *entities.Report) error

	// MarkFailed sets the report status to FAILED
	MarkFailed(ctx context.Context, id string) error
}
