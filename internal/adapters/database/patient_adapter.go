package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"
	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

const patientsTable = "patients"

var patientColumns = []interface{}{
	"id", "full_name", "email", "age", "gender", "blood_group",
	"allergies", "medical_conditions", "medications", "risk_level", "has_emergency_contact",
	"has_ai_analysis", "ai_summary", "ai_risk_level", "ai_key_issues", "ai_lifestyle_advice",
	"ai_analysis", "ai_updated_at", "ai_last_updated_at", "ai_gen_status", "ai_retry_count",
	"ai_next_retry_at", "ai_last_error", "version", "created_at", "updated_at",
}

// PatientAdapter implements PatientRepository
type PatientAdapter struct {
	client *postgres.Client
	db     *goqu.Database
	now    func() time.Time
}

// NewPatientAdapter creates a new patient adapter
func NewPatientAdapter(client *postgres.Client) repositories.PatientRepository {
	return &PatientAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		now:    time.Now,
	}
}

// GetByID retrieves a patient by ID
func (a *PatientAdapter) GetByID(ctx context.Context, id string) (*entities.Patient, error) {
	query, args, err := a.db.Select(patientColumns...).
		From(patientsTable).
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	patient, err := scanPatient(a.client.DB().QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("patient not found")
		}
		return nil, apperrors.NewInternalError("failed to get patient", err)
	}
	return patient, nil
}

// ListDueForRetry returns failed patients whose retry time has passed
func (a *PatientAdapter) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*entities.Patient, error) {
	if limit <= 0 {
		return []*entities.Patient{}, nil
	}

	query, args, err := a.db.Select(patientColumns...).
		From(patientsTable).
		Where(
			goqu.C("ai_gen_status").Eq(string(entities.AIGenStatusFailed)),
			goqu.C("ai_next_retry_at").Lte(now),
		).
		Order(goqu.C("ai_next_retry_at").Asc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list patients due for retry", err)
	}
	defer rows.Close()

	patients := make([]*entities.Patient, 0, limit)
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan patient", err)
		}
		patients = append(patients, patient)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate patients", err)
	}
	return patients, nil
}

// UpdateAIState writes the AI state guarded by the version column
func (a *PatientAdapter) UpdateAIState(ctx context.Context, id string, expectedVersion int64, state entities.PatientAIState) (int64, error) {
	// JSONB columns take text; lib/pq would encode []byte as bytea.
	var analysis interface{}
	if state.AIAnalysis != nil {
		encoded, err := json.Marshal(state.AIAnalysis)
		if err != nil {
			return 0, apperrors.NewInternalError("failed to encode ai analysis", err)
		}
		analysis = string(encoded)
	}

	record := goqu.Record{
		"has_ai_analysis":     state.HasAIAnalysis,
		"ai_summary":          nullString(state.AISummary),
		"ai_risk_level":       sql.NullString{String: string(state.AIRiskLevel), Valid: state.AIRiskLevel != ""},
		"ai_key_issues":       pq.Array(nonNilStrings(state.AIKeyIssues)),
		"ai_lifestyle_advice": pq.Array(nonNilStrings(state.AILifestyleAdvice)),
		"ai_analysis":         analysis,
		"ai_updated_at":       nullTime(state.AIUpdatedAt),
		"ai_last_updated_at":  nullTime(state.AILastUpdatedAt),
		"ai_gen_status":       string(state.AIGenStatus),
		"ai_retry_count":      state.AIRetryCount,
		"ai_next_retry_at":    nullTime(state.AINextRetryAt),
		"ai_last_error":       state.AILastError,
		"version":             goqu.L("version + 1"),
		"updated_at":          a.now(),
	}

	query, args, err := a.db.Update(patientsTable).
		Set(record).
		Where(goqu.Ex{"id": id, "version": expectedVersion}).
		Returning("version").
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build update query", err)
	}

	var newVersion int64
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(&newVersion)
	if err == nil {
		return newVersion, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.NewInternalError("failed to update patient ai state", err)
	}

	exists, err := a.exists(ctx, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, apperrors.NewNotFoundError("patient not found")
	}
	return 0, apperrors.NewConflictError("patient ai state was modified concurrently")
}

func (a *PatientAdapter) exists(ctx context.Context, id string) (bool, error) {
	query, args, err := a.db.Select(goqu.L("1")).
		From(patientsTable).
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build query", err)
	}

	var one int
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewInternalError("failed to check patient", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPatient(row rowScanner) (*entities.Patient, error) {
	p := &entities.Patient{}
	var (
		riskLevel, genStatus             string
		aiSummary, aiRisk                sql.NullString
		analysis                         []byte
		updatedAt, lastUpdatedAt, nextAt sql.NullTime
	)

	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Email,
		&p.Age,
		&p.Gender,
		&p.BloodGroup,
		pq.Array(&p.Allergies),
		pq.Array(&p.MedicalConditions),
		pq.Array(&p.Medications),
		&riskLevel,
		&p.HasEmergencyContact,
		&p.AI.HasAIAnalysis,
		&aiSummary,
		&aiRisk,
		pq.Array(&p.AI.AIKeyIssues),
		pq.Array(&p.AI.AILifestyleAdvice),
		&analysis,
		&updatedAt,
		&lastUpdatedAt,
		&genStatus,
		&p.AI.AIRetryCount,
		&nextAt,
		&p.AI.AILastError,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RiskLevel = entities.RiskLevel(riskLevel)
	p.AI.AIRiskLevel = entities.RiskLevel(aiRisk.String)
	p.AI.AIGenStatus = entities.AIGenStatus(genStatus)
	if aiSummary.Valid {
		s := aiSummary.String
		p.AI.AISummary = &s
	}
	if len(analysis) > 0 {
		var a entities.AIAnalysis
		if err := json.Unmarshal(analysis, &a); err != nil {
			return nil, err
		}
		p.AI.AIAnalysis = &a
	}
	p.AI.AIUpdatedAt = timePtr(updatedAt)
	p.AI.AILastUpdatedAt = timePtr(lastUpdatedAt)
	p.AI.AINextRetryAt = timePtr(nextAt)
	return p, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
