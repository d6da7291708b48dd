package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"
	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

const reportsTable = "reports"

var reportColumns = []interface{}{
	"id", "patient_id", "title", "report_type", "report_date", "report_file_url",
	"ai_category", "parameters", "ai_summary", "risk_level", "ai_health_suggestions",
	"ai_raw", "ai_updated_at", "status", "created_at", "updated_at",
}

// ReportAdapter implements ReportRepository
type ReportAdapter struct {
	client *postgres.Client
	db     *goqu.Database
	now    func() time.Time
}

// NewReportAdapter creates a new report adapter
func NewReportAdapter(client *postgres.Client) repositories.ReportRepository {
	return &ReportAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		now:    time.Now,
	}
}

// GetByID retrieves a report by ID
func (a *ReportAdapter) GetByID(ctx context.Context, id string) (*entities.Report, error) {
	query, args, err := a.db.Select(reportColumns...).
		From(reportsTable).
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	report, err := scanReport(a.client.DB().QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("report not found")
		}
		return nil, apperrors.NewInternalError("failed to get report", err)
	}
	return report, nil
}

// GetLatestWithFile returns the newest report that references a file
func (a *ReportAdapter) GetLatestWithFile(ctx context.Context, patientID string) (*entities.Report, error) {
	query, args, err := a.db.Select(reportColumns...).
		From(reportsTable).
		Where(
			goqu.C("patient_id").Eq(patientID),
			goqu.C("report_file_url").Neq(""),
		).
		Order(goqu.C("created_at").Desc()).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	report, err := scanReport(a.client.DB().QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewInternalError("failed to get latest report", err)
	}
	return report, nil
}

// ListRecentByPatient returns the patient's newest reports
func (a *ReportAdapter) ListRecentByPatient(ctx context.Context, patientID string, limit int) ([]*entities.Report, error) {
	ds := a.db.Select(reportColumns...).
		From(reportsTable).
		Where(goqu.Ex{"patient_id": patientID}).
		Order(goqu.C("created_at").Desc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list reports", err)
	}
	defer rows.Close()

	reports := []*entities.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan report", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate reports", err)
	}
	return reports, nil
}

// UpdateAnalysis stores the AI-derived fields of a report
func (a *ReportAdapter) UpdateAnalysis(ctx context.Context, report *entities.Report) error {
	params := report.Parameters
	if params == nil {
		params = []entities.Parameter{}
	}
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return apperrors.NewInternalError("failed to encode parameters", err)
	}

	var raw interface{}
	if len(report.AIRaw) > 0 {
		raw = string(report.AIRaw)
	}

	record := goqu.Record{
		"ai_category":           report.AICategory,
		"parameters":            string(encodedParams),
		"ai_summary":            report.AISummary,
		"risk_level":            string(report.RiskLevel),
		"ai_health_suggestions": pq.Array(nonNilStrings(report.AIHealthSuggestions)),
		"ai_raw":                raw,
		"ai_updated_at":         nullTime(report.AIUpdatedAt),
		"status":                string(report.Status),
		"updated_at":            a.now(),
	}

	return a.update(ctx, report.ID, record)
}

// MarkFailed sets the report status to FAILED
func (a *ReportAdapter) MarkFailed(ctx context.Context, id string) error {
	return a.update(ctx, id, goqu.Record{
		"status":     string(entities.ReportStatusFailed),
		"updated_at": a.now(),
	})
}

func (a *ReportAdapter) update(ctx context.Context, id string, record goqu.Record) error {
	query, args, err := a.db.Update(reportsTable).
		Set(record).
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update report", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get affected rows", err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError("report not found")
	}
	return nil
}

func scanReport(row rowScanner) (*entities.Report, error) {
	r := &entities.Report{}
	var (
		riskLevel, status string
		params, raw       []byte
		aiUpdatedAt       sql.NullTime
	)

	err := row.Scan(
		&r.ID,
		&r.PatientID,
		&r.Title,
		&r.ReportType,
		&r.ReportDate,
		&r.ReportFileURL,
		&r.AICategory,
		&params,
		&r.AISummary,
		&riskLevel,
		pq.Array(&r.AIHealthSuggestions),
		&raw,
		&aiUpdatedAt,
		&status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.RiskLevel = entities.RiskLevel(riskLevel)
	r.Status = entities.ReportStatus(status)
	r.AIUpdatedAt = timePtr(aiUpdatedAt)
	if len(raw) > 0 {
		r.AIRaw = json.RawMessage(raw)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Parameters); err != nil {
			return nil, err
		}
	}
	return r, nil
}
