package database

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

var reportColumnNames = []string{
	"id", "patient_id", "title", "report_type", "report_date", "report_file_url",
	"ai_category", "parameters", "ai_summary", "risk_level", "ai_health_suggestions",
	"ai_raw", "ai_updated_at", "status", "created_at", "updated_at",
}

func newReportAdapterWithMock(t *testing.T) (*ReportAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewReportAdapter(postgres.NewClientFromDB(db)).(*ReportAdapter), mock
}

func pendingReportRow(id, fileURL string, created time.Time) []driver.Value {
	return []driver.Value{
		id, "p-1", "Blood panel", entities.ReportTypeLab, created, fileURL,
		"", "[]", "", "", "{}",
		nil, nil, "PENDING", created, created,
	}
}

func TestReportAdapter_GetLatestWithFile(t *testing.T) {
	adapter, mock := newReportAdapterWithMock(t)
	created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM "reports" WHERE .*"report_file_url" != \$\d+.*ORDER BY "created_at" DESC`).
		WillReturnRows(sqlmock.NewRows(reportColumnNames).
			AddRow(pendingReportRow("r-2", "/uploads/panel.pdf", created)...))

	report, err := adapter.GetLatestWithFile(context.Background(), "p-1")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "r-2", report.ID)
	assert.Equal(t, entities.ReportStatusPending, report.Status)
	assert.Empty(t, report.Parameters)
	assert.Nil(t, report.AIUpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportAdapter_GetLatestWithFile_None(t *testing.T) {
	adapter, mock := newReportAdapterWithMock(t)

	mock.ExpectQuery(`FROM "reports"`).WillReturnRows(sqlmock.NewRows(reportColumnNames))

	report, err := adapter.GetLatestWithFile(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportAdapter_ListRecentByPatient(t *testing.T) {
	adapter, mock := newReportAdapterWithMock(t)
	created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	analyzed := pendingReportRow("r-1", "/uploads/lipid.pdf", created)
	analyzed[6] = "Lipid"
	analyzed[7] = `[{"name":"LDL","value":"160","unit":"mg/dL","normalRange":"<100","status":"HIGH"}]`
	analyzed[8] = "LDL is elevated."
	analyzed[9] = "Medium"
	analyzed[10] = `{"Reduce saturated fat"}`
	analyzed[11] = `{"reportType":"Lipid"}`
	analyzed[12] = created
	analyzed[13] = "ANALYZED"

	mock.ExpectQuery(`FROM "reports" WHERE \("patient_id" = \$1\) ORDER BY "created_at" DESC LIMIT`).
		WillReturnRows(sqlmock.NewRows(reportColumnNames).AddRow(analyzed...))

	reports, err := adapter.ListRecentByPatient(context.Background(), "p-1", 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, entities.ReportStatusAnalyzed, r.Status)
	assert.Equal(t, entities.RiskLevelMedium, r.RiskLevel)
	require.Len(t, r.Parameters, 1)
	assert.Equal(t, "LDL", r.Parameters[0].Name)
	assert.Equal(t, []string{"Reduce saturated fat"}, r.AIHealthSuggestions)
	assert.JSONEq(t, `{"reportType":"Lipid"}`, string(r.AIRaw))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportAdapter_UpdateAnalysis(t *testing.T) {
	adapter, mock := newReportAdapterWithMock(t)
	now := time.Now()

	report := &entities.Report{ID: "r-1"}
	report.ApplyAnalysis(entities.ReportAnalysis{
		ReportType: "CBC",
		Summary:    "Normal counts.",
		RiskLevel:  entities.RiskLevelLow,
		Raw:        []byte(`{"reportType":"CBC"}`),
	}, now)

	mock.ExpectExec(`UPDATE "reports" SET .* WHERE \("id" = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.UpdateAnalysis(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportAdapter_MarkFailed_NotFound(t *testing.T) {
	adapter, mock := newReportAdapterWithMock(t)

	mock.ExpectExec(`UPDATE "reports" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := adapter.MarkFailed(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
