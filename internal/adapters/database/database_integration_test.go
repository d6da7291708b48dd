//go:build integration

package database_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartqrhealth/backend/internal/adapters/database"
	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/postgres"
	"github.com/smartqrhealth/backend/pkg/config"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newTestPostgresClient(t *testing.T) *postgres.Client {
	t.Helper()

	port, err := strconv.Atoi(getEnv("TEST_DB_PORT", "5432"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := postgres.NewClient(ctx, &config.DatabaseConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getEnv("TEST_DB_NAME", "smart_qr_health_test"),
		SSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	})
	require.NoError(t, err, "Failed to create postgres client")
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Migrate(ctx))
	_, err = client.DB().ExecContext(ctx, "DELETE FROM reports; DELETE FROM patients;")
	require.NoError(t, err)
	return client
}

func seedPatient(t *testing.T, client *postgres.Client, id string) {
	t.Helper()
	_, err := client.DB().Exec(`
		INSERT INTO patients (id, full_name, age, gender, allergies, medications)
		VALUES ($1, 'Integration Patient', 51, 'Male', '{Sulfa}', '{Amlodipine}')
	`, id)
	require.NoError(t, err)
}

func TestPatientAdapterIntegration_VersionedWrites(t *testing.T) {
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("Skipping integration test: TEST_DB_HOST not set")
	}

	client := newTestPostgresClient(t)
	seedPatient(t, client, "p-int-1")
	patients := database.NewPatientAdapter(client)
	ctx := context.Background()

	patient, err := patients.GetByID(ctx, "p-int-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), patient.Version)
	assert.Equal(t, entities.AIGenStatusPending, patient.AI.AIGenStatus)
	assert.Equal(t, []string{"Sulfa"}, patient.Allergies)

	now := time.Now().UTC().Truncate(time.Second)
	failed := patient.AI.WithFailure(now.Add(-time.Minute), "model timeout")
	version, err := patients.UpdateAIState(ctx, "p-int-1", patient.Version, failed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// The same stale version loses.
	_, err = patients.UpdateAIState(ctx, "p-int-1", patient.Version, failed)
	assert.True(t, apperrors.IsConflict(err))

	due, err := patients.ListDueForRetry(ctx, now, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "p-int-1", due[0].ID)
	assert.Equal(t, 1, due[0].AI.AIRetryCount)

	summary := entities.SummaryData{
		AISummary:         "Stable blood pressure on current medication.",
		AIRiskLevel:       entities.RiskLevelLow,
		AIKeyIssues:       []string{},
		AILifestyleAdvice: []string{"Reduce salt"},
	}
	_, err = patients.UpdateAIState(ctx, "p-int-1", version, entities.SuccessState(summary, now))
	require.NoError(t, err)

	patient, err = patients.GetByID(ctx, "p-int-1")
	require.NoError(t, err)
	assert.Equal(t, entities.AIGenStatusSuccess, patient.AI.AIGenStatus)
	assert.Zero(t, patient.AI.AIRetryCount)
	assert.Nil(t, patient.AI.AINextRetryAt)
	assert.True(t, patient.AI.HasAIAnalysis)

	due, err = patients.ListDueForRetry(ctx, now, 5)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestReportAdapterIntegration_LatestWithFile(t *testing.T) {
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("Skipping integration test: TEST_DB_HOST not set")
	}

	client := newTestPostgresClient(t)
	seedPatient(t, client, "p-int-2")
	_, err := client.DB().Exec(`
		INSERT INTO reports (id, patient_id, report_type, report_file_url, created_at) VALUES
		('r-old', 'p-int-2', 'Lab', '/uploads/reports/old.pdf', NOW() - INTERVAL '2 days'),
		('r-new', 'p-int-2', 'Lab', '/uploads/reports/new.pdf', NOW() - INTERVAL '1 day'),
		('r-nofile', 'p-int-2', 'Prescription', '', NOW())
	`)
	require.NoError(t, err)

	reports := database.NewReportAdapter(client)
	ctx := context.Background()

	latest, err := reports.GetLatestWithFile(ctx, "p-int-2")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r-new", latest.ID)

	recent, err := reports.ListRecentByPatient(ctx, "p-int-2", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r-nofile", recent[0].ID)

	require.NoError(t, reports.MarkFailed(ctx, "r-old"))
	old, err := reports.GetByID(ctx, "r-old")
	require.NoError(t, err)
	assert.Equal(t, entities.ReportStatusFailed, old.Status)
}
