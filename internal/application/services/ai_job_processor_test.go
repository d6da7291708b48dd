package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

func TestProcessPatientJob_SuccessFromAnyState(t *testing.T) {
	previous := fixedNow.Add(-time.Hour)
	starts := map[string]entities.PatientAIState{
		"pending":        {AIGenStatus: entities.AIGenStatusPending},
		"failed twice":   failedState(2, previous),
		"failed future":  failedState(1, fixedNow.Add(time.Hour)),
		"already stored": {AIGenStatus: entities.AIGenStatusSuccess, HasAIAnalysis: true, AILastError: "old"},
	}

	for name, start := range starts {
		t.Run(name, func(t *testing.T) {
			f := newProcessorFixture(stubExtractor{})
			patient := newTestPatient("p-1")
			patient.AI = start
			f.patients.Put(patient)
			f.ai.On("Complete", mock.Anything, mock.Anything).Return(validSummaryJSON, nil).Once()

			outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")

			assert.Equal(t, entities.AIGenStatusSuccess, outcome.Status)
			stored, err := f.patients.GetByID(context.Background(), "p-1")
			require.NoError(t, err)
			assert.Equal(t, entities.AIGenStatusSuccess, stored.AI.AIGenStatus)
			assert.Equal(t, 0, stored.AI.AIRetryCount)
			assert.Nil(t, stored.AI.AINextRetryAt)
			assert.True(t, stored.AI.HasAIAnalysis)
			assert.Empty(t, stored.AI.AILastError)
			require.NotNil(t, stored.AI.AISummary)
			assert.Equal(t, "Your profile looks stable. Keep up regular activity and hydration.", *stored.AI.AISummary)
			require.NotNil(t, stored.AI.AIUpdatedAt)
			assert.Equal(t, fixedNow, *stored.AI.AIUpdatedAt)
			assert.Equal(t, fixedNow, *stored.AI.AILastUpdatedAt)
			assert.Equal(t, int64(1), stored.Version)
		})
	}
}

func TestProcessPatientJob_FailureSchedulesRetry(t *testing.T) {
	for _, hadAnalysis := range []bool{false, true} {
		for prior, wantDelay := range map[int]time.Duration{0: 2 * time.Minute, 1: 5 * time.Minute, 2: 10 * time.Minute, 3: 10 * time.Minute} {
			f := newProcessorFixture(stubExtractor{})
			patient := newTestPatient("p-1")
			patient.AI = failedState(prior, fixedNow.Add(-time.Minute))
			if prior == 0 {
				patient.AI = entities.PatientAIState{AIGenStatus: entities.AIGenStatusPending}
			}
			summary := "earlier summary"
			patient.AI.HasAIAnalysis = hadAnalysis
			if hadAnalysis {
				patient.AI.AISummary = &summary
			}
			f.patients.Put(patient)
			f.ai.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("upstream 503")).Once()

			outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")

			stored, err := f.patients.GetByID(context.Background(), "p-1")
			require.NoError(t, err)
			assert.Equal(t, entities.AIGenStatusFailed, stored.AI.AIGenStatus)
			assert.Equal(t, prior+1, stored.AI.AIRetryCount)
			require.NotNil(t, stored.AI.AINextRetryAt)
			assert.True(t, stored.AI.AINextRetryAt.After(fixedNow))
			assert.Equal(t, fixedNow.Add(wantDelay), *stored.AI.AINextRetryAt)
			assert.Equal(t, hadAnalysis, stored.AI.HasAIAnalysis)
			if hadAnalysis {
				require.NotNil(t, stored.AI.AISummary)
				assert.Equal(t, summary, *stored.AI.AISummary)
			}
			assert.Contains(t, stored.AI.AILastError, "upstream 503")

			assert.Equal(t, entities.AIGenStatusFailed, outcome.Status)
			assert.Equal(t, prior+1, outcome.RetryCount)
		}
	}
}

func TestProcessPatientJob_SchemaViolationPersistsNothingPartial(t *testing.T) {
	for _, content := range []string{
		"not json at all",
		`{"aiRiskLevel": "High", "aiKeyIssues": ["x"]}`,
		`{"aiSummary": "Fine.", "aiRiskLevel": "Low"}`,
	} {
		f := newProcessorFixture(stubExtractor{})
		patient := newTestPatient("p-1")
		f.patients.Put(patient)
		f.ai.On("Complete", mock.Anything, mock.Anything).Return(content, nil).Once()

		outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")

		stored, err := f.patients.GetByID(context.Background(), "p-1")
		require.NoError(t, err)
		assert.Equal(t, entities.AIGenStatusFailed, outcome.Status)
		assert.Equal(t, entities.AIGenStatusFailed, stored.AI.AIGenStatus)
		assert.Equal(t, 1, stored.AI.AIRetryCount)
		assert.NotNil(t, stored.AI.AINextRetryAt)
		assert.False(t, stored.AI.HasAIAnalysis)
		assert.Nil(t, stored.AI.AISummary)
		assert.Empty(t, stored.AI.AIKeyIssues)
		assert.Empty(t, stored.AI.AIRiskLevel)
	}
}

func TestProcessPatientJob_MissingPatientIsNoop(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})

	outcome := f.proc.ProcessPatientJob(context.Background(), "ghost")

	assert.True(t, outcome.Skipped)
	assert.Equal(t, 0, f.patients.Writes())
	f.ai.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestProcessPatientJob_UsesLatestReport(t *testing.T) {
	t.Run("pdf text", func(t *testing.T) {
		f := newProcessorFixture(stubExtractor{text: "Hemoglobin 10.2 g/dL"})
		f.patients.Put(newTestPatient("p-1"))
		f.reports.Put(&entities.Report{ID: "r-1", PatientID: "p-1", ReportFileURL: "/uploads/reports/cbc.pdf"})
		f.docs.docs["/uploads/reports/cbc.pdf"] = &providers.StoredDocument{Name: "cbc.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}

		var prompt string
		f.ai.On("Complete", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { prompt = userPrompt(args.Get(1).(providers.AICompletionRequest)) }).
			Return(validSummaryJSON, nil)

		outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")
		assert.Equal(t, entities.AIGenStatusSuccess, outcome.Status)
		assert.Contains(t, prompt, "Hemoglobin 10.2 g/dL")
	})

	t.Run("image placeholder", func(t *testing.T) {
		f := newProcessorFixture(stubExtractor{})
		f.patients.Put(newTestPatient("p-1"))
		f.reports.Put(&entities.Report{ID: "r-1", PatientID: "p-1", ReportFileURL: "/uploads/reports/xray.png"})

		var prompt string
		f.ai.On("Complete", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { prompt = userPrompt(args.Get(1).(providers.AICompletionRequest)) }).
			Return(validSummaryJSON, nil)

		f.proc.ProcessPatientJob(context.Background(), "p-1")
		assert.Contains(t, prompt, ImageReportPlaceholder)
	})

	t.Run("missing file fails the job", func(t *testing.T) {
		f := newProcessorFixture(stubExtractor{})
		f.patients.Put(newTestPatient("p-1"))
		f.reports.Put(&entities.Report{ID: "r-1", PatientID: "p-1", ReportFileURL: "/uploads/reports/gone.pdf"})

		outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")
		assert.Equal(t, entities.AIGenStatusFailed, outcome.Status)
		assert.Contains(t, outcome.Error, "report file not found")
		f.ai.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("extraction error fails the job", func(t *testing.T) {
		f := newProcessorFixture(stubExtractor{err: errors.New("corrupt xref")})
		f.patients.Put(newTestPatient("p-1"))
		f.reports.Put(&entities.Report{ID: "r-1", PatientID: "p-1", ReportFileURL: "/uploads/reports/cbc.pdf"})
		f.docs.docs["/uploads/reports/cbc.pdf"] = &providers.StoredDocument{Name: "cbc.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}

		outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")
		assert.Equal(t, entities.AIGenStatusFailed, outcome.Status)
		assert.Contains(t, outcome.Error, "corrupt xref")
	})
}

func TestProcessPatientJob_NotifiesAfterSuccess(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})
	f.cache.items[providers.PatientAIViewCacheKey("p-1")] = []byte(`{}`)
	f.patients.Put(newTestPatient("p-1"))
	f.ai.On("Complete", mock.Anything, mock.Anything).Return(validSummaryJSON, nil)

	f.proc.ProcessPatientJob(context.Background(), "p-1")

	assert.Contains(t, f.cache.deleted, providers.PatientAIViewCacheKey("p-1"))
	require.Len(t, f.index.indexed, 1)
	assert.Equal(t, "p-1", f.index.indexed[0].PatientID)
	assert.Equal(t, entities.RiskLevelLow, f.index.indexed[0].AIRiskLevel)

	require.Len(t, f.bus.events[entities.AIJobEventsChannel], 1)
	require.Len(t, f.bus.events[entities.PatientAIJobChannel("p-1")], 1)
	assert.Equal(t, entities.AIJobEventSucceeded, f.bus.events[entities.AIJobEventsChannel][0].EventType)
}

func TestProcessPatientJob_FailureIsPublishedButNotIndexed(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})
	f.patients.Put(newTestPatient("p-1"))
	f.ai.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("boom"))

	f.proc.ProcessPatientJob(context.Background(), "p-1")

	assert.Empty(t, f.index.indexed)
	events := f.bus.events[entities.PatientAIJobChannel("p-1")]
	require.Len(t, events, 1)
	assert.Equal(t, entities.AIJobEventFailed, events[0].EventType)
	assert.Equal(t, 1, events[0].RetryCount)
	require.NotNil(t, events[0].NextRetryAt)
}

// patientRepoFunc lets a test script each repository call.
type patientRepoFunc struct {
	get    func(ctx context.Context, id string) (*entities.Patient, error)
	update func(ctx context.Context, id string, v int64, s entities.PatientAIState) (int64, error)
}

func (r *patientRepoFunc) GetByID(ctx context.Context, id string) (*entities.Patient, error) {
	return r.get(ctx, id)
}

func (r *patientRepoFunc) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*entities.Patient, error) {
	return nil, nil
}

func (r *patientRepoFunc) UpdateAIState(ctx context.Context, id string, v int64, s entities.PatientAIState) (int64, error) {
	return r.update(ctx, id, v, s)
}

func TestProcessPatientJob_VersionConflictIsDiscarded(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})
	updates := 0
	repo := &patientRepoFunc{
		get: func(ctx context.Context, id string) (*entities.Patient, error) {
			return newTestPatient(id), nil
		},
		update: func(ctx context.Context, id string, v int64, s entities.PatientAIState) (int64, error) {
			updates++
			return 0, apperrors.NewConflictError("stale")
		},
	}
	f.proc.patients = repo
	f.ai.On("Complete", mock.Anything, mock.Anything).Return(validSummaryJSON, nil)

	outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")

	assert.True(t, outcome.Discarded)
	assert.Equal(t, 1, updates, "a lost version check is not retried")
	assert.Empty(t, f.bus.events)
}

func TestProcessPatientJob_SuccessWriteErrorRecordsFailure(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})
	var states []entities.PatientAIState
	repo := &patientRepoFunc{
		get: func(ctx context.Context, id string) (*entities.Patient, error) {
			return newTestPatient(id), nil
		},
		update: func(ctx context.Context, id string, v int64, s entities.PatientAIState) (int64, error) {
			states = append(states, s)
			if s.AIGenStatus == entities.AIGenStatusSuccess {
				return 0, errors.New("connection reset")
			}
			return v + 1, nil
		},
	}
	f.proc.patients = repo
	f.ai.On("Complete", mock.Anything, mock.Anything).Return(validSummaryJSON, nil)

	outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")

	require.Len(t, states, 2)
	assert.Equal(t, entities.AIGenStatusFailed, states[1].AIGenStatus)
	assert.Equal(t, 1, states[1].AIRetryCount)
	assert.False(t, states[1].HasAIAnalysis)
	assert.Equal(t, entities.AIGenStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "connection reset")
}

func TestProcessPatientJob_FailureWriteErrorSchedulesNothing(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})
	repo := &patientRepoFunc{
		get: func(ctx context.Context, id string) (*entities.Patient, error) {
			return newTestPatient(id), nil
		},
		update: func(ctx context.Context, id string, v int64, s entities.PatientAIState) (int64, error) {
			return 0, errors.New("connection reset")
		},
	}
	f.proc.patients = repo
	f.ai.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	outcome := f.proc.ProcessPatientJob(context.Background(), "p-1")

	assert.Equal(t, entities.AIGenStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "timeout")
	assert.Zero(t, outcome.RetryCount)
	assert.Nil(t, outcome.NextRetryAt)
	assert.False(t, outcome.Discarded)
}

func TestProcessPatientJob_SerialisesPerPatient(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})
	f.patients.Put(newTestPatient("p-1"))

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	f.ai.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		}).
		Return(validSummaryJSON, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.proc.ProcessPatientJob(context.Background(), "p-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 4, f.patients.Writes())
	assert.Equal(t, 0, f.proc.locks.size())
}

func TestApplySummary_WritesSuccessState(t *testing.T) {
	f := newProcessorFixture(stubExtractor{})
	patient := newTestPatient("p-1")
	patient.AI = failedState(2, fixedNow.Add(time.Minute))
	f.patients.Put(patient)

	analysis := entities.ReportAnalysis{
		ReportType: "CBC",
		Parameters: []entities.Parameter{{Name: "Hemoglobin", Status: entities.ParameterStatusLow}},
		Summary:    "Low hemoglobin.",
		RiskLevel:  entities.RiskLevelMedium,
	}
	outcome := f.proc.ApplySummary(context.Background(), "p-1", analysis.ToSummaryData(fixedNow))

	assert.Equal(t, entities.AIGenStatusSuccess, outcome.Status)
	stored, err := f.patients.GetByID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hemoglobin is LOW"}, stored.AI.AIKeyIssues)
	assert.Equal(t, 0, stored.AI.AIRetryCount)
	assert.Nil(t, stored.AI.AINextRetryAt)
	f.ai.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestWithTrigger(t *testing.T) {
	assert.Equal(t, TriggerAPI, TriggerFromContext(context.Background()))
	assert.Equal(t, TriggerRetry, TriggerFromContext(WithTrigger(context.Background(), TriggerRetry)))
}
