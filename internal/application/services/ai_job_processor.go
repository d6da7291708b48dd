package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	"github.com/smartqrhealth/backend/internal/infrastructure/observability"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
	"github.com/smartqrhealth/backend/pkg/retry"
)

// Job triggers, recorded on metrics and logs
const (
	TriggerAPI    = "api"
	TriggerRetry  = "retry"
	TriggerReport = "report"
	TriggerCLI    = "cli"
)

const notifyTimeout = 5 * time.Second

type triggerKey struct{}

// WithTrigger tags ctx with what caused a job run.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFromContext returns the trigger set by WithTrigger, defaulting to api.
func TriggerFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerAPI
}

// JobOutcome describes what one job run left behind. It is informational;
// failures are recorded on the patient, never returned.
type JobOutcome struct {
	PatientID   string               `json:"patient_id"`
	Status      entities.AIGenStatus `json:"status,omitempty"`
	RetryCount  int                  `json:"retry_count"`
	NextRetryAt *time.Time           `json:"next_retry_at,omitempty"`
	Error       string               `json:"error,omitempty"`
	// Skipped is set when the patient does not exist.
	Skipped bool `json:"skipped,omitempty"`
	// Discarded is set when a newer write won the version check.
	Discarded bool `json:"discarded,omitempty"`
}

// AIJobProcessor runs one end-to-end AI summary attempt for a patient
type AIJobProcessor struct {
	patients  repositories.PatientRepository
	reports   repositories.ReportRepository
	documents providers.DocumentStore
	extractor providers.TextExtractor
	generator *SummaryGenerator
	schedule  retry.StepSchedule

	eventBus providers.EventBus
	cache    providers.CacheProvider
	insights repositories.InsightSearchRepository
	metrics  *observability.Metrics

	locks *patientLocks
	now   func() time.Time
}

// NewAIJobProcessor creates a new job processor
func NewAIJobProcessor(
	patients repositories.PatientRepository,
	reports repositories.ReportRepository,
	documents providers.DocumentStore,
	extractor providers.TextExtractor,
	generator *SummaryGenerator,
) *AIJobProcessor {
	return &AIJobProcessor{
		patients:  patients,
		reports:   reports,
		documents: documents,
		extractor: extractor,
		generator: generator,
		schedule:  retry.AIJobSchedule,
		locks:     newPatientLocks(),
		now:       time.Now,
	}
}

// SetEventBus sets where job events are published
func (p *AIJobProcessor) SetEventBus(bus providers.EventBus) {
	p.eventBus = bus
}

// SetCache sets the cache holding rendered AI views
func (p *AIJobProcessor) SetCache(cache providers.CacheProvider) {
	p.cache = cache
}

// SetInsightIndex sets the search index updated after each success
func (p *AIJobProcessor) SetInsightIndex(insights repositories.InsightSearchRepository) {
	p.insights = insights
}

// SetMetrics sets the metrics recorder
func (p *AIJobProcessor) SetMetrics(metrics *observability.Metrics) {
	p.metrics = metrics
}

// ProcessPatientJob loads the patient and their latest report, generates a
// summary and records success or a scheduled retry on the patient.
func (p *AIJobProcessor) ProcessPatientJob(ctx context.Context, patientID string) JobOutcome {
	ctx, span := observability.StartSpan(ctx, "ai.job.process")
	defer span.End()

	release := p.locks.Lock(patientID)
	defer release()

	start := time.Now()
	trigger := TriggerFromContext(ctx)
	logger := observability.LoggerFromContext(ctx).With().
		Str("patient_id", patientID).
		Str("trigger", trigger).
		Logger()

	outcome := p.run(ctx, patientID)

	status := string(outcome.Status)
	switch {
	case outcome.Skipped:
		status = "skipped"
	case outcome.Discarded:
		status = "discarded"
	}
	observability.RecordAIJob(ctx, p.metrics, status, trigger, time.Since(start))

	event := logger.Info()
	if outcome.Status == entities.AIGenStatusFailed {
		event = logger.Warn().Str("error", outcome.Error).Time("next_retry_at", derefTime(outcome.NextRetryAt))
	}
	event.Str("status", status).
		Int("retry_count", outcome.RetryCount).
		Dur("duration", time.Since(start)).
		Msg("AI job finished")

	return outcome
}

func (p *AIJobProcessor) run(ctx context.Context, patientID string) JobOutcome {
	patient, err := p.patients.GetByID(ctx, patientID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return JobOutcome{PatientID: patientID, Skipped: true}
		}
		return p.recordFailure(ctx, patientID, nil, fmt.Errorf("failed to load patient: %w", err))
	}

	reportText, err := p.loadReportText(ctx, patientID)
	if err != nil {
		return p.recordFailure(ctx, patientID, patient, err)
	}

	result := p.generator.Generate(ctx, patient.Snapshot(), reportText)
	if !result.Success || result.Data == nil {
		reason := result.Error
		if reason == "" {
			reason = "summary generation returned no data"
		}
		return p.recordFailure(ctx, patientID, patient, errors.New(reason))
	}

	return p.writeSuccess(ctx, patient, *result.Data)
}

// ApplySummary records an already validated summary as a successful job, for
// callers that produced the analysis themselves.
func (p *AIJobProcessor) ApplySummary(ctx context.Context, patientID string, data entities.SummaryData) JobOutcome {
	release := p.locks.Lock(patientID)
	defer release()

	patient, err := p.patients.GetByID(ctx, patientID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Info().Str("patient_id", patientID).Msg("Patient not found, skipping AI summary")
			return JobOutcome{PatientID: patientID, Skipped: true}
		}
		return p.recordFailure(ctx, patientID, nil, fmt.Errorf("failed to load patient: %w", err))
	}
	return p.writeSuccess(ctx, patient, data)
}

func (p *AIJobProcessor) loadReportText(ctx context.Context, patientID string) (string, error) {
	report, err := p.reports.GetLatestWithFile(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("failed to load latest report: %w", err)
	}
	if report == nil {
		return "", nil
	}
	if !report.IsPDF() {
		return ImageReportPlaceholder, nil
	}

	if p.documents == nil || p.extractor == nil {
		return "", errors.New("report storage is not configured")
	}
	doc, err := p.documents.Open(ctx, report.ReportFileURL)
	if err != nil {
		return "", fmt.Errorf("failed to open report %s: %w", report.ID, err)
	}
	text, err := p.extractor.ExtractText(ctx, doc.Data)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from report %s: %w", report.ID, err)
	}
	return text, nil
}

func (p *AIJobProcessor) writeSuccess(ctx context.Context, patient *entities.Patient, data entities.SummaryData) JobOutcome {
	state := entities.SuccessState(data, p.now())

	version, err := p.patients.UpdateAIState(ctx, patient.ID, patient.Version, state)
	if err != nil {
		if apperrors.IsConflict(err) {
			return p.discarded(patient.ID, err)
		}
		log.Error().Err(err).Str("patient_id", patient.ID).Msg("Failed to save AI summary")
		return p.recordFailure(ctx, patient.ID, patient, fmt.Errorf("failed to save AI summary: %w", err))
	}

	patient.AI = state
	patient.Version = version
	p.notify(ctx, patient)

	return JobOutcome{
		PatientID:  patient.ID,
		Status:     entities.AIGenStatusSuccess,
		RetryCount: 0,
	}
}

// recordFailure schedules the next retry from the pre-increment count. When
// patient is nil it is reloaded first.
func (p *AIJobProcessor) recordFailure(ctx context.Context, patientID string, patient *entities.Patient, cause error) JobOutcome {
	outcome := JobOutcome{
		PatientID: patientID,
		Status:    entities.AIGenStatusFailed,
		Error:     cause.Error(),
	}

	if patient == nil {
		reloaded, err := p.patients.GetByID(ctx, patientID)
		if err != nil {
			log.Error().Err(err).Str("patient_id", patientID).AnErr("cause", cause).
				Msg("Failed to record AI job failure")
			if apperrors.IsNotFound(err) {
				return JobOutcome{PatientID: patientID, Skipped: true}
			}
			return outcome
		}
		patient = reloaded
	}

	now := p.now()
	next := p.schedule.Next(now, patient.AI.AIRetryCount)
	state := patient.AI.WithFailure(next, cause.Error())

	version, err := p.patients.UpdateAIState(ctx, patientID, patient.Version, state)
	if err != nil {
		if apperrors.IsConflict(err) {
			return p.discarded(patientID, err)
		}
		// Nothing was stored, so no retry is scheduled.
		log.Error().Err(err).Str("patient_id", patientID).AnErr("cause", cause).
			Msg("Failed to record AI job failure")
		return outcome
	}

	patient.AI = state
	patient.Version = version
	p.notify(ctx, patient)

	outcome.RetryCount = state.AIRetryCount
	outcome.NextRetryAt = state.AINextRetryAt
	return outcome
}

func (p *AIJobProcessor) discarded(patientID string, err error) JobOutcome {
	log.Warn().Err(err).Str("patient_id", patientID).Msg("Newer AI state already stored, discarding stale write")
	return JobOutcome{PatientID: patientID, Discarded: true}
}

// notify runs the best-effort follow-ups of a stored AI state change.
func (p *AIJobProcessor) notify(ctx context.Context, patient *entities.Patient) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if p.cache != nil {
		if err := p.cache.Delete(ctx, providers.PatientAIViewCacheKey(patient.ID)); err != nil {
			log.Warn().Err(err).Str("patient_id", patient.ID).Msg("Failed to invalidate AI view cache")
		}
	}

	if p.insights != nil && patient.AI.AIGenStatus == entities.AIGenStatusSuccess {
		if err := p.insights.Index(ctx, entities.NewPatientInsight(patient, patient.AI)); err != nil {
			log.Warn().Err(err).Str("patient_id", patient.ID).Msg("Failed to index patient insight")
		}
	}

	if p.eventBus != nil {
		event := entities.NewAIJobEvent(patient.ID, patient.AI, p.now())
		for _, channel := range []string{entities.AIJobEventsChannel, entities.PatientAIJobChannel(patient.ID)} {
			if err := p.eventBus.Publish(ctx, channel, event); err != nil {
				log.Warn().Err(err).Str("patient_id", patient.ID).Str("channel", channel).Msg("Failed to publish AI job event")
			}
		}
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
