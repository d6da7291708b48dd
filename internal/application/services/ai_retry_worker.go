package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/domain/repositories"
	"github.com/smartqrhealth/backend/internal/infrastructure/observability"
)

// PatientJobRunner runs one AI job for a patient
type PatientJobRunner interface {
	ProcessPatientJob(ctx context.Context, patientID string) JobOutcome
}

// RetryWorkerConfig controls the retry scan schedule
type RetryWorkerConfig struct {
	StartupDelay time.Duration
	Interval     time.Duration
	BatchSize    int
}

// ScanResult summarises one retry scan
type ScanResult struct {
	Candidates int          `json:"candidates"`
	Outcomes   []JobOutcome `json:"outcomes"`
}

// AIRetryWorker periodically re-runs failed AI jobs whose retry time has passed.
// It is owned by the process entrypoint: Start once, Stop on shutdown.
type AIRetryWorker struct {
	patients repositories.PatientRepository
	jobs     PatientJobRunner
	cfg      RetryWorkerConfig
	metrics  *observability.Metrics
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAIRetryWorker creates a new retry worker
func NewAIRetryWorker(patients repositories.PatientRepository, jobs PatientJobRunner, cfg RetryWorkerConfig) *AIRetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	return &AIRetryWorker{
		patients: patients,
		jobs:     jobs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetMetrics sets the metrics recorder
func (w *AIRetryWorker) SetMetrics(metrics *observability.Metrics) {
	w.metrics = metrics
}

// Start launches the scan loop. Calling it while running is a no-op.
func (w *AIRetryWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.loop(loopCtx, w.done)

	log.Info().
		Dur("startup_delay", w.cfg.StartupDelay).
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("AI retry worker started")
}

// Stop cancels the loop and waits for an in-flight scan, bounded by ctx.
func (w *AIRetryWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	select {
	case <-done:
		log.Info().Msg("AI retry worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry worker did not stop: %w", ctx.Err())
	}
}

// Running reports whether the scan loop is active
func (w *AIRetryWorker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *AIRetryWorker) loop(ctx context.Context, done chan struct{}) {
	// A cancelled parent ends the loop without Stop; clear the state so a
	// later Start runs again.
	defer func() {
		w.mu.Lock()
		if w.done == done {
			w.running = false
			w.cancel = nil
		}
		w.mu.Unlock()
		close(done)
	}()

	delay := time.NewTimer(w.cfg.StartupDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		return
	case <-delay.C:
	}

	w.tick(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Scans run on this goroutine so ticks cannot overlap.
			w.tick(ctx)
		}
	}
}

func (w *AIRetryWorker) tick(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("AI retry scan failed")
	}
}

// RunOnce performs a single scan and processes each due patient in order.
func (w *AIRetryWorker) RunOnce(ctx context.Context) (*ScanResult, error) {
	ctx, span := observability.StartSpan(ctx, "ai.retry.scan")
	defer span.End()

	candidates, err := w.patients.ListDueForRetry(ctx, w.now(), w.cfg.BatchSize)
	observability.RecordRetryScan(ctx, w.metrics, len(candidates), err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to list patients due for retry: %w", err)
	}

	result := &ScanResult{Candidates: len(candidates), Outcomes: make([]JobOutcome, 0, len(candidates))}
	if len(candidates) == 0 {
		return result, nil
	}

	log.Info().Int("candidates", len(candidates)).Msg("AI retry worker found candidates")

	jobCtx := WithTrigger(ctx, TriggerRetry)
	for _, patient := range candidates {
		if ctx.Err() != nil {
			break
		}
		result.Outcomes = append(result.Outcomes, w.jobs.ProcessPatientJob(jobCtx, patient.ID))
	}
	return result, nil
}
