package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/adapters/cache"
	"github.com/smartqrhealth/backend/internal/adapters/database"
	"github.com/smartqrhealth/backend/internal/adapters/documents"
	"github.com/smartqrhealth/backend/internal/adapters/events"
	"github.com/smartqrhealth/backend/internal/adapters/memory"
	"github.com/smartqrhealth/backend/internal/adapters/search"
	"github.com/smartqrhealth/backend/internal/application/services"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/openai"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/postgres"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/redis"
	"github.com/smartqrhealth/backend/internal/infrastructure/clients/typesense"
	"github.com/smartqrhealth/backend/internal/infrastructure/observability"
	"github.com/smartqrhealth/backend/pkg/config"
)

// app holds the wired dependencies shared by every command
type app struct {
	cfg     *config.Config
	metrics *observability.Metrics

	patients repositories.PatientRepository
	reports  repositories.ReportRepository
	eventBus providers.EventBus
	cache    providers.CacheProvider
	insights repositories.InsightSearchRepository
	ai       providers.AIModelProvider

	documents *documents.LocalStore
	extractor documents.PDFExtractor

	processor  *services.AIJobProcessor
	worker     *services.AIRetryWorker
	analysis   *services.ReportAnalysisService
	validation *services.ReportValidationService
	assistant  *services.PatientAssistantService
	views      *services.PatientAIViewService
	search     *services.InsightSearchService

	closers []func(context.Context) error
}

// loadConfig loads configuration and initializes the global logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env, cfg.Logging)
	return cfg, nil
}

// newApp connects to the configured backends and builds the services.
// Optional backends that fail to connect are logged and skipped.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			a.closers = append(a.closers, shutdown)
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	a.metrics = metrics

	if err := a.initStorage(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	a.initRedis(ctx)
	a.initSearch(ctx)

	if err := a.initAI(); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	a.buildServices()
	return a, nil
}

func (a *app) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.patients = memory.NewPatientStore()
		a.reports = memory.NewReportStore()
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
	default:
		pg, err := postgres.NewClient(ctx, &a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
		a.patients = database.NewPatientAdapter(pg)
		a.reports = database.NewReportAdapter(pg)
	}

	a.documents = documents.NewLocalStore(a.cfg.Storage.UploadsDir)
	a.extractor = documents.NewPDFExtractor()
	return nil
}

func (a *app) initRedis(ctx context.Context) {
	if !a.cfg.Redis.Enabled {
		a.eventBus = events.NewLocalEventBus()
		a.closers = append(a.closers, func(context.Context) error { return a.eventBus.Close() })
		return
	}

	client, err := redis.NewClient(ctx, &a.cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-process events without caching")
		a.eventBus = events.NewLocalEventBus()
		a.closers = append(a.closers, func(context.Context) error { return a.eventBus.Close() })
		return
	}

	a.cache = cache.NewRedisAdapter(client)
	a.eventBus = events.NewRedisEventBus(client)
	// Registered first so it closes after the bus.
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.closers = append(a.closers, func(context.Context) error { return a.eventBus.Close() })
}

func (a *app) initSearch(ctx context.Context) {
	if !a.cfg.Typesense.Enabled {
		return
	}

	client, err := typesense.NewClient(ctx, &a.cfg.Typesense)
	if err != nil {
		log.Warn().Err(err).Msg("Typesense unavailable, insight search disabled")
		return
	}

	adapter := search.NewTypesenseAdapter(client)
	if err := adapter.InitSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize insight collection, insight search disabled")
		return
	}
	a.insights = adapter
}

func (a *app) initAI() error {
	if a.cfg.OpenAI.APIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, AI jobs will fail and be retried")
		return nil
	}

	client, err := openai.NewClient(&a.cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	a.ai = client
	return nil
}

func (a *app) buildServices() {
	cfg := a.cfg

	generator := services.NewSummaryGenerator(a.ai, services.SummaryGeneratorConfig{
		Model:          cfg.OpenAI.Model,
		Temperature:    cfg.OpenAI.Temperature,
		MaxTokens:      cfg.OpenAI.MaxTokens,
		MaxReportChars: cfg.AIJobs.MaxReportChars,
	})

	a.processor = services.NewAIJobProcessor(a.patients, a.reports, a.documents, a.extractor, generator)
	a.processor.SetEventBus(a.eventBus)
	a.processor.SetMetrics(a.metrics)
	if a.cache != nil {
		a.processor.SetCache(a.cache)
	}
	if a.insights != nil {
		a.processor.SetInsightIndex(a.insights)
	}

	a.worker = services.NewAIRetryWorker(a.patients, a.processor, services.RetryWorkerConfig{
		StartupDelay: cfg.AIJobs.RetryStartupDelay,
		Interval:     cfg.AIJobs.RetryInterval,
		BatchSize:    cfg.AIJobs.RetryBatchSize,
	})
	a.worker.SetMetrics(a.metrics)

	analyzer := services.NewReportAnalyzer(a.ai, a.extractor, services.ReportAnalyzerConfig{
		Model:          cfg.OpenAI.Model,
		VisionModel:    cfg.OpenAI.VisionModel,
		Temperature:    cfg.OpenAI.Temperature,
		MaxReportChars: cfg.AIJobs.MaxReportChars,
	})
	a.analysis = services.NewReportAnalysisService(a.reports, a.documents, analyzer, a.processor)
	a.analysis.SetMetrics(a.metrics)

	a.validation = services.NewReportValidationService(a.patients, a.reports, a.ai, cfg.OpenAI.AssistantModel)
	a.assistant = services.NewPatientAssistantService(a.patients, a.reports, a.ai, cfg.OpenAI.AssistantModel)

	a.views = services.NewPatientAIViewService(a.patients)
	if a.cache != nil {
		a.views.SetCache(a.cache, cfg.Redis.ViewCacheTTL)
	}

	a.search = services.NewInsightSearchService(a.insights)
}

// Close releases backends in reverse order of creation
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.closers[i](closeCtx); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
		cancel()
	}
	a.closers = nil
}
