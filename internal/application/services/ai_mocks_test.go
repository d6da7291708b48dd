package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/smartqrhealth/backend/internal/adapters/memory"
	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
)

// Mocks

type mockAIModel struct {
	mock.Mock
}

func (m *mockAIModel) Complete(ctx context.Context, req providers.AICompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockAIModel) UploadDocument(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

func (m *mockAIModel) DeleteDocument(ctx context.Context, fileID string) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}

type stubDocumentStore struct {
	docs map[string]*providers.StoredDocument
}

func (s *stubDocumentStore) Open(ctx context.Context, fileURL string) (*providers.StoredDocument, error) {
	doc, ok := s.docs[fileURL]
	if !ok {
		return nil, providers.ErrDocumentNotFound
	}
	return doc, nil
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	return s.text, s.err
}

type recordingCache struct {
	mu      sync.Mutex
	items   map[string][]byte
	deleted []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{items: make(map[string][]byte)}
}

func (c *recordingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	return v, nil
}

func (c *recordingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *recordingCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events map[string][]*entities.AIJobEvent
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(map[string][]*entities.AIJobEvent)}
}

func (b *recordingBus) Publish(ctx context.Context, channel string, event *entities.AIJobEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[channel] = append(b.events[channel], event)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.AIJobEvent, error) {
	ch := make(chan *entities.AIJobEvent)
	close(ch)
	return ch, nil
}

func (b *recordingBus) Close() error { return nil }

type recordingIndex struct {
	mu      sync.Mutex
	indexed []*entities.PatientInsight
}

func (r *recordingIndex) Index(ctx context.Context, insight *entities.PatientInsight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, insight)
	return nil
}

func (r *recordingIndex) Search(ctx context.Context, params repositories.InsightSearchParams) (*repositories.InsightSearchResult, error) {
	return &repositories.InsightSearchResult{}, nil
}

// Fixtures

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

const validSummaryJSON = `{
  "aiSummary": "Your profile looks stable. Keep up regular activity and hydration.",
  "aiRiskLevel": "Low",
  "aiKeyIssues": ["Penicillin allergy", " "],
  "aiLifestyleAdvice": ["Walk 30 minutes a day", "Drink enough water"],
  "aiAnalysis": {
    "reportType": "General Profile",
    "parameters": [],
    "notes": "Profile based analysis"
  },
  "aiUpdatedAt": "1999-01-01T00:00:00Z"
}`

const validReportJSON = `{
  "reportType": "CBC",
  "parameters": [
    {"name": "Hemoglobin", "value": 10.2, "unit": "g/dL", "normalRange": "12-16", "status": "LOW"},
    {"name": "WBC", "value": "7000", "unit": "/uL", "normalRange": "4000-11000", "status": "NORMAL"},
    {"name": "Platelets", "value": 480000, "unit": "/uL", "normalRange": "150000-450000", "status": "high"}
  ],
  "summary": "Hemoglobin is slightly low and platelets are a little high.",
  "riskLevel": "Medium",
  "lifestyleAdvice": ["Eat iron rich foods", "Follow up in 4 weeks"]
}`

func newTestPatient(id string) *entities.Patient {
	return &entities.Patient{
		ID:                id,
		FullName:          "Asha Rao",
		Email:             "asha@example.com",
		Age:               34,
		Gender:            "Female",
		BloodGroup:        "O+",
		Allergies:         []string{"Penicillin", "None", " "},
		MedicalConditions: []string{},
		Medications:       nil,
		RiskLevel:         entities.RiskLevelLow,
		AI:                entities.PatientAIState{AIGenStatus: entities.AIGenStatusPending},
	}
}

func failedState(retryCount int, nextRetryAt time.Time) entities.PatientAIState {
	next := nextRetryAt
	return entities.PatientAIState{
		AIGenStatus:   entities.AIGenStatusFailed,
		AIRetryCount:  retryCount,
		AINextRetryAt: &next,
	}
}

type processorFixture struct {
	patients *memory.PatientStore
	reports  *memory.ReportStore
	docs     *stubDocumentStore
	ai       *mockAIModel
	bus      *recordingBus
	cache    *recordingCache
	index    *recordingIndex
	proc     *AIJobProcessor
}

func newProcessorFixture(extractor providers.TextExtractor) *processorFixture {
	f := &processorFixture{
		patients: memory.NewPatientStore(),
		reports:  memory.NewReportStore(),
		docs:     &stubDocumentStore{docs: map[string]*providers.StoredDocument{}},
		ai:       new(mockAIModel),
		bus:      newRecordingBus(),
		cache:    newRecordingCache(),
		index:    &recordingIndex{},
	}
	gen := NewSummaryGenerator(f.ai, SummaryGeneratorConfig{Model: "gpt-4o-mini", Temperature: 0.3})
	gen.now = func() time.Time { return fixedNow }

	f.proc = NewAIJobProcessor(f.patients, f.reports, f.docs, extractor, gen)
	f.proc.now = func() time.Time { return fixedNow }
	f.proc.SetEventBus(f.bus)
	f.proc.SetCache(f.cache)
	f.proc.SetInsightIndex(f.index)
	return f
}
