package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

// ReportStore implements ReportRepository over a map
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]*entities.Report
}

var _ repositories.ReportRepository = (*ReportStore)(nil)

// NewReportStore creates an empty store
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]*entities.Report)}
}

// Put inserts or replaces a report
func (s *ReportStore) Put(r *entities.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.reports[r.ID] = cloneReport(r)
}

// GetByID retrieves a copy of a report
func (s *ReportStore) GetByID(ctx context.Context, id string) (*entities.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("report not found")
	}
	return cloneReport(r), nil
}

// GetLatestWithFile returns the newest report with a file reference
func (s *ReportStore) GetLatestWithFile(ctx context.Context, patientID string) (*entities.Report, error) {
	for _, r := range s.byPatient(patientID) {
		if r.HasFile() {
			return r, nil
		}
	}
	return nil, nil
}

// ListRecentByPatient returns up to limit reports, newest first
func (s *ReportStore) ListRecentByPatient(ctx context.Context, patientID string, limit int) ([]*entities.Report, error) {
	reports := s.byPatient(patientID)
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

// UpdateAnalysis stores the AI-derived fields of a report
func (s *ReportStore) UpdateAnalysis(ctx context.Context, report *entities.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reports[report.ID]
	if !ok {
		return apperrors.NewNotFoundError("report not found")
	}
	existing.AICategory = report.AICategory
	existing.Parameters = append([]entities.Parameter(nil), report.Parameters...)
	existing.AISummary = report.AISummary
	existing.RiskLevel = report.RiskLevel
	existing.AIHealthSuggestions = cloneStrings(report.AIHealthSuggestions)
	existing.AIRaw = append([]byte(nil), report.AIRaw...)
	existing.AIUpdatedAt = cloneTime(report.AIUpdatedAt)
	existing.Status = report.Status
	existing.UpdatedAt = time.Now()
	return nil
}

// MarkFailed sets the report status to FAILED
func (s *ReportStore) MarkFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reports[id]
	if !ok {
		return apperrors.NewNotFoundError("report not found")
	}
	existing.Status = entities.ReportStatusFailed
	existing.UpdatedAt = time.Now()
	return nil
}

func (s *ReportStore) byPatient(patientID string) []*entities.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := []*entities.Report{}
	for _, r := range s.reports {
		if r.PatientID == patientID {
			reports = append(reports, cloneReport(r))
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	return reports
}

func cloneReport(r *entities.Report) *entities.Report {
	c := *r
	c.Parameters = append([]entities.Parameter(nil), r.Parameters...)
	c.AIHealthSuggestions = cloneStrings(r.AIHealthSuggestions)
	c.AIRaw = append([]byte(nil), r.AIRaw...)
	c.AIUpdatedAt = cloneTime(r.AIUpdatedAt)
	return &c
}
