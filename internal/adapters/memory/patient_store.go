// Package memory provides in-process repositories for development mode and tests.
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

// PatientStore implements PatientRepository over a map
type PatientStore struct {
	mu       sync.RWMutex
	patients map[string]*entities.Patient
	writes   int
}

var _ repositories.PatientRepository = (*PatientStore)(nil)

// NewPatientStore creates an empty store
func NewPatientStore() *PatientStore {
	return &PatientStore{patients: make(map[string]*entities.Patient)}
}

// Put inserts or replaces a patient. The pipeline never calls it.
func (s *PatientStore) Put(p *entities.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = clonePatient(p)
}

// Writes returns how many AI-state writes have been accepted
func (s *PatientStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// GetByID retrieves a copy of a patient
func (s *PatientStore) GetByID(ctx context.Context, id string) (*entities.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("patient not found")
	}
	return clonePatient(p), nil
}

// ListDueForRetry returns due failed patients ordered by next retry time
func (s *PatientStore) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*entities.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := []*entities.Patient{}
	for _, p := range s.patients {
		if p.AI.DueForRetry(now) {
			due = append(due, clonePatient(p))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].AI.AINextRetryAt.Before(*due[j].AI.AINextRetryAt)
	})
	if limit <= 0 {
		return []*entities.Patient{}, nil
	}
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// UpdateAIState replaces the AI state when the version matches
func (s *PatientStore) UpdateAIState(ctx context.Context, id string, expectedVersion int64, state entities.PatientAIState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return 0, apperrors.NewNotFoundError("patient not found")
	}
	if p.Version != expectedVersion {
		return 0, apperrors.NewConflictError("patient ai state was modified concurrently")
	}

	p.AI = cloneAIState(state)
	p.Version++
	p.UpdatedAt = time.Now()
	s.writes++
	return p.Version, nil
}

func clonePatient(p *entities.Patient) *entities.Patient {
	c := *p
	c.Allergies = cloneStrings(p.Allergies)
	c.MedicalConditions = cloneStrings(p.MedicalConditions)
	c.Medications = cloneStrings(p.Medications)
	c.AI = cloneAIState(p.AI)
	return &c
}

func cloneAIState(s entities.PatientAIState) entities.PatientAIState {
	c := s
	c.AIKeyIssues = cloneStrings(s.AIKeyIssues)
	c.AILifestyleAdvice = cloneStrings(s.AILifestyleAdvice)
	if s.AISummary != nil {
		v := *s.AISummary
		c.AISummary = &v
	}
	if s.AIAnalysis != nil {
		a := *s.AIAnalysis
		a.Parameters = append([]entities.Parameter(nil), s.AIAnalysis.Parameters...)
		c.AIAnalysis = &a
	}
	c.AIUpdatedAt = cloneTime(s.AIUpdatedAt)
	c.AILastUpdatedAt = cloneTime(s.AILastUpdatedAt)
	c.AINextRetryAt = cloneTime(s.AINextRetryAt)
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
