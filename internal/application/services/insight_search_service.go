package services

import (
	"context"
	"strings"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

const (
	defaultInsightLimit = 20
	maxInsightLimit     = 100
)

// InsightSearchService searches indexed patient insights
type InsightSearchService struct {
	repo repositories.InsightSearchRepository
}

// NewInsightSearchService creates a new insight search service. repo may be nil
// when search is disabled.
func NewInsightSearchService(repo repositories.InsightSearchRepository) *InsightSearchService {
	return &InsightSearchService{repo: repo}
}

// Search validates params and runs the search
func (s *InsightSearchService) Search(ctx context.Context, params repositories.InsightSearchParams) (*repositories.InsightSearchResult, error) {
	if s.repo == nil {
		return nil, apperrors.NewUnavailableError("insight search is not enabled")
	}

	params.Query = strings.TrimSpace(params.Query)
	if params.RiskLevel != "" {
		risk, ok := entities.ParseRiskLevel(params.RiskLevel)
		if !ok {
			return nil, apperrors.NewValidationError("risk must be one of Low, Medium, High")
		}
		params.RiskLevel = string(risk)
	}
	if params.Limit <= 0 {
		params.Limit = defaultInsightLimit
	}
	if params.Limit > maxInsightLimit {
		params.Limit = maxInsightLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	return s.repo.Search(ctx, params)
}
