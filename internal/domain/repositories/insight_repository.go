package repositories

import (
	"context"

	"github.com/smartqrhealth/backend/internal/domain/entities"
)

// InsightSearchRepository indexes and searches patient AI insights (e.g. Typesense)
type InsightSearchRepository interface {
	// Index upserts a patient's insight document
	Index(ctx context.Context, insight *entities.PatientInsight) error

	// Search finds insights matching the params
	Search(ctx context.Context, params InsightSearchParams) (*InsightSearchResult, error)
}

// InsightSearchParams defines the parameters for insight search
type InsightSearchParams struct {
	Query     string
	RiskLevel string
	Limit     int
	Offset    int
}

// InsightSearchResult is one page of matching insights
type InsightSearchResult struct {
	Insights   []*entities.PatientInsight `json:"insights"`
	TotalCount int                        `json:"total_count"`
}
