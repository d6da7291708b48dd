package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	tsclient "github.com/smartqrhealth/backend/internal/infrastructure/clients/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
)

const collectionName = "patient_insights"

const defaultSearchLimit = 20

// TypesenseAdapter implements insight search using Typesense
type TypesenseAdapter struct {
	client *tsclient.Client
}

var _ repositories.InsightSearchRepository = (*TypesenseAdapter)(nil)

// NewTypesenseAdapter creates a new Typesense adapter
func NewTypesenseAdapter(client *tsclient.Client) *TypesenseAdapter {
	return &TypesenseAdapter{client: client}
}

// InitSchema ensures the collection exists
func (a *TypesenseAdapter) InitSchema(ctx context.Context) error {
	if _, err := a.client.Client().Collection(collectionName).Retrieve(ctx); err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: collectionName,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "full_name", Type: "string"},
			{Name: "ai_risk_level", Type: "string", Facet: pointer.True()},
			{Name: "ai_key_issues", Type: "string[]", Optional: pointer.True()},
			{Name: "issue_terms", Type: "string[]", Optional: pointer.True()},
			{Name: "ai_summary", Type: "string", Optional: pointer.True()},
			{Name: "updated_at", Type: "int64"},
		},
		DefaultSortingField: pointer.String("updated_at"),
	}

	if _, err := a.client.Client().Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("failed to create typesense collection: %w", err)
	}
	return nil
}

// Index upserts a patient's insight document
func (a *TypesenseAdapter) Index(ctx context.Context, insight *entities.PatientInsight) error {
	_, err := a.client.Client().Collection(collectionName).Documents().Upsert(ctx, buildInsightDocument(insight))
	if err != nil {
		return fmt.Errorf("failed to index patient insight: %w", err)
	}
	return nil
}

// Search finds insights matching the params
func (a *TypesenseAdapter) Search(ctx context.Context, params repositories.InsightSearchParams) (*repositories.InsightSearchResult, error) {
	result, err := a.client.Client().Collection(collectionName).Documents().Search(ctx, buildSearchParams(params))
	if err != nil {
		return nil, fmt.Errorf("failed to search patient insights: %w", err)
	}

	out := &repositories.InsightSearchResult{Insights: []*entities.PatientInsight{}}
	if result.Found != nil {
		out.TotalCount = *result.Found
	}
	if result.Hits == nil {
		return out, nil
	}
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		out.Insights = append(out.Insights, parseInsightDocument(*hit.Document))
	}
	return out, nil
}

func buildInsightDocument(insight *entities.PatientInsight) map[string]interface{} {
	issues := insight.AIKeyIssues
	if issues == nil {
		issues = []string{}
	}
	return map[string]interface{}{
		"id":            insight.PatientID,
		"full_name":     insight.FullName,
		"ai_risk_level": string(insight.AIRiskLevel),
		"ai_key_issues": issues,
		"issue_terms":   BuildIssueTerms(issues),
		"ai_summary":    insight.AISummary,
		"updated_at":    insight.UpdatedAt.Unix(),
	}
}

func buildSearchParams(params repositories.InsightSearchParams) *api.SearchCollectionParams {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	q := strings.TrimSpace(params.Query)
	if q == "" {
		q = "*"
	}

	sp := &api.SearchCollectionParams{
		Q:       pointer.String(q),
		QueryBy: pointer.String("issue_terms,ai_summary,full_name"),
		SortBy:  pointer.String("updated_at:desc"),
		Page:    pointer.Int(params.Offset/limit + 1),
		PerPage: pointer.Int(limit),
	}
	if risk, ok := entities.ParseRiskLevel(params.RiskLevel); ok {
		sp.FilterBy = pointer.String("ai_risk_level:=" + string(risk))
	}
	return sp
}

func parseInsightDocument(doc map[string]interface{}) *entities.PatientInsight {
	insight := &entities.PatientInsight{}
	insight.PatientID, _ = doc["id"].(string)
	insight.FullName, _ = doc["full_name"].(string)
	insight.AISummary, _ = doc["ai_summary"].(string)
	if risk, ok := doc["ai_risk_level"].(string); ok {
		insight.AIRiskLevel = entities.RiskLevel(risk)
	}
	if raw, ok := doc["ai_key_issues"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				insight.AIKeyIssues = append(insight.AIKeyIssues, s)
			}
		}
	}
	if ts, ok := doc["updated_at"].(float64); ok {
		insight.UpdatedAt = time.Unix(int64(ts), 0).UTC()
	}
	return insight
}
