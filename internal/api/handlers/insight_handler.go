package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/smartqrhealth/backend/internal/domain/repositories"
)

// InsightSearcher searches indexed patient insights
type InsightSearcher interface {
	Search(ctx context.Context, params repositories.InsightSearchParams) (*repositories.InsightSearchResult, error)
}

// InsightHandler serves patient insight search
type InsightHandler struct {
	search InsightSearcher
}

// NewInsightHandler creates a new insight handler
func NewInsightHandler(search InsightSearcher) *InsightHandler {
	return &InsightHandler{search: search}
}

// Search handles GET /api/insights/search?q=&risk=&limit=&offset=
func (h *InsightHandler) Search(c echo.Context) error {
	params := repositories.InsightSearchParams{
		Query:     c.QueryParam("q"),
		RiskLevel: c.QueryParam("risk"),
	}

	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return respondWithError(c, http.StatusBadRequest, "invalid limit parameter")
		}
		params.Limit = limit
	}
	if v := c.QueryParam("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return respondWithError(c, http.StatusBadRequest, "invalid offset parameter")
		}
		params.Offset = offset
	}

	result, err := h.search.Search(c.Request().Context(), params)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
