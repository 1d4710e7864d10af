package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"counselor/models"
	"counselor/services"
	"counselor/utils"
)

const defaultSearchLimit = 5

// SearchHandler runs a semantic search over the corpus index
func (c *Controller) SearchHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Parse request body
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", nil)
		return
	}

	// Validate request
	if fields := c.validateRequest(req); fields != nil {
		message := "Invalid search request"
		if _, ok := fields["query"]; ok {
			message = "Query is required"
		}
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: message, Fields: fields})
		return
	}

	if !c.index.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "Semantic search is disabled", c.index.GetStatus()["note"])
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}

	// Perform search, rebuilding the index first if the corpus changed
	results, err := c.index.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		if errors.Is(err, services.ErrIndexDisabled) {
			writeError(w, http.StatusServiceUnavailable, "Semantic search is disabled", nil)
			return
		}
		utils.GetLogger(r.Context()).Error("search failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Search failed", err.Error())
		return
	}

	// Return JSON response
	writeJSON(w, http.StatusOK, models.SearchResponse{
		BaseResponse: models.BaseResponse{Status: models.StatusSuccess, Timestamp: time.Now()},
		Query:        req.Query,
		Results:      results,
		Count:        len(results),
		Duration:     time.Since(start).String(),
	})
}
