package controllers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"counselor/models"
	"counselor/services"
	"counselor/utils"
)

// AskHandler answers one counseling question.
func (c *Controller) AskHandler(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", nil)
		return
	}

	// Validate request
	if fields := c.validateRequest(req); fields != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Question is required", Fields: fields})
		return
	}

	// Get response from chatbot service
	resp, err := c.chatbot.Ask(r.Context(), services.AskInput{
		Question: req.Question,
		History:  req.Turns(),
	})
	if err != nil {
		writeAskError(w, r, err)
		return
	}

	// Return JSON response
	writeJSON(w, http.StatusOK, resp)
}

// writeAskError renders a pipeline failure using the shared failure table.
func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	failure := services.ClassifyFailure(err)
	utils.GetLogger(r.Context()).Error("ask failed",
		zap.Int("status", failure.Status),
		zap.String("message", failure.Message),
		zap.Error(err))
	writeError(w, failure.Status, failure.Message, failure.Details)
}
