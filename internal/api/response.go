package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// SuccessResponse is the envelope for every successful API response
type SuccessResponse struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes data as JSON with the given status code
func WriteJSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		RequestLogger(r).Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteSuccess wraps data in the success envelope
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any, message string) {
	WriteJSON(w, r, SuccessResponse{
		Status:    "success",
		Data:      data,
		Message:   message,
		RequestID: GetRequestID(r),
	}, http.StatusOK)
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	Service      string `json:"service"`
	Version      string `json:"version,omitempty"`
	Technologies int    `json:"technologies"`
	History      bool   `json:"history"`
}

// WriteHealthy writes a health check response
func WriteHealthy(w http.ResponseWriter, r *http.Request, health HealthResponse) {
	health.Status = "healthy"
	health.Timestamp = time.Now().UTC().Format(time.RFC3339)
	WriteJSON(w, r, health, http.StatusOK)
}
