// Package api serves technology detections over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/codinguncut/builtwith/internal/db"
	"github.com/codinguncut/builtwith/internal/detect"
	"github.com/codinguncut/builtwith/internal/util"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.1.0"

// maxRequestBody bounds POST /v1/detect bodies, which may carry a full page.
const maxRequestBody = 10 * 1024 * 1024

// HistoryStore persists detections. *db.DB satisfies it.
type HistoryStore interface {
	SaveDetection(ctx context.Context, result *detect.Result) (*db.Detection, error)
	ListDetections(ctx context.Context, url string, limit int) ([]db.Detection, error)
}

// Handler holds dependencies for API handlers
type Handler struct {
	Detector *detect.Detector
	// History is nil when no database is configured.
	History HistoryStore
}

// NewHandler creates a new API handler with dependencies
func NewHandler(detector *detect.Detector, history HistoryStore) *Handler {
	return &Handler{
		Detector: detector,
		History:  history,
	}
}

// SetupRoutes registers the API routes on mux
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/v1/categories", h.Categories)
	mux.HandleFunc("/v1/detect", h.DetectHandler)
	mux.HandleFunc("/v1/detections", h.Detections)
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, HealthResponse{
		Service:      "builtwith",
		Version:      Version,
		Technologies: h.Detector.Store().Len(),
		History:      h.History != nil,
	})
}

// CategoriesResponse lists the category table of the loaded signature database
type CategoriesResponse struct {
	Categories   map[int]string `json:"categories"`
	Technologies int            `json:"technologies"`
}

// Categories handles GET /v1/categories
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	store := h.Detector.Store()
	WriteSuccess(w, r, CategoriesResponse{
		Categories:   store.Categories(),
		Technologies: store.Len(),
	}, "")
}

// DetectRequest is the body of POST /v1/detect. Headers or HTML left out are
// fetched from the URL; an empty object or string counts as supplied.
type DetectRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	HTML    *string           `json:"html,omitempty"`
}

// DetectHandler routes /v1/detect by method
func (h *Handler) DetectHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.detectURL(w, r)
	case http.MethodPost:
		h.detectPage(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

// detectURL handles GET /v1/detect?url=...
func (h *Handler) detectURL(w http.ResponseWriter, r *http.Request) {
	pageURL, err := util.NormaliseURL(r.URL.Query().Get("url"))
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	h.runDetection(w, r, detect.Request{URL: pageURL})
}

// detectPage handles POST /v1/detect
func (h *Handler) detectPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			PayloadTooLarge(w, r, maxErr.Limit)
			return
		}
		BadRequest(w, r, "Invalid JSON request body")
		return
	}

	pageURL, err := util.NormaliseURL(req.URL)
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	h.runDetection(w, r, detect.Request{
		URL:     pageURL,
		Headers: req.Headers,
		HTML:    req.HTML,
	})
}

func (h *Handler) runDetection(w http.ResponseWriter, r *http.Request, req detect.Request) {
	result := h.Detector.Detect(r.Context(), req)

	if h.History != nil {
		if _, err := h.History.SaveDetection(r.Context(), result); err != nil {
			RequestLogger(r).Warn().
				Err(err).
				Str("url", result.URL).
				Msg("Failed to record detection history")
		}
	}

	WriteSuccess(w, r, result, "")
}

// DetectionsResponse is the history of one URL, newest first
type DetectionsResponse struct {
	URL        string         `json:"url"`
	Detections []db.Detection `json:"detections"`
}

// Detections handles GET /v1/detections?url=...&limit=...
func (h *Handler) Detections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	if h.History == nil {
		ServiceUnavailable(w, r, "Detection history is not configured")
		return
	}

	query := r.URL.Query()
	pageURL, err := util.NormaliseURL(query.Get("url"))
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			BadRequest(w, r, "limit must be a positive integer")
			return
		}
	}

	detections, err := h.History.ListDetections(r.Context(), pageURL, limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}
	if detections == nil {
		detections = []db.Detection{}
	}

	WriteSuccess(w, r, DetectionsResponse{
		URL:        pageURL,
		Detections: detections,
	}, "")
}
