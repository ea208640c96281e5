package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseHelpers(t *testing.T) {
	tests := []struct {
		name         string
		testFunc     func(*httptest.ResponseRecorder, *http.Request)
		validateFunc func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name: "write_json_with_status",
			testFunc: func(w *httptest.ResponseRecorder, r *http.Request) {
				WriteJSON(w, r, map[string]string{"message": "test"}, http.StatusAccepted)
			},
			validateFunc: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, http.StatusAccepted, w.Code)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

				var result map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
				assert.Equal(t, "test", result["message"])
			},
		},
		{
			name: "write_success_with_data",
			testFunc: func(w *httptest.ResponseRecorder, r *http.Request) {
				WriteSuccess(w, r, map[string][]string{"CMS": {"WordPress"}}, "detected")
			},
			validateFunc: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, http.StatusOK, w.Code)

				var response SuccessResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "success", response.Status)
				assert.Equal(t, "detected", response.Message)

				dataMap, ok := response.Data.(map[string]any)
				require.True(t, ok, "response.Data should be map[string]any")
				assert.Equal(t, []any{"WordPress"}, dataMap["CMS"])
			},
		},
		{
			name: "write_success_omits_empty_message",
			testFunc: func(w *httptest.ResponseRecorder, r *http.Request) {
				WriteSuccess(w, r, map[string]string{"key": "value"}, "")
			},
			validateFunc: func(t *testing.T, w *httptest.ResponseRecorder) {
				var raw map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
				assert.NotContains(t, raw, "message")
				assert.Equal(t, "success", raw["status"])
			},
		},
		{
			name: "write_healthy",
			testFunc: func(w *httptest.ResponseRecorder, r *http.Request) {
				WriteHealthy(w, r, HealthResponse{Service: "builtwith", Version: "1.0.0", Technologies: 47})
			},
			validateFunc: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, http.StatusOK, w.Code)

				var response HealthResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "builtwith", response.Service)
				assert.Equal(t, "1.0.0", response.Version)
				assert.Equal(t, 47, response.Technologies)
				assert.False(t, response.History)

				_, err := time.Parse(time.RFC3339, response.Timestamp)
				assert.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/test", nil)

			tt.testFunc(w, r)
			tt.validateFunc(t, w)
		})
	}
}
