package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Page is the outcome of a single successful fetch.
type Page struct {
	URL          string            `json:"url"` // final URL after redirects
	Method       string            `json:"method"`
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body,omitempty"` // empty for HEAD
	ResponseTime time.Duration     `json:"response_time"`
}

// flattenHeaders joins multi-valued headers with ", " and keeps the
// canonical header names.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
