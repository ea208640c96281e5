package api

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger returns the logger RequestIDMiddleware attached to r, or
// the global logger tagged with r's method and path.
func RequestLogger(r *http.Request) *zerolog.Logger {
	if r == nil {
		return &log.Logger
	}
	if logger := zerolog.Ctx(r.Context()); logger.GetLevel() != zerolog.Disabled {
		return logger
	}

	logger := requestLogger(r, "")
	return &logger
}

func requestLogger(r *http.Request, requestID string) zerolog.Logger {
	ctx := log.With().
		Str("method", r.Method).
		Str("path", r.URL.Path)
	if requestID != "" {
		ctx = ctx.Str("request_id", requestID)
	}
	return ctx.Logger()
}
