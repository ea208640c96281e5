// Package detect identifies the technologies behind a web page by running
// every signature rule against the page's URL, headers, HTML and meta tags.
package detect

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/codinguncut/builtwith/internal/crawler"
	"github.com/codinguncut/builtwith/internal/extract"
	"github.com/codinguncut/builtwith/internal/observability"
	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errNoFetcher = errors.New("no fetcher configured")

const (
	DefaultUserAgent = "builtwith"
	DefaultTimeout   = 30 * time.Second
)

// Fetcher retrieves a page. method is GET or HEAD.
type Fetcher interface {
	Fetch(ctx context.Context, url, method, userAgent string) (*crawler.Page, error)
}

// Request describes the page to analyse. A nil Headers or HTML means the
// caller does not have it and the Detector fetches it.
type Request struct {
	URL     string
	Headers map[string]string
	HTML    *string
}

// Detector runs detections against a shared signature store. It holds no
// per-call state and is safe for concurrent use.
type Detector struct {
	store     *signatures.Store
	fetcher   Fetcher
	userAgent string
	timeout   time.Duration
}

// Option configures a Detector.
type Option func(*Detector)

// WithUserAgent sets the User-Agent sent when fetching pages.
func WithUserAgent(userAgent string) Option {
	return func(d *Detector) {
		if userAgent != "" {
			d.userAgent = userAgent
		}
	}
}

// WithTimeout bounds each fetch. Zero or negative leaves the default.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// New creates a Detector. A nil fetcher disables fetching: requests missing
// headers or HTML come back partial.
func New(store *signatures.Store, fetcher Fetcher, opts ...Option) *Detector {
	d := &Detector{
		store:     store,
		fetcher:   fetcher,
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store returns the signature store the detector matches against.
func (d *Detector) Store() *signatures.Store {
	return d.store
}

// DetectURL fetches url and detects its technologies.
func (d *Detector) DetectURL(ctx context.Context, url string) *Result {
	return d.Detect(ctx, Request{URL: url})
}

// Detect analyses one page. It never fails: a fetch that cannot complete is
// logged and marks the result Partial, and detection continues with the
// signals that are available.
func (d *Detector) Detect(ctx context.Context, req Request) *Result {
	start := time.Now()

	ctx, span := observability.StartDetectionSpan(ctx, observability.DetectionSpanInfo{
		URL:        req.URL,
		HasHeaders: req.Headers != nil,
		HasHTML:    req.HTML != nil,
	})
	defer span.End()

	result := NewResult(d.store, req.URL)
	result.addAll(extract.URL(d.store.Rules(signatures.SignalURL), req.URL))

	headers := req.Headers
	var html string
	if req.HTML != nil {
		html = *req.HTML
	}

	if req.Headers == nil || req.HTML == nil {
		page, err := d.fetch(ctx, req)
		if err != nil {
			result.Partial = true
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			log.Warn().
				Err(err).
				Str("url", req.URL).
				Msg("Fetch failed, continuing with available signals")
		}
		// An undecodable body still comes back with its headers.
		if page != nil {
			if headers == nil {
				headers = page.Headers
			}
			if req.HTML == nil {
				html = page.Body
			}
		}
	}

	if len(headers) > 0 {
		result.addAll(extract.Headers(d.store.Rules(signatures.SignalHeaders), headers))
	}

	if html != "" {
		result.addAll(extract.HTML(d.store.RulesFor(signatures.SignalHTML, signatures.SignalScript), html))
		result.addAll(extract.Meta(d.store.Rules(signatures.SignalMeta), extract.ParseMeta(html)))
	}

	names := result.Names()
	span.SetAttributes(
		attribute.Int("detection.technologies", len(names)),
		attribute.Bool("detection.partial", result.Partial),
	)
	observability.RecordDetection(ctx, observability.DetectionMetrics{
		Duration:     time.Since(start),
		Partial:      result.Partial,
		Technologies: names,
	})

	log.Debug().
		Str("url", req.URL).
		Int("technologies", len(names)).
		Bool("partial", result.Partial).
		Dur("duration", time.Since(start)).
		Msg("Detection completed")

	return result
}

// fetch retrieves whatever req is missing. When only headers are missing a
// HEAD request is enough.
func (d *Detector) fetch(ctx context.Context, req Request) (*crawler.Page, error) {
	if d.fetcher == nil {
		return nil, errNoFetcher
	}

	method := http.MethodGet
	if req.HTML != nil {
		method = http.MethodHead
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	page, err := d.fetcher.Fetch(ctx, req.URL, method, d.userAgent)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordFetch(ctx, observability.FetchMetrics{
		Method:   method,
		Outcome:  outcome,
		Duration: time.Since(start),
	})

	return page, err
}

func (r *Result) addAll(names []string) {
	for _, name := range names {
		r.Add(name)
	}
}
