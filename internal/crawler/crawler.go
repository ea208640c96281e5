package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrNonSuccessStatus is returned for responses outside the 2xx range.
	ErrNonSuccessStatus = errors.New("non-success status code")
	// ErrUndecodableBody is returned when a body cannot be decoded to UTF-8 text.
	ErrUndecodableBody = errors.New("response body is not valid text")
	// ErrUnsupportedMethod is returned for methods other than GET and HEAD.
	ErrUnsupportedMethod = errors.New("unsupported fetch method")
)

const (
	acceptHeader         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	acceptLanguageHeader = "en-US,en;q=0.9"
)

// Crawler fetches single pages. GET requests go through colly so the body
// is charset-decoded; HEAD requests use the shared HTTP client directly.
type Crawler struct {
	config *Config
	colly  *colly.Collector
	client *http.Client
}

// New creates a new Crawler instance with the given configuration.
// If config is nil, default configuration is used
func New(config *Config) *Crawler {
	if config == nil {
		config = DefaultConfig()
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !config.SkipSSRFCheck {
		dialer.Control = guardDial
	}

	baseTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	httpClient := &http.Client{
		Timeout:   config.DefaultTimeout,
		Transport: otelhttp.NewTransport(baseTransport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			return nil
		},
	}

	c := colly.NewCollector(
		colly.UserAgent(config.UserAgent),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.MaxBodySize(config.MaxBodySize),
		colly.IgnoreRobotsTxt(),
	)
	c.SetClient(httpClient)
	c.SetRedirectHandler(httpClient.CheckRedirect)
	// Status handling happens in Fetch so every 2xx is accepted.
	c.ParseHTTPErrorResponse = true

	return &Crawler{
		config: config,
		colly:  c,
		client: httpClient,
	}
}

// Config returns the Crawler's configuration.
func (c *Crawler) Config() *Config {
	return c.config
}

// Fetch performs one GET or HEAD request for targetURL. An empty userAgent
// falls back to the configured one. Non-2xx responses and bodies that are
// not valid UTF-8 after charset decoding are errors; for the latter the page
// is returned too, with its headers and an empty body. There are no retries.
func (c *Crawler) Fetch(ctx context.Context, targetURL, method, userAgent string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateURL(targetURL); err != nil {
		return nil, err
	}
	if userAgent == "" {
		userAgent = c.config.UserAgent
	}

	switch method {
	case http.MethodGet:
		return c.get(ctx, targetURL, userAgent)
	case http.MethodHead:
		return c.head(ctx, targetURL, userAgent)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
}

func validateURL(targetURL string) error {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", targetURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return fmt.Errorf("invalid URL format: %s", targetURL)
	}
	return nil
}

func (c *Crawler) get(ctx context.Context, targetURL, userAgent string) (*Page, error) {
	start := time.Now()
	var (
		page     *Page
		fetchErr error
		bodyErr  error
	)

	// Clones share the transport but start without callbacks. The context
	// reaches the HTTP request so cancelling it aborts the transfer.
	clone := c.colly.Clone()
	clone.Context = ctx

	clone.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
		r.Headers.Set("Accept", acceptHeader)
		r.Headers.Set("Accept-Language", acceptLanguageHeader)

		log.Debug().
			Str("url", r.URL.String()).
			Msg("Crawler sending request")
	})

	clone.OnResponse(func(r *colly.Response) {
		page = &Page{
			URL:          r.Request.URL.String(),
			Method:       http.MethodGet,
			StatusCode:   r.StatusCode,
			Headers:      flattenHeaders(*r.Headers),
			ResponseTime: time.Since(start),
		}

		body := r.Body
		if limit := c.config.MaxBodySize; limit > 0 && len(body) >= limit {
			body = trimPartialRune(body)
		}
		if !utf8.Valid(body) {
			bodyErr = fmt.Errorf("%w: %s", ErrUndecodableBody, r.Headers.Get("Content-Type"))
			return
		}
		page.Body = string(body)
	})

	clone.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	// Visit blocks, so run it in a goroutine to honour cancellation.
	done := make(chan error, 1)
	go func() {
		done <- clone.Visit(targetURL)
	}()

	select {
	case err := <-done:
		if err != nil && fetchErr == nil {
			fetchErr = err
		}
	case <-ctx.Done():
		log.Debug().
			Err(ctx.Err()).
			Str("url", targetURL).
			Msg("Fetch cancelled due to context")
		return nil, ctx.Err()
	}

	if fetchErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("GET %s: %w", targetURL, fetchErr)
	}
	if page == nil {
		return nil, fmt.Errorf("GET %s: no response received", targetURL)
	}

	page, err := checkStatus(page)
	if err != nil {
		return nil, err
	}
	if bodyErr != nil {
		// Headers are still usable when the body is not.
		return page, fmt.Errorf("GET %s: %w", targetURL, bodyErr)
	}
	return page, nil
}

// trimPartialRune drops a multi-byte character cut short by the body size
// limit.
func trimPartialRune(body []byte) []byte {
	for i := len(body) - 1; i >= 0 && i >= len(body)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(body[i]) {
			continue
		}
		if !utf8.FullRune(body[i:]) {
			return body[:i]
		}
		break
	}
	return body
}

func (c *Crawler) head(ctx context.Context, targetURL, userAgent string) (*Page, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, targetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguageHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("HEAD %s: %w", targetURL, err)
	}
	defer resp.Body.Close()

	return checkStatus(&Page{
		URL:          resp.Request.URL.String(),
		Method:       http.MethodHead,
		StatusCode:   resp.StatusCode,
		Headers:      flattenHeaders(resp.Header),
		ResponseTime: time.Since(start),
	})
}

func checkStatus(page *Page) (*Page, error) {
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		log.Debug().
			Int("status", page.StatusCode).
			Str("url", page.URL).
			Str("method", page.Method).
			Msg("Fetch returned non-success status")
		return nil, fmt.Errorf("%s %s: %w: %d", page.Method, page.URL, ErrNonSuccessStatus, page.StatusCode)
	}

	log.Debug().
		Int("status", page.StatusCode).
		Str("url", page.URL).
		Str("method", page.Method).
		Dur("duration", page.ResponseTime).
		Msg("Fetch completed")

	return page, nil
}
