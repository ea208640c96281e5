// Package util holds small helpers shared by the command line and the API.
package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvalidURL is returned when user input cannot be turned into an
// absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid URL")

// NormaliseURL turns user input into an absolute URL suitable for detection.
// Surrounding space is trimmed and a missing scheme defaults to https.
// An explicit http scheme is kept since the page served over http may differ.
func NormaliseURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		log.Debug().Str("url", rawURL).Err(err).Msg("Invalid URL format")
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	parsedURL.Scheme = strings.ToLower(parsedURL.Scheme)
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsedURL.Scheme)
	}
	if parsedURL.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	parsedURL.Host = normaliseHostPort(strings.ToLower(parsedURL.Host), parsedURL.Scheme)
	if parsedURL.Path == "" {
		parsedURL.Path = "/"
	}

	return parsedURL.String(), nil
}

// NormaliseDomain removes the scheme, www. and a trailing slash, giving a
// short label for output.
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, "/")
	return domain
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
