package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// DefaultFetchTimeout is the fixed deadline for one fetch, including any
// transient-error retries within it.
const DefaultFetchTimeout = 5000 * time.Millisecond

// Fetcher retrieves the raw payload of a feed URL.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

// FetcherConfig holds the tunables of the HTTP fetcher.
type FetcherConfig struct {
	// Timeout is the fixed per-fetch deadline. Defaults to DefaultFetchTimeout.
	Timeout time.Duration

	// ProxyURL enables the AllOrigins-style CORS proxy mode: the feed URL is
	// passed as a query parameter and the payload arrives wrapped in a JSON
	// envelope. Empty means fetch the feed URL directly.
	ProxyURL string

	// DisableCache asks the proxy not to serve cached payloads.
	DisableCache bool
}

// HTTPFetcher fetches feed payloads over HTTP. Connection-level failures
// are retried with exponential backoff until the fetch deadline runs out;
// HTTP-level failures are not retried.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	proxy   string
	noCache bool
}

func NewHTTPFetcher(config FetcherConfig) *HTTPFetcher {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{
		client:  &http.Client{},
		timeout: timeout,
		proxy:   config.ProxyURL,
		noCache: config.DisableCache,
	}
}

// proxyEnvelope is the JSON wrapper the CORS proxy returns.
type proxyEnvelope struct {
	Contents string `json:"contents"`
}

// Fetch retrieves the raw feed payload. Failures come back as *Error with
// KindNetwork, KindTimeout or KindEmptyResponse.
func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	requestURL, err := f.requestURL(feedURL)
	if err != nil {
		return "", newError(KindNetwork, feedURL, err)
	}

	// Retry connection-level failures until the deadline; the backoff is
	// capped by the fetch context so the overall deadline stays fixed.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	var body []byte
	var lastErr error
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("unexpected status: %s", resp.Status)
			return backoff.Permanent(lastErr)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			lastErr = err
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		log.WithFields(log.Fields{
			"url":   feedURL,
			"error": lastErr,
		}).Warn("Fetch failed")

		// The deadline elapsing mid-request is a timeout; everything else,
		// including a deadline spent on refused connections, is a network
		// failure.
		var netErr net.Error
		if errors.Is(lastErr, context.DeadlineExceeded) || (errors.As(lastErr, &netErr) && netErr.Timeout()) {
			return "", newError(KindTimeout, feedURL, lastErr)
		}
		return "", newError(KindNetwork, feedURL, lastErr)
	}

	payload := string(body)
	if f.proxy != "" {
		var envelope proxyEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", newError(KindNetwork, feedURL, fmt.Errorf("malformed proxy envelope: %w", err))
		}
		payload = envelope.Contents
	}

	if payload == "" {
		return "", newError(KindEmptyResponse, feedURL, nil)
	}
	return payload, nil
}

func (f *HTTPFetcher) requestURL(feedURL string) (string, error) {
	if f.proxy == "" {
		return feedURL, nil
	}

	u, err := url.Parse(f.proxy)
	if err != nil {
		return "", fmt.Errorf("failed to parse proxy URL: %w", err)
	}
	q := u.Query()
	q.Set("url", feedURL)
	if f.noCache {
		q.Set("disableCache", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
