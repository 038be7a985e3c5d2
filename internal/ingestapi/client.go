// Package ingestapi is a small HAL-style paginated REST client over the
// metadata repository, the schema registry, and the export-job resource —
// the external services spec.md treats as out-of-scope collaborators,
// specified only by the interface the core consumes.
package ingestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ebi-ait/ingest-exporter/internal/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is a thin, rate-limited, retrying JSON HTTP client. It has no
// notion of the domain documents it fetches — those live in internal/metadata,
// internal/schema, and internal/exportjob.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	retry   backoff.Config
}

// NewClient builds a Client bounded to rps requests/second against baseURL,
// with outbound spans via otelhttp (repurposed from the teacher's inbound
// server instrumentation).
func NewClient(baseURL string, rps float64, log *zap.Logger) *Client {
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
		retry:   backoff.Config{Initial: 500 * time.Millisecond, MaxInterval: 10 * time.Second, MaxElapsedTime: 60 * time.Second},
	}
}

// ResolveURL joins a path against the client's base URL; an absolute URL
// (as returned in a HAL _links href) passes through unchanged.
func (c *Client) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Get fetches and JSON-decodes url, retrying on transient transport errors.
func (c *Client) Get(ctx context.Context, url string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, c.ResolveURL(url), nil, &out); err != nil {
		return nil, fmt.Errorf("ingestapi: GET %s: %w", url, err)
	}
	return out, nil
}

// Post JSON-encodes body, POSTs it to url, and decodes the response.
func (c *Client) Post(ctx context.Context, url string, body any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, c.ResolveURL(url), body, &out); err != nil {
		return nil, fmt.Errorf("ingestapi: POST %s: %w", url, err)
	}
	return out, nil
}

// Patch JSON-encodes body and PATCHes it to url; the response body, if any,
// is discarded.
func (c *Client) Patch(ctx context.Context, url string, body any) error {
	if err := c.do(ctx, http.MethodPatch, c.ResolveURL(url), body, nil); err != nil {
		return fmt.Errorf("ingestapi: PATCH %s: %w", url, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		var reqBody io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return backoff.Permanent(err)
			}
			reqBody = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
}
