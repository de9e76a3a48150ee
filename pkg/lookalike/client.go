// Package lookalike provides a client for the lookalike job-processing
// gateway: feature-importance calculation, job submission and job status.
package lookalike

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/resilience"
)

// Client defines the gateway operations.
type Client interface {
	// Calculate returns the categorized feature importances for a source and
	// size/method combination.
	Calculate(ctx context.Context, sourceID, sizeMethodID string) (*model.CalculateResult, error)
	// Submit creates a lookalike job. It is never retried.
	Submit(ctx context.Context, req model.AudienceRequest) (*model.JobDescriptor, error)
	// Status returns the server-side progress of a job.
	Status(ctx context.Context, jobID string) (model.ProgressSample, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for calculate and status calls.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithStatusRateLimit throttles status calls to rps requests per second.
// A non-positive value disables throttling.
func WithStatusRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithCircuitBreaker guards every call with b.
func WithCircuitBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryPolicy
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewClient creates a gateway client for baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type calculateRequest struct {
	SourceID     string `json:"source_id"`
	SizeMethodID string `json:"size_method_id"`
}

type statusResponse struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

func (c *httpClient) Calculate(ctx context.Context, sourceID, sizeMethodID string) (*model.CalculateResult, error) {
	payload, err := json.Marshal(calculateRequest{SourceID: sourceID, SizeMethodID: sizeMethodID})
	if err != nil {
		return nil, eris.Wrap(err, "lookalike: marshal calculate request")
	}

	policy := c.retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetry("lookalike", "calculate")
	}
	body, err := resilience.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodPost, "/lookalikes/calculate", payload)
	})
	if err != nil {
		return nil, eris.Wrap(err, "lookalike: calculate")
	}

	var result model.CalculateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "lookalike: unmarshal calculate response")
	}
	return &result, nil
}

func (c *httpClient) Submit(ctx context.Context, req model.AudienceRequest) (*model.JobDescriptor, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "lookalike: marshal submit request")
	}

	body, err := c.do(ctx, http.MethodPost, "/lookalikes", payload)
	if err != nil {
		return nil, eris.Wrap(err, "lookalike: submit")
	}

	var job model.JobDescriptor
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, eris.Wrap(err, "lookalike: unmarshal submit response")
	}
	if job.JobID == "" {
		return nil, eris.New("lookalike: submit response has no job id")
	}
	return &job, nil
}

func (c *httpClient) Status(ctx context.Context, jobID string) (model.ProgressSample, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return model.ProgressSample{}, eris.Wrap(err, "lookalike: rate limit")
		}
	}

	path := fmt.Sprintf("/lookalikes/%s/status", url.PathEscape(jobID))
	policy := c.retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetry("lookalike", "status")
	}
	body, err := resilience.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return model.ProgressSample{}, eris.Wrapf(err, "lookalike: status %s", jobID)
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.ProgressSample{}, eris.Wrap(err, "lookalike: unmarshal status response")
	}
	if resp.Processed < 0 || resp.Total < 0 {
		return model.ProgressSample{}, eris.Errorf("lookalike: negative progress %d/%d", resp.Processed, resp.Total)
	}
	return model.ProgressSample{Processed: resp.Processed, Total: resp.Total}, nil
}

// do sends one request through the breaker and returns the body of a 2xx
// response. Other statuses become *resilience.StatusError.
func (c *httpClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read response body")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &resilience.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return body, nil
	})
}
