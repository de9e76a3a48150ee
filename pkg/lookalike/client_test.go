package lookalike

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/resilience"
)

func fastRetry() Option {
	return WithRetry(resilience.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestCalculate_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/lookalikes/calculate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req calculateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "src-1", req.SourceID)
		assert.Equal(t, "5pct-broad", req.SizeMethodID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"categories":[{"name":"demographics","features":{"zeta":0.3,"alpha":0.3,"homeValue":0.1}}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got, err := client.Calculate(context.Background(), "src-1", "5pct-broad")

	require.NoError(t, err)
	require.Len(t, got.Categories, 1)
	assert.Equal(t, "demographics", got.Categories[0].Name)
	assert.Equal(t, []model.FeatureImportance{
		{Key: "zeta", Importance: 0.3},
		{Key: "alpha", Importance: 0.3},
		{Key: "homeValue", Importance: 0.1},
	}, got.Categories[0].Entries)
}

func TestCalculate_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"categories":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", fastRetry())
	got, err := client.Calculate(context.Background(), "src-1", "1pct-precise")

	require.NoError(t, err)
	assert.Empty(t, got.Categories)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCalculate_PermanentError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("unknown size method"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", fastRetry())
	_, err := client.Calculate(context.Background(), "src-1", "nope")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())

	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unknown size method", se.Body)
}

func TestCalculate_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"categories":[{"name":"x","features":{"a":"high"}}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Calculate(context.Background(), "s", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal calculate response")
}

func TestSubmit_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/lookalikes", r.URL.Path)

		var req model.AudienceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Q3 lookalikes", req.AudienceName)
		require.Len(t, req.SelectedFeatures, 2)
		assert.Equal(t, "age", req.SelectedFeatures[0].Key)

		_, _ = w.Write([]byte(`{"job_id":"job-42","initial_progress":{"processed":0,"total":500}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k")
	job, err := client.Submit(context.Background(), model.AudienceRequest{
		SourceID:     "src-1",
		SizeMethodID: "1pct-precise",
		AudienceName: "Q3 lookalikes",
		SelectedFeatures: []model.Feature{
			{Key: "age", DisplayName: "Age", Importance: 0.4},
			{Key: "income", DisplayName: "Income", Importance: 0.2},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "job-42", job.JobID)
	assert.Equal(t, model.ProgressSample{Processed: 0, Total: 500}, job.InitialProgress)
}

func TestSubmit_NotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", fastRetry()).Submit(context.Background(), model.AudienceRequest{AudienceName: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmit_MissingJobID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"initial_progress":{"processed":0,"total":0}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Submit(context.Background(), model.AudienceRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job id")
}

func TestStatus_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/lookalikes/job-7/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"processed":250,"total":1000}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL+"/", "k").Status(context.Background(), "job-7")
	require.NoError(t, err)
	assert.Equal(t, model.ProgressSample{Processed: 250, Total: 1000}, got)
}

func TestStatus_NegativeRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"processed":-1,"total":10}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Status(context.Background(), "job-7")
	require.Error(t, err)
}

func TestStatus_RateLimitCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"processed":1,"total":2}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", WithStatusRateLimit(0.001))
	_, err := client.Status(context.Background(), "job-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Status(ctx, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestStatus_CircuitOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k",
		WithRetry(resilience.RetryPolicy{MaxAttempts: 1}),
		WithCircuitBreaker(resilience.NewBreaker("lookalike", 2, time.Hour)),
	)
	for i := 0; i < 2; i++ {
		_, err := client.Status(context.Background(), "job-1")
		require.Error(t, err)
	}
	_, err := client.Status(context.Background(), "job-1")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	hc := &http.Client{Timeout: time.Second}
	c := NewClient("http://example.invalid", "k", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
}
