package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-cli/internal/config"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/store"
)

// fakeGatewayServer serves the lookalike endpoints and records submissions.
type fakeGatewayServer struct {
	*httptest.Server

	mu        sync.Mutex
	submitted []model.AudienceRequest
}

func newFakeGatewayServer(t *testing.T) *fakeGatewayServer {
	t.Helper()
	g := &fakeGatewayServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /lookalikes/calculate", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"categories":[`+ //nolint:errcheck
			`{"name":"Personal","features":{"age":0.4,"gender":0.1}},`+
			`{"name":"Financial","features":{"income":0.6}}]}`)
	})
	mux.HandleFunc("POST /lookalikes", func(w http.ResponseWriter, r *http.Request) {
		var req model.AudienceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.submitted = append(g.submitted, req)
		g.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"job_id":"job-9","initial_progress":{"processed":0,"total":500}}`) //nolint:errcheck
	})
	mux.HandleFunc("GET /lookalikes/{id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"processed":500,"total":500}`) //nolint:errcheck
	})
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

func (g *fakeGatewayServer) requests() []model.AudienceRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.AudienceRequest(nil), g.submitted...)
}

// testConfig points cfg at a fresh SQLite file seeded with one source.
func testConfig(t *testing.T, gatewayURL string) *config.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audience.db")

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.UpsertSource(ctx, model.Source{ID: "src-1", Name: "Newsletter buyers", MatchedRecords: 1200, NumberOfCustomers: 1500}))
	require.NoError(t, st.Close())

	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: dbPath},
		Gateway: config.GatewayConfig{
			BaseURL:             gatewayURL,
			TimeoutSecs:         5,
			MaxAttempts:         1,
			BreakerThreshold:    5,
			BreakerCooldownSecs: 30,
		},
		Reconciler: config.ReconcilerConfig{PollIntervalSecs: 1, PushBuffer: 4},
		Wizard: config.WizardConfig{
			SelectionSize: 2,
			SizeMethods: []model.SizeMethod{
				{ID: "1pct-precise", Label: "1% · Precise", Size: 1, Method: "precise"},
			},
		},
		Server: config.ServerConfig{Port: 8080, SessionTTLMins: 30},
		Log:    config.LogConfig{Level: "info", Format: "json"},
	}
}
