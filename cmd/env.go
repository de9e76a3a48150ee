package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/catalog"
	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/progress"
	"github.com/sells-group/audience-cli/internal/push"
	"github.com/sells-group/audience-cli/internal/resilience"
	"github.com/sells-group/audience-cli/internal/store"
	"github.com/sells-group/audience-cli/pkg/lookalike"
)

// appEnv holds the store, gateway client and progress reconciler shared by
// the serve, build and watch commands.
type appEnv struct {
	Store       store.Store
	Sources     *catalog.Sources
	SizeMethods catalog.SizeMethods
	Gateway     lookalike.Client
	Hub         *push.Hub
	Progress    *progress.Manager
}

// Close stops every poll loop and releases the store.
func (e *appEnv) Close() {
	if e.Progress != nil {
		e.Progress.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode and wires the environment. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	methods := catalog.SizeMethods(cfg.Wizard.SizeMethods)
	if mode != "watch" {
		if err := methods.Validate(); err != nil {
			return nil, err
		}
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	gw := initGateway()
	hub := push.NewHub(cfg.Reconciler.PushBuffer)
	mgr := progress.NewManager(gw,
		progress.WithInterval(cfg.Reconciler.PollInterval()),
		progress.WithPush(hub),
		progress.WithObserver(store.ProgressRecorder(st)),
	)

	return &appEnv{
		Store:       st,
		Sources:     catalog.NewSources(st),
		SizeMethods: methods,
		Gateway:     gw,
		Hub:         hub,
		Progress:    mgr,
	}, nil
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initGateway() lookalike.Client {
	policy := resilience.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Gateway.MaxAttempts

	breaker := resilience.NewBreaker("lookalike", cfg.Gateway.BreakerThreshold, cfg.Gateway.BreakerCooldown())

	if cfg.Gateway.APIKey == "" {
		zap.L().Warn("AUDIENCE_GATEWAY_API_KEY not set, gateway requests are unauthenticated")
	}

	return lookalike.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
		lookalike.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout()}),
		lookalike.WithRetry(policy),
		lookalike.WithStatusRateLimit(cfg.Gateway.StatusRPS),
		lookalike.WithCircuitBreaker(breaker),
	)
}
