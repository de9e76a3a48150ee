// Package config loads application configuration and bootstraps logging.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/audience-cli/internal/catalog"
	"github.com/sells-group/audience-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Gateway    GatewayConfig    `yaml:"gateway" mapstructure:"gateway"`
	Reconciler ReconcilerConfig `yaml:"reconciler" mapstructure:"reconciler"`
	Wizard     WizardConfig     `yaml:"wizard" mapstructure:"wizard"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// GatewayConfig holds job-processing gateway settings.
type GatewayConfig struct {
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey              string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	StatusRPS           float64 `yaml:"status_rps" mapstructure:"status_rps"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// Timeout returns the per-request timeout.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// BreakerCooldown returns how long the circuit stays open.
func (g GatewayConfig) BreakerCooldown() time.Duration {
	return time.Duration(g.BreakerCooldownSecs) * time.Second
}

// ReconcilerConfig configures progress polling.
type ReconcilerConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PushBuffer       int `yaml:"push_buffer" mapstructure:"push_buffer"`
}

// PollInterval returns the poll period.
func (r ReconcilerConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSecs) * time.Second
}

// WizardConfig configures audience construction.
type WizardConfig struct {
	SelectionSize int                `yaml:"selection_size" mapstructure:"selection_size"`
	SizeMethods   []model.SizeMethod `yaml:"size_methods" mapstructure:"size_methods"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	WebhookSecret  string   `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	SessionTTLMins int      `yaml:"session_ttl_mins" mapstructure:"session_ttl_mins"`
}

// SessionTTL returns how long an untouched wizard session is kept.
func (c ServerConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMins) * time.Minute
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// sizeMethodDefaults renders the built-in catalog as plain maps so viper
// merges it like any file-provided list.
func sizeMethodDefaults() []map[string]any {
	methods := catalog.DefaultSizeMethods()
	out := make([]map[string]any, len(methods))
	for i, m := range methods {
		out[i] = map[string]any{"id": m.ID, "label": m.Label, "size": m.Size, "method": m.Method}
	}
	return out
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUDIENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "audience.db")
	v.SetDefault("gateway.timeout_secs", 30)
	v.SetDefault("gateway.status_rps", 5.0)
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.breaker_threshold", 5)
	v.SetDefault("gateway.breaker_cooldown_secs", 30)
	v.SetDefault("reconciler.poll_interval_secs", 10)
	v.SetDefault("reconciler.push_buffer", 8)
	v.SetDefault("wizard.selection_size", 14)
	v.SetDefault("wizard.size_methods", sizeMethodDefaults())
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.session_ttl_mins", 30)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode: "serve",
// "build", "watch" or "sources".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "sources":
	case "serve", "build", "watch":
		if c.Gateway.BaseURL == "" {
			errs = append(errs, "gateway.base_url is required")
		}
		if c.Reconciler.PollIntervalSecs <= 0 {
			errs = append(errs, "reconciler.poll_interval_secs must be > 0")
		}
		if c.Gateway.MaxAttempts < 1 || c.Gateway.MaxAttempts > 10 {
			errs = append(errs, "gateway.max_attempts must be between 1 and 10")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.SessionTTLMins <= 0 {
			errs = append(errs, "server.session_ttl_mins must be > 0")
		}
	}
	if mode == "serve" || mode == "build" {
		if c.Wizard.SelectionSize <= 0 {
			errs = append(errs, "wizard.selection_size must be > 0")
		}
		if len(c.Wizard.SizeMethods) == 0 {
			errs = append(errs, "wizard.size_methods must not be empty")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
