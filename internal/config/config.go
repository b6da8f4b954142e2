// Package config loads application configuration from a yaml file and the
// environment, and owns global logger setup.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Listings   ListingsConfig   `yaml:"listings" mapstructure:"listings"`
	Pagescan   PagescanConfig   `yaml:"pagescan" mapstructure:"pagescan"`
	Pronet     PronetConfig     `yaml:"pronet" mapstructure:"pronet"`
	Bouncer    BouncerConfig    `yaml:"bouncer" mapstructure:"bouncer"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Geo        GeoConfig        `yaml:"geo" mapstructure:"geo"`
	Pricing    ledger.Rates     `yaml:"pricing" mapstructure:"pricing"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ListingsConfig holds business-listings provider settings.
type ListingsConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxResults int     `yaml:"max_results" mapstructure:"max_results"`
}

// PagescanConfig holds website scan settings.
type PagescanConfig struct {
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// PronetConfig holds professional-network provider settings.
type PronetConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BouncerConfig holds email verification provider settings.
type BouncerConfig struct {
	Key        string        `yaml:"key" mapstructure:"key"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	BatchSize  int           `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay" mapstructure:"batch_delay"`
}

// AnthropicConfig holds Anthropic API settings for relevance research.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SalesforceConfig holds Salesforce JWT auth settings for lead export.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// GeoConfig configures the postal demographics loader.
type GeoConfig struct {
	TempDir       string `yaml:"temp_dir" mapstructure:"temp_dir"`
	GazetteerPath string `yaml:"gazetteer_path" mapstructure:"gazetteer_path"`
}

// EnrichConfig bounds enrichment phase execution.
type EnrichConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures campaign health alerting. An empty WebhookURL
// disables the background checker.
type MonitoringConfig struct {
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostOverrunRatio     float64       `yaml:"cost_overrun_ratio" mapstructure:"cost_overrun_ratio"`
	CheckInterval        time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackHours        int           `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	StaleAfter           time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("listings.rate_limit", 5)
	v.SetDefault("listings.max_results", 100)
	v.SetDefault("pagescan.rate_limit", 10)
	v.SetDefault("pronet.rate_limit", 2)
	v.SetDefault("bouncer.batch_size", 100)
	v.SetDefault("bouncer.batch_delay", 2*time.Second)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("geo.temp_dir", "/tmp/outreach-geo")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_overrun_ratio", 1.5)
	v.SetDefault("monitoring.check_interval", 5*time.Minute)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.stale_after", time.Hour)

	rates := ledger.DefaultRates()
	v.SetDefault("pricing.listings_per_k", rates.ListingsPerK)
	v.SetDefault("pricing.pages_per_k", rates.PagesPerK)
	v.SetDefault("pricing.profiles_per_k", rates.ProfilesPerK)
	v.SetDefault("pricing.verifications_per_k", rates.VerificationsPerK)
	v.SetDefault("pricing.research_per_query", rates.ResearchPerQuery)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given mode needs. Modes: "campaign" for
// CLI campaign operations, "serve" for the API server, "coverage" for
// selection previews, "geo" for the demographics loader. The Anthropic key
// is deliberately not required;
// without it coverage selection degrades to density-only scoring.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 32 {
		problems = append(problems, "enrich.concurrency must be between 1 and 32")
	}

	switch mode {
	case "campaign", "serve":
		if c.Listings.Key == "" {
			problems = append(problems, "listings.key is required")
		}
		if c.Pronet.Key == "" {
			problems = append(problems, "pronet.key is required")
		}
		if c.Bouncer.Key == "" {
			problems = append(problems, "bouncer.key is required")
		}
		if c.Bouncer.BatchSize < 1 || c.Bouncer.BatchSize > 500 {
			problems = append(problems, "bouncer.batch_size must be between 1 and 500")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "coverage":
		// Selection previews only need the store and, optionally, the
		// Anthropic key.
	case "geo":
		if c.Geo.GazetteerPath == "" {
			problems = append(problems, "geo.gazetteer_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
