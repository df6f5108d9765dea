package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Meili      MeiliConfig      `yaml:"meili" mapstructure:"meili"`
	DirectD    DirectDConfig    `yaml:"directd" mapstructure:"directd"`
	Waterfall  WaterfallConfig  `yaml:"waterfall" mapstructure:"waterfall"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Health     HealthConfig     `yaml:"health" mapstructure:"health"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	Username     string  `yaml:"username" mapstructure:"username"`
	KeyPath      string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL     string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	PostNotes    bool    `yaml:"post_notes" mapstructure:"post_notes"`
}

// MeiliConfig holds Meilisearch settings for the directory tier.
type MeiliConfig struct {
	URL   string `yaml:"url" mapstructure:"url"`
	Key   string `yaml:"key" mapstructure:"key"`
	Index string `yaml:"index" mapstructure:"index"`
}

// DirectDConfig holds DirectData API settings.
type DirectDConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// WaterfallConfig configures identifier resolution.
type WaterfallConfig struct {
	MinNameScore    float64 `yaml:"min_name_score" mapstructure:"min_name_score"`
	TierTimeoutSecs int     `yaml:"tier_timeout_secs" mapstructure:"tier_timeout_secs"`
}

// FetchConfig configures the person data fetch.
type FetchConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig configures the lead-level retry policy.
type RetryConfig struct {
	MaxRetries   int   `yaml:"max_retries" mapstructure:"max_retries"`
	ScheduleMins []int `yaml:"schedule_mins" mapstructure:"schedule_mins"`
}

// Schedule converts the configured minute values to durations.
func (c RetryConfig) Schedule() []time.Duration {
	out := make([]time.Duration, 0, len(c.ScheduleMins))
	for _, m := range c.ScheduleMins {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

// SchedulerConfig configures the adaptive polling loop.
type SchedulerConfig struct {
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	RetryBatchSize   int    `yaml:"retry_batch_size" mapstructure:"retry_batch_size"`
	InterLeadDelayMs int    `yaml:"inter_lead_delay_ms" mapstructure:"inter_lead_delay_ms"`
	BandsFile        string `yaml:"bands_file" mapstructure:"bands_file"`
}

// HealthConfig configures error-rate tracking and alerting.
type HealthConfig struct {
	WindowMins         int     `yaml:"window_mins" mapstructure:"window_mins"`
	MinSamples         int     `yaml:"min_samples" mapstructure:"min_samples"`
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	DownAfterMins      int     `yaml:"down_after_mins" mapstructure:"down_after_mins"`
	AlertCooldownMins  int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the operator HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit_rps", 5.0)
	v.SetDefault("salesforce.post_notes", false)
	v.SetDefault("meili.index", "persons")
	v.SetDefault("directd.base_url", "https://api.directdata.com.br/v1")
	v.SetDefault("waterfall.min_name_score", 0.5)
	v.SetDefault("waterfall.tier_timeout_secs", 10)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("retry.max_retries", 8)
	v.SetDefault("retry.schedule_mins", []int{60, 120, 240, 480, 960})
	v.SetDefault("scheduler.batch_size", 25)
	v.SetDefault("scheduler.retry_batch_size", 50)
	v.SetDefault("scheduler.inter_lead_delay_ms", 1500)
	v.SetDefault("health.window_mins", 10)
	v.SetDefault("health.min_samples", 10)
	v.SetDefault("health.error_rate_threshold", 0.5)
	v.SetDefault("health.down_after_mins", 5)
	v.SetDefault("health.alert_cooldown_mins", 30)

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
