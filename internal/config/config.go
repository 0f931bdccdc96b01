package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Weather      WeatherConfig      `yaml:"weather" mapstructure:"weather"`
	Shipping     ShippingConfig     `yaml:"shipping" mapstructure:"shipping"`
	Analyzer     AnalyzerConfig     `yaml:"analyzer" mapstructure:"analyzer"`
	Geopolitical GeopoliticalConfig `yaml:"geopolitical" mapstructure:"geopolitical"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Resilience   ResilienceConfig   `yaml:"resilience" mapstructure:"resilience"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Guard        GuardConfig        `yaml:"guard" mapstructure:"guard"`
	Tracing      TracingConfig      `yaml:"tracing" mapstructure:"tracing"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. An empty key disables every
// LLM-assisted step; the algorithmic fallbacks are used instead.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	PlanModel   string `yaml:"plan_model" mapstructure:"plan_model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PerplexityConfig holds Perplexity API settings for the news analyzers.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// WeatherConfig configures the Open-Meteo weather analyzer.
type WeatherConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	GeocodeURL   string `yaml:"geocode_url" mapstructure:"geocode_url"`
	ForecastDays int    `yaml:"forecast_days" mapstructure:"forecast_days"`
}

// ShippingConfig configures the shipment tracking analyzer.
type ShippingConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// AnalyzerConfig holds settings shared by all analyzers.
type AnalyzerConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ConflictCountry is one entry of the active-conflict list.
type ConflictCountry struct {
	Name     string   `yaml:"name" mapstructure:"name"`
	Aliases  []string `yaml:"aliases" mapstructure:"aliases"`
	Conflict string   `yaml:"conflict" mapstructure:"conflict"`
	Severity string   `yaml:"severity" mapstructure:"severity"`
}

// GeopoliticalConfig extends the built-in active-conflict list.
type GeopoliticalConfig struct {
	ExtraCountries []ConflictCountry `yaml:"extra_countries" mapstructure:"extra_countries"`
}

// PointerBoosts holds the domain-specific multipliers applied from a risk's
// source data. Values are empirical and pending product review.
type PointerBoosts struct {
	ShippingCritical         float64  `yaml:"shipping_critical" mapstructure:"shipping_critical"`
	WeatherExposure          float64  `yaml:"weather_exposure" mapstructure:"weather_exposure"`
	WeatherExposureThreshold float64  `yaml:"weather_exposure_threshold" mapstructure:"weather_exposure_threshold"`
	NewsConflict             float64  `yaml:"news_conflict" mapstructure:"news_conflict"`
	NewsConflictKeywords     []string `yaml:"news_conflict_keywords" mapstructure:"news_conflict_keywords"`
	Geopolitical             float64  `yaml:"geopolitical" mapstructure:"geopolitical"`
}

// ScoringConfig configures the risk scoring engine.
type ScoringConfig struct {
	CurveK          float64            `yaml:"curve_k" mapstructure:"curve_k"`
	SeverityWeights map[string]float64 `yaml:"severity_weights" mapstructure:"severity_weights"`
	DomainWeights   map[string]float64 `yaml:"domain_weights" mapstructure:"domain_weights"`
	Boosts          PointerBoosts      `yaml:"boosts" mapstructure:"boosts"`
	LLMEnabled      bool               `yaml:"llm_enabled" mapstructure:"llm_enabled"`
}

// ResilienceConfig configures retries and circuit breaking for outbound calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// KafkaConfig configures the Kafka event publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// NotifyConfig configures progress event sinks.
type NotifyConfig struct {
	SSEBuffer  int         `yaml:"sse_buffer" mapstructure:"sse_buffer"`
	Kafka      KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
	WebhookURL string      `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// GuardConfig configures the duplicate-run guard fast path.
type GuardConfig struct {
	RedisURL    string `yaml:"redis_url" mapstructure:"redis_url"`
	LockTTLSecs int    `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	// Exporter is "stdout" or "file"; File is the output path for "file".
	Exporter string `yaml:"exporter" mapstructure:"exporter"`
	File     string `yaml:"file" mapstructure:"file"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("SUPPLYRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.plan_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("weather.base_url", "https://api.open-meteo.com/v1")
	v.SetDefault("weather.geocode_url", "https://geocoding-api.open-meteo.com/v1")
	v.SetDefault("weather.forecast_days", 7)
	v.SetDefault("analyzer.timeout_secs", 45)
	v.SetDefault("analyzer.rate_per_sec", 5.0)
	v.SetDefault("scoring.curve_k", 12.0)
	v.SetDefault("scoring.severity_weights", map[string]float64{
		"low": 1, "medium": 2, "high": 3, "critical": 4,
	})
	v.SetDefault("scoring.domain_weights", map[string]float64{
		"weather": 1.0, "shipping": 1.3, "news": 1.1, "geopolitical": 1.5,
	})
	v.SetDefault("scoring.boosts.shipping_critical", 1.5)
	v.SetDefault("scoring.boosts.weather_exposure", 1.4)
	v.SetDefault("scoring.boosts.weather_exposure_threshold", 80.0)
	v.SetDefault("scoring.boosts.news_conflict", 1.5)
	v.SetDefault("scoring.boosts.news_conflict_keywords", []string{"armed_conflict", "armed conflict", "war", "military"})
	v.SetDefault("scoring.boosts.geopolitical", 1.5)
	v.SetDefault("scoring.llm_enabled", true)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("notify.sse_buffer", 64)
	v.SetDefault("notify.kafka.topic", "supplyrisk.events")
	v.SetDefault("guard.lock_ttl_secs", 3600)
	v.SetDefault("tracing.service_name", "supplyrisk")
	v.SetDefault("tracing.exporter", "stdout")
}

// Validate checks the settings required by a command mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "serve":
		if c.Store.Driver != "sqlite" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "store":
		if c.Store.Driver != "sqlite" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Scoring.CurveK <= 0 {
		errs = append(errs, "scoring.curve_k must be > 0")
	}
	if c.Analyzer.TimeoutSecs <= 0 {
		errs = append(errs, "analyzer.timeout_secs must be > 0")
	}
	if len(c.Notify.Kafka.Brokers) > 0 && c.Notify.Kafka.Topic == "" {
		errs = append(errs, "notify.kafka.topic is required when brokers are set")
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
