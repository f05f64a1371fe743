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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Embed     EmbedConfig     `yaml:"embed" mapstructure:"embed"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Verify    VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// EmbedConfig holds embedding service settings.
type EmbedConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Model            string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBatchSize     int     `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// MatchConfig configures candidate scoring and resolution policy.
type MatchConfig struct {
	AcceptThreshold     float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	AmbiguityMargin     float64 `yaml:"ambiguity_margin" mapstructure:"ambiguity_margin"`
	TopK                int     `yaml:"top_k" mapstructure:"top_k"`
	AliasLearning       bool    `yaml:"alias_learning" mapstructure:"alias_learning"`
	AliasLearnThreshold float64 `yaml:"alias_learn_threshold" mapstructure:"alias_learn_threshold"`
}

// NormalizeConfig configures name normalization.
type NormalizeConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// VerifyConfig configures optional LLM verification of top matches.
type VerifyConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ReportConfig configures report and audit artifact output.
type ReportConfig struct {
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir"`
	SheetName     string `yaml:"sheet_name" mapstructure:"sheet_name"`
	PctDeltaScale int32  `yaml:"pct_delta_scale" mapstructure:"pct_delta_scale"`
}

// BatchConfig configures run parallelism.
type BatchConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("PRICEMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pricematch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.workers", 5)
	v.SetDefault("embed.base_url", "https://api.openai.com/v1")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.timeout_secs", 15)
	v.SetDefault("embed.max_batch_size", 64)
	v.SetDefault("embed.rate_limit", 10)
	v.SetDefault("embed.max_attempts", 3)
	v.SetDefault("embed.initial_backoff_ms", 500)
	v.SetDefault("embed.max_backoff_ms", 10000)
	v.SetDefault("match.accept_threshold", 0.8)
	v.SetDefault("match.ambiguity_margin", 0.05)
	v.SetDefault("match.top_k", 3)
	v.SetDefault("match.alias_learning", false)
	v.SetDefault("match.alias_learn_threshold", 0.92)
	v.SetDefault("verify.enabled", false)
	v.SetDefault("verify.model", "claude-haiku-4-5-20251001")
	v.SetDefault("verify.max_tokens", 64)
	v.SetDefault("report.output_dir", ".")
	v.SetDefault("report.sheet_name", "price_comparison")
	v.SetDefault("report.pct_delta_scale", 2)

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
