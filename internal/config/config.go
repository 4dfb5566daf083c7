package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/schema"
)

// Supported inference services.
const (
	ServiceOpenRouter = "openrouter"
	ServiceGroq       = "groq"
	ServiceGemini     = "gemini"
	ServiceAnthropic  = "anthropic"
)

// DefaultGroqModel is used for groq when no model is configured.
const DefaultGroqModel = "llama-3.3-70b-versatile"

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
	Render    RenderConfig    `yaml:"render" mapstructure:"render"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// InferenceConfig selects and tunes the inference backend.
type InferenceConfig struct {
	Service       string `yaml:"service" mapstructure:"service"`
	Model         string `yaml:"model" mapstructure:"model"`
	OpenRouterKey string `yaml:"openrouter_key" mapstructure:"openrouter_key"`
	GroqKey       string `yaml:"groq_key" mapstructure:"groq_key"`
	GeminiKey     string `yaml:"gemini_key" mapstructure:"gemini_key"`
	AnthropicKey  string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	// BaseURL overrides the service's default endpoint.
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	BreakerFailures   int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// APIKey returns the credential for the selected service.
func (c InferenceConfig) APIKey() string {
	switch c.Service {
	case ServiceOpenRouter:
		return c.OpenRouterKey
	case ServiceGroq:
		return c.GroqKey
	case ServiceGemini:
		return c.GeminiKey
	case ServiceAnthropic:
		return c.AnthropicKey
	}
	return ""
}

// Timeout returns the per-call transport timeout, zero when unset.
func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BreakerReset returns how long the circuit stays open before probing.
func (c InferenceConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetSecs) * time.Second
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// SchemaConfig selects strict or lenient response validation.
type SchemaConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"`
}

// RenderConfig configures PDF rasterization.
type RenderConfig struct {
	DPI float64 `yaml:"dpi" mapstructure:"dpi"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env values override the process environment; a missing file is fine.
	if err := godotenv.Overload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MENU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names are honoured for the settings operators already export.
	bindings := map[string]string{
		"inference.openrouter_key":  "OPENROUTER_API_KEY",
		"inference.groq_key":        "GROQ_API_KEY",
		"inference.gemini_key":      "GEMINI_API_KEY",
		"inference.anthropic_key":   "ANTHROPIC_API_KEY",
		"pipeline.max_concurrency":  "MAX_CONCURRENCY",
		"defaults.openrouter_model": "OPENROUTER_DEFAULT_MODEL",
		"defaults.groq_model":       "GROQ_DEFAULT_MODEL",
	}
	for key, env := range bindings {
		prefixed := "MENU_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "menu-extractor.db")
	v.SetDefault("inference.service", ServiceOpenRouter)
	v.SetDefault("inference.model", "")
	v.SetDefault("inference.openrouter_key", "")
	v.SetDefault("inference.groq_key", "")
	v.SetDefault("inference.gemini_key", "")
	v.SetDefault("inference.anthropic_key", "")
	v.SetDefault("inference.base_url", "")
	v.SetDefault("inference.timeout_secs", 120)
	v.SetDefault("inference.requests_per_second", 0)
	v.SetDefault("inference.burst", 1)
	v.SetDefault("inference.breaker_failures", 0)
	v.SetDefault("inference.breaker_reset_secs", 30)
	v.SetDefault("inference.max_tokens", 8192)
	v.SetDefault("pipeline.max_concurrency", 4)
	v.SetDefault("schema.mode", string(schema.ModeStrict))
	v.SetDefault("render.dpi", 144)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	cfg.Inference.Service = strings.ToLower(strings.TrimSpace(cfg.Inference.Service))
	if cfg.Inference.Model == "" {
		switch cfg.Inference.Service {
		case ServiceOpenRouter:
			cfg.Inference.Model = v.GetString("defaults.openrouter_model")
		case ServiceGroq:
			cfg.Inference.Model = v.GetString("defaults.groq_model")
			if cfg.Inference.Model == "" {
				cfg.Inference.Model = DefaultGroqModel
			}
		}
	}

	return &cfg, nil
}

// Validate checks the settings required for the given mode:
//   - "store": database access only (runs, status, export, edit)
//   - "extract": store plus a usable inference backend
//   - "serve": extract plus a listen port
//
// Errors are configuration errors.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "store", "extract", "serve":
	default:
		return apperr.Configuration("unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return apperr.Configuration("unknown store driver %q (want sqlite or postgres)", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return apperr.Configuration("store.database_url is required")
	}
	if _, err := schema.ParseMode(c.Schema.Mode); err != nil {
		return apperr.Configuration("%v", err)
	}
	if mode == "store" {
		return nil
	}

	switch c.Inference.Service {
	case ServiceOpenRouter, ServiceGroq, ServiceGemini, ServiceAnthropic:
	default:
		return apperr.Configuration("unknown inference service %q (want openrouter, groq, gemini or anthropic)", c.Inference.Service)
	}
	if c.Inference.APIKey() == "" {
		return apperr.Configuration("no API key configured for inference service %q", c.Inference.Service)
	}
	if c.Inference.Model == "" {
		return apperr.Configuration("no model configured for inference service %q", c.Inference.Service)
	}
	if c.Pipeline.MaxConcurrency < 1 {
		return apperr.Configuration("pipeline.max_concurrency must be >= 1, got %d", c.Pipeline.MaxConcurrency)
	}
	if c.Render.DPI <= 0 {
		return apperr.Configuration("render.dpi must be positive, got %v", c.Render.DPI)
	}
	if mode == "serve" && c.Server.Port <= 0 {
		return apperr.Configuration("server.port must be > 0")
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
