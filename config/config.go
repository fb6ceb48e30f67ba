package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the parley pipeline
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Session    SessionConfig    `mapstructure:"session"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai-compatible
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig maps pipeline roles to models. Planning is the reasoning
// profile used for intent analysis; Execution is the faster profile used by
// task handlers; Whisper is the transcription model for audio input.
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`
	Execution string `mapstructure:"execution"`
	Whisper   string `mapstructure:"whisper"`
	Fallback  string `mapstructure:"fallback"`
}

// SessionConfig contains session store settings
type SessionConfig struct {
	Store         string        `mapstructure:"store"` // inmemory, redis
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LimitsConfig contains the decision thresholds and size ceilings
type LimitsConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ContentCharBudget   int     `mapstructure:"content_char_budget"`
	MaxClarifications   int     `mapstructure:"max_clarifications"`
	MaxUploadMB         int     `mapstructure:"max_upload_mb"`
	MaxImageMB          int     `mapstructure:"max_image_mb"`
	MaxAudioMB          int     `mapstructure:"max_audio_mb"`
}

// ExtractionConfig contains the extraction collaborator endpoints and policies
type ExtractionConfig struct {
	Timeout                time.Duration `mapstructure:"timeout"`
	PDFEndpoint            string        `mapstructure:"pdf_endpoint"`
	PDFFallbackEndpoint    string        `mapstructure:"pdf_fallback_endpoint"`
	PDFOCREndpoint         string        `mapstructure:"pdf_ocr_endpoint"`
	OCREndpoint            string        `mapstructure:"ocr_endpoint"`
	OCRFallbackEndpoint    string        `mapstructure:"ocr_fallback_endpoint"`
	OCRConfidenceThreshold float64       `mapstructure:"ocr_confidence_threshold"`
	TranscriptLanguages    []string      `mapstructure:"transcript_languages"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("parley_config")
	viper.SetConfigType("json")
	if path != "" {
		viper.AddConfigPath(path)
	}
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional; defaults plus env cover a full setup
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("server.listen", ":8080")

	viper.SetDefault("llm.routing.planning", "gpt-4o")
	viper.SetDefault("llm.routing.execution", "gpt-4o-mini")
	viper.SetDefault("llm.routing.whisper", "whisper-1")
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	viper.SetDefault("session.store", "inmemory")
	viper.SetDefault("session.timeout", "30m")
	viper.SetDefault("session.sweep_interval", "5m")
	viper.SetDefault("session.redis.host", "localhost")
	viper.SetDefault("session.redis.port", 6379)
	viper.SetDefault("session.redis.db", 0)

	viper.SetDefault("limits.confidence_threshold", 0.7)
	viper.SetDefault("limits.content_char_budget", 12000)
	viper.SetDefault("limits.max_clarifications", 2)
	viper.SetDefault("limits.max_upload_mb", 50)
	viper.SetDefault("limits.max_image_mb", 10)
	viper.SetDefault("limits.max_audio_mb", 25)

	viper.SetDefault("extraction.timeout", "60s")
	viper.SetDefault("extraction.ocr_confidence_threshold", 0.7)
	viper.SetDefault("extraction.transcript_languages", []string{"en"})

	viper.SetDefault("telemetry.enabled", true)
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.openai.type", "openai")
		viper.Set("llm.providers.openai.api_key", apiKey)
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		viper.Set("llm.providers.openai.base_url", base)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("session.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("session.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("session.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if len(config.LLM.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured (set OPENAI_API_KEY)")
	}
	for name, provider := range config.LLM.Providers {
		if provider.APIKey == "" {
			return fmt.Errorf("llm provider %q has no api key", name)
		}
	}

	if config.Limits.ConfidenceThreshold < 0 || config.Limits.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", config.Limits.ConfidenceThreshold)
	}
	if config.Limits.ContentCharBudget <= 0 {
		return fmt.Errorf("content char budget must be positive")
	}
	if config.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}

	switch config.Session.Store {
	case "inmemory", "redis":
	default:
		return fmt.Errorf("unsupported session store: %s", config.Session.Store)
	}

	return nil
}
