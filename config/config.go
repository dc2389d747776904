package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultAppName    = "line-relay"
	DefaultModel      = "deepseek-r1:8b"
	DefaultWindowSize = 10
)

// Config stores all configuration of the relay.
// Values come from an optional YAML file and environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Line    LineConfig    `mapstructure:"line"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Prompt  PromptConfig  `mapstructure:"prompt"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LineConfig configures the LINE Messaging API client.
type LineConfig struct {
	AccessToken    string        `mapstructure:"access_token"`
	APIBase        string        `mapstructure:"api_base"`
	LoadingSeconds int           `mapstructure:"loading_seconds"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LLMConfig configures the generation capability.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // "ollama" or "openai"
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"` // 0 leaves cancellation to the caller
}

// MemoryConfig configures the conversation store.
type MemoryConfig struct {
	Window           int `mapstructure:"window"`            // exchanges kept per conversation
	MaxConversations int `mapstructure:"max_conversations"` // 0 means unbounded
}

type PromptConfig struct {
	Language     string `mapstructure:"language"`
	LatestMarker string `mapstructure:"latest_marker"`
}

// ArchiveConfig configures the DynamoDB transcript archive.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Table           string `mapstructure:"table"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"` // e.g. http://localhost:8000 for DynamoDB Local
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// BatchConfig configures cmd/batch.
type BatchConfig struct {
	PostgresDSN    string        `mapstructure:"postgres_dsn"`
	Interval       time.Duration `mapstructure:"interval"`
	Lookback       time.Duration `mapstructure:"lookback"`
	Concurrency    int           `mapstructure:"concurrency"`
	EmbeddingModel string        `mapstructure:"embedding_model"` // empty disables embeddings
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// legacyEnv maps config keys to the bare environment names used by existing
// deployments.
var legacyEnv = map[string][]string{
	"line.access_token":  {"LINE_CHANNEL_ACCESS_TOKEN"},
	"llm.api_key":        {"OPENAI_API_KEY"},
	"llm.base_url":       {"OLLAMA_BASE_URL"},
	"batch.postgres_dsn": {"DATABASE_URL"},
	"server.addr":        {"ADDR"},
}

// LoadConfig reads configuration from configPath, or from config.yaml in the
// usual search paths when configPath is empty. A missing file is not an
// error; environment variables prefixed with RELAY_ override file values.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + DefaultAppName)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, "RELAY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("line.access_token", "")
	v.SetDefault("line.api_base", "https://api.line.me")
	v.SetDefault("line.loading_seconds", 20)
	v.SetDefault("line.timeout", 10*time.Second)

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", DefaultModel)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.timeout", time.Duration(0))

	v.SetDefault("memory.window", DefaultWindowSize)
	v.SetDefault("memory.max_conversations", 0)

	v.SetDefault("prompt.language", "Traditional Chinese (zh-TW)")
	v.SetDefault("prompt.latest_marker", "使用者的最新問題：")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.table", "Conversations")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")

	v.SetDefault("batch.postgres_dsn", "")
	v.SetDefault("batch.interval", 10*time.Minute)
	v.SetDefault("batch.lookback", 3*time.Hour)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.embedding_model", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("llm provider must be ollama or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model cannot be empty")
	}
	if c.LLM.Temperature < 0 {
		return fmt.Errorf("llm temperature must not be negative")
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm max tokens must be at least 1")
	}
	if c.Memory.Window < 1 {
		return fmt.Errorf("memory window must be at least 1")
	}
	if c.Memory.MaxConversations < 0 {
		return fmt.Errorf("memory max conversations must not be negative")
	}
	if c.Archive.Enabled && c.Archive.Table == "" {
		return fmt.Errorf("archive table cannot be empty when the archive is enabled")
	}
	return nil
}
