package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the docqa service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address            string   `mapstructure:"address"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// LLMConfig configures the answer-generation provider.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // "openai"
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (c LLMConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (DOCQA_LLM_API_KEY)")
	}
	return nil
}

// WebSearchConfig configures the optional web-search provider.
// An empty APIKey means web search is unavailable; that is a routing
// constraint, not an error.
type WebSearchConfig struct {
	Provider   string        `mapstructure:"provider"` // "serper" or "brave"
	APIKey     string        `mapstructure:"api_key"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Available reports whether a web-search provider can be constructed at all.
func (c WebSearchConfig) Available() bool { return c.APIKey != "" }

// RetrievalConfig tunes the hybrid document retriever.
type RetrievalConfig struct {
	TopK             int           `mapstructure:"top_k"`
	LexicalStaleness time.Duration `mapstructure:"lexical_staleness"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// RoutingConfig carries the router's heuristic constants. These mirror the
// original tuning and are deliberately plain knobs, not calibrated
// probabilities.
type RoutingConfig struct {
	WebKeywords        []string `mapstructure:"web_keywords"`
	RelevanceThreshold float64  `mapstructure:"relevance_threshold"`
	WebConfidence      float64  `mapstructure:"web_confidence"`
	UnavailableBoost   float64  `mapstructure:"unavailable_boost"`
	ContinuityWindow   int      `mapstructure:"continuity_window"`
	ProbeTopK          int      `mapstructure:"probe_top_k"`
}

// MemoryConfig selects and tunes the session-memory backend.
type MemoryConfig struct {
	Backend  string        `mapstructure:"backend"` // "inmemory" or "redis"
	MaxTurns int           `mapstructure:"max_turns"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

func (c MemoryConfig) Validate() error {
	switch c.Backend {
	case "inmemory", "redis":
	default:
		return fmt.Errorf("memory.backend must be inmemory or redis, got %q", c.Backend)
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("memory.max_turns must be > 0")
	}
	return nil
}

// StorageConfig contains Postgres and Redis connection settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the document store connection.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a connection string, preferring an explicit URL.
func (c PostgresConfig) DSN() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.Host == "" || c.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := c.Port
	if port == "" {
		port = "5432"
	}
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, port, c.DBName, ssl), nil
}

// RedisConfig describes the Redis connection used for durable session
// memory and the ingestion queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis not configured (storage.redis.addr)")
	}
	return nil
}

// IngestConfig tunes document ingestion and the background worker.
type IngestConfig struct {
	Stream        string        `mapstructure:"stream"`
	Group         string        `mapstructure:"group"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`
	RetryCron     string        `mapstructure:"retry_cron"`
	RetryDeadline time.Duration `mapstructure:"retry_deadline"`
}

// Load reads configuration from an optional yaml file plus DOCQA_* env
// variables. Defaults are usable for local development except for API keys.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 60*time.Second)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors_allowed_origins", []string{"*"})

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.completion_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("web_search.provider", "serper")
	v.SetDefault("web_search.max_results", 3)
	v.SetDefault("web_search.timeout", 30*time.Second)

	v.SetDefault("retrieval.top_k", 4)
	v.SetDefault("retrieval.lexical_staleness", 5*time.Minute)
	v.SetDefault("retrieval.timeout", 5*time.Second)

	v.SetDefault("routing.web_keywords", []string{"web", "latest", "news", "today", "current", "recent", "update"})
	v.SetDefault("routing.relevance_threshold", 0.7)
	v.SetDefault("routing.web_confidence", 0.8)
	v.SetDefault("routing.unavailable_boost", 0.3)
	v.SetDefault("routing.continuity_window", 4)
	v.SetDefault("routing.probe_top_k", 2)

	v.SetDefault("memory.backend", "inmemory")
	v.SetDefault("memory.max_turns", 3)
	v.SetDefault("memory.ttl", 24*time.Hour)
	v.SetDefault("memory.prefix", "docqa:session")

	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.addr", "localhost:6379")

	v.SetDefault("ingest.stream", "document.ingest")
	v.SetDefault("ingest.group", "docqa-workers")
	v.SetDefault("ingest.chunk_size", 500)
	v.SetDefault("ingest.chunk_overlap", 50)
	v.SetDefault("ingest.retry_cron", "*/10 * * * *")
	v.SetDefault("ingest.retry_deadline", 15*time.Minute)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Env-only configuration is fine; a missing file is not fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Memory.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
