// Package config loads process settings. Values come from built-in
// defaults, then an optional YAML file named by DOCASK_CONFIG, then the
// environment (a .env file in the working directory is loaded first).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/dgallion1/docask/internal/query"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Completion service
	LLMProvider string        `yaml:"llm_provider"` // "anthropic" or "openai"
	LLMAPIKey   string        `yaml:"llm_api_key"`
	LLMModel    string        `yaml:"llm_model"`
	LLMBaseURL  string        `yaml:"llm_base_url"`
	LLMTimeout  time.Duration `yaml:"llm_timeout"`
	DNSRefresh  time.Duration `yaml:"dns_refresh"`

	// Token accounting
	TokenEncoding   string  `yaml:"token_encoding"`
	TokenMultiplier float64 `yaml:"token_multiplier"`

	// Query engine
	ModelWindow          int           `yaml:"model_window"`
	MaxOutputTokens      int           `yaml:"max_output_tokens"`
	CompletionReserve    int           `yaml:"completion_reserve"`
	MinCompletionReserve int           `yaml:"min_completion_reserve"`
	MaxChunkTokens       int           `yaml:"max_chunk_tokens"`
	MaxChunks            int           `yaml:"max_chunks"`
	MaxAttempts          int           `yaml:"max_attempts"`
	PoolSize             int           `yaml:"pool_size"`
	CallTimeout          time.Duration `yaml:"call_timeout"`
	StreamGroupSize      int           `yaml:"stream_group_size"`
	PrefilterEnabled     bool          `yaml:"prefilter_enabled"`

	// Document storage
	StoreBackend    string        `yaml:"store_backend"` // "sqlite", "pathstore" or "memory"
	SQLitePath      string        `yaml:"sqlite_path"`
	PathstoreURL    string        `yaml:"pathstore_url"`
	PathstoreAPIKey string        `yaml:"pathstore_api_key"`
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	DefaultQuota    int           `yaml:"default_quota"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`
	StoreRetries int `yaml:"store_retries"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`

	// Tracing; disabled when the endpoint is empty.
	TracingEndpoint   string  `yaml:"tracing_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	q := query.DefaultConfig()
	return Config{
		Port: "8090",

		LLMProvider: "anthropic",
		LLMModel:    "claude-sonnet-4-5-20250929",
		LLMTimeout:  2 * time.Minute,
		DNSRefresh:  5 * time.Minute,

		TokenEncoding:   "cl100k_base",
		TokenMultiplier: 1.10,

		ModelWindow:          q.ModelWindow,
		MaxOutputTokens:      q.MaxOutputTokens,
		CompletionReserve:    q.CompletionReserve,
		MinCompletionReserve: q.MinCompletionReserve,
		MaxChunks:            q.MaxChunks,
		MaxAttempts:          q.MaxAttempts,
		PoolSize:             q.PoolSize,
		CallTimeout:          q.CallTimeout,
		StreamGroupSize:      q.StreamGroupSize,

		StoreBackend: "sqlite",
		SQLitePath:   "docask.db",
		PathstoreURL: "http://localhost:8080",
		CacheSize:    1000,
		CacheTTL:     10 * time.Minute,
		DefaultQuota: 5,

		WorkerCount:  4,
		MaxQueueSize: 100,
		StoreRetries: 3,

		MaxUploadBytes: 52428800, // 50MB

		JobTTL: 1 * time.Hour,

		PDFFallbackPdftotext: true,

		TracingSampleRate: 1.0,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Load builds the configuration.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("DOCASK_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("DOCASK_API_KEY", cfg.APIKey)

	cfg.LLMProvider = envOr("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMAPIKey = envOr("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModel = envOr("LLM_MODEL", cfg.LLMModel)
	cfg.LLMBaseURL = envOr("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMTimeout = envDuration("LLM_TIMEOUT", cfg.LLMTimeout)
	cfg.DNSRefresh = envDuration("DNS_REFRESH", cfg.DNSRefresh)

	cfg.TokenEncoding = envOr("TOKEN_ENCODING", cfg.TokenEncoding)
	cfg.TokenMultiplier = envFloat("TOKEN_MULTIPLIER", cfg.TokenMultiplier)

	cfg.ModelWindow = envInt("MODEL_WINDOW", cfg.ModelWindow)
	cfg.MaxOutputTokens = envInt("MAX_OUTPUT_TOKENS", cfg.MaxOutputTokens)
	cfg.CompletionReserve = envInt("COMPLETION_RESERVE", cfg.CompletionReserve)
	cfg.MinCompletionReserve = envInt("MIN_COMPLETION_RESERVE", cfg.MinCompletionReserve)
	cfg.MaxChunkTokens = envInt("MAX_CHUNK_TOKENS", cfg.MaxChunkTokens)
	cfg.MaxChunks = envInt("MAX_CHUNKS", cfg.MaxChunks)
	cfg.MaxAttempts = envInt("MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.PoolSize = envInt("POOL_SIZE", cfg.PoolSize)
	cfg.CallTimeout = envDuration("CALL_TIMEOUT", cfg.CallTimeout)
	cfg.StreamGroupSize = envInt("STREAM_GROUP_SIZE", cfg.StreamGroupSize)
	cfg.PrefilterEnabled = envBool("PREFILTER_ENABLED", cfg.PrefilterEnabled)

	cfg.StoreBackend = envOr("STORE_BACKEND", cfg.StoreBackend)
	cfg.SQLitePath = envOr("SQLITE_PATH", cfg.SQLitePath)
	cfg.PathstoreURL = envOr("PATHSTORE_URL", cfg.PathstoreURL)
	cfg.PathstoreAPIKey = envOr("PATHSTORE_API_KEY", cfg.PathstoreAPIKey)
	cfg.CacheSize = envInt("CACHE_SIZE", cfg.CacheSize)
	cfg.CacheTTL = envDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.DefaultQuota = envInt("DEFAULT_QUOTA", cfg.DefaultQuota)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.StoreRetries = envInt("STORE_RETRIES", cfg.StoreRetries)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)
	cfg.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", cfg.PDFFallbackPdftotext)

	cfg.TracingEndpoint = envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", cfg.TracingSampleRate)
	cfg.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		if val, ok := os.LookupEnv(string(match[2 : len(match)-1])); ok {
			return []byte(val)
		}
		return match
	})
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Query returns the engine settings, starting from the engine defaults.
func (c Config) Query() query.Config {
	q := query.DefaultConfig()
	q.ModelWindow = c.ModelWindow
	q.MaxOutputTokens = c.MaxOutputTokens
	q.CompletionReserve = c.CompletionReserve
	q.MinCompletionReserve = c.MinCompletionReserve
	q.MaxChunkTokens = c.MaxChunkTokens
	q.MaxChunks = c.MaxChunks
	q.MaxAttempts = c.MaxAttempts
	q.PoolSize = c.PoolSize
	q.CallTimeout = c.CallTimeout
	q.StreamGroupSize = c.StreamGroupSize
	q.PrefilterEnabled = c.PrefilterEnabled
	return q
}

// Validate reports the first missing or inconsistent setting.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCASK_API_KEY is required")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	switch c.StoreBackend {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case "pathstore":
		if c.PathstoreAPIKey == "" {
			return fmt.Errorf("PATHSTORE_API_KEY is required for the pathstore backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if err := c.Query().Validate(); err != nil {
		return fmt.Errorf("query settings: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
