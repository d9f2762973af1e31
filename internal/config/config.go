package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	pkgRetry "github.com/futig/rag-chat-backend/internal/pkg/retry"
	"github.com/joho/godotenv"
)

const (
	RetrievalWeaviate = "weaviate"
	RetrievalHTTP     = "http"

	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	// Server configuration
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8000"`
	APIKey     string `env:"API_KEY"`

	// Logging configuration
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backends selection
	RetrievalBackend string `env:"RETRIEVAL_BACKEND" envDefault:"weaviate"`
	CacheBackend     string `env:"CACHE_BACKEND" envDefault:"redis"`

	// Mock configuration
	EnableMocks bool `env:"ENABLE_MOCKS" envDefault:"false"`

	// Session registry database (in-memory registry when empty)
	DatabaseURL         string        `env:"DATABASE_URL"`
	DBMaxConns          int           `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns          int           `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`

	// External service configurations
	RedisCfg        RedisConfig        `envPrefix:"REDIS_"`
	WeaviateCfg     WeaviateConfig     `envPrefix:"WEAVIATE_"`
	OpenAICfg       OpenAIConfig       `envPrefix:"OPENAI_"`
	RAGConnectorCfg RAGConnectorConfig `envPrefix:"RAG_"`

	// Conversational core
	MemoryCfg   MemoryConfig
	AnalyzerCfg AnalyzerConfig
	RewriterCfg RewriterConfig
	ChatCfg     ChatConfig

	// Telegram bot configuration (optional)
	TelegramCfg TelegramConfig `envPrefix:"TELEGRAM_"`

	TelemetryCfg TelemetryConfig      `envPrefix:"TELEMETRY_"`
	StartupRetry pkgRetry.RetryConfig `envPrefix:"STARTUP_RETRY_"`

	// Environment (set from flag, not from env var)
	Environment string
}

// MemoryConfig controls the short-term buffer and long-term memory
type MemoryConfig struct {
	CacheTTL           time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	ShortTermLimit     int           `env:"SHORT_TERM_LIMIT" envDefault:"10"`  // messages kept after summarization
	SummaryThreshold   int           `env:"SUMMARY_THRESHOLD" envDefault:"16"` // buffer length that triggers summarization
	MaxContextMessages int           `env:"MAX_CONTEXT_MESSAGES" envDefault:"10"`
	MaxMemories        int           `env:"MAX_LONG_TERM_MEMORIES" envDefault:"3"`
	ImportanceWeight   float64       `env:"MEMORY_IMPORTANCE_WEIGHT" envDefault:"1.0"`
	AccessWeight       float64       `env:"MEMORY_ACCESS_WEIGHT" envDefault:"0.25"`
	RelevanceWeight    float64       `env:"MEMORY_RELEVANCE_WEIGHT" envDefault:"1.0"`
	SummaryTimeout     time.Duration `env:"SUMMARY_TIMEOUT" envDefault:"30s"`
}

type AnalyzerConfig struct {
	ClassificationModel   string        `env:"CLASSIFICATION_MODEL" envDefault:"gpt-3.5-turbo"`
	TopicOverlapThreshold float64       `env:"TOPIC_OVERLAP_THRESHOLD" envDefault:"0.3"`
	Timeout               time.Duration `env:"ANALYZER_TIMEOUT" envDefault:"10s"`
}

type RewriterConfig struct {
	RewriteModel   string        `env:"REWRITE_MODEL" envDefault:"gpt-3.5-turbo"`
	UseLLM         bool          `env:"REWRITE_WITH_LLM" envDefault:"true"`
	RecentMessages int           `env:"REWRITE_RECENT_MESSAGES" envDefault:"6"`
	Timeout        time.Duration `env:"REWRITE_TIMEOUT" envDefault:"10s"`
}

type ChatConfig struct {
	ResponseModel      string        `env:"RESPONSE_MODEL" envDefault:"gpt-4"`
	MaxRetrievedDocs   int           `env:"MAX_RETRIEVED_DOCS" envDefault:"5"`
	ContextWindowLimit int           `env:"CONTEXT_WINDOW_LIMIT" envDefault:"4000"`
	GenerationTimeout  time.Duration `env:"GENERATION_TIMEOUT" envDefault:"60s"`
	RetrievalTimeout   time.Duration `env:"RETRIEVAL_TIMEOUT" envDefault:"10s"`
	CacheTimeout       time.Duration `env:"CACHE_TIMEOUT" envDefault:"5s"`
	MaxMessageLength   int           `env:"MAX_MESSAGE_LENGTH" envDefault:"8000"` // runes
}

type RedisConfig struct {
	URL          string        `env:"URL" envDefault:"redis://localhost:6379"`
	KeyPrefix    string        `env:"KEY_PREFIX" envDefault:"ragchat"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
}

type WeaviateConfig struct {
	HTTPClientConfig
	APIKey      string  `env:"API_KEY"`
	ClassName   string  `env:"CLASS_NAME" envDefault:"Documents"`
	HybridAlpha float32 `env:"HYBRID_ALPHA" envDefault:"0.7"`
	OwnerSample int     `env:"OWNER_SAMPLE" envDefault:"150"`
}

type OpenAIConfig struct {
	HTTPClientConfig
	APIKey string `env:"API_KEY"`
}

type RAGConnectorConfig struct {
	HTTPClientConfig
	SearchEndpoint string `env:"SEARCH_ENDPOINT" envDefault:"/api/v1/search"`
}

type HTTPClientConfig struct {
	RequestTimeout        time.Duration `env:"TIMEOUT" envDefault:"60s"`
	ConnTimeout           time.Duration `env:"CONN_TIMEOUT" envDefault:"5s"`
	KeepAlive             time.Duration `env:"KEEP_ALIVE" envDefault:"30s"`
	IdleConnTimeout       time.Duration `env:"IDLE_CONN_TIMEOUT" envDefault:"90s"`
	ResponseHeaderTimeout time.Duration `env:"RESPONSE_HEADER_TIMEOUT" envDefault:"60s"`
	Token                 string        `env:"TOKEN"`
	AuthHeader            string        `env:"AUTH_HEADER"`
	Url                   string        `env:"SERVICE_URL"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken           string `env:"BOT_TOKEN"`
	UpdateTimeout      int    `env:"UPDATE_TIMEOUT" envDefault:"60"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	RateLimitBurst     int    `env:"RATE_LIMIT_BURST" envDefault:"5"`
	ShutdownTimeout    int    `env:"SHUTDOWN_TIMEOUT" envDefault:"30"` // seconds
}

type TelemetryConfig struct {
	TraceExporter string `env:"TRACE_EXPORTER" envDefault:"none"` // none, stdout, otlp
	OTLPEndpoint  string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTLPInsecure  bool   `env:"OTLP_INSECURE" envDefault:"true"`
	ServiceName   string `env:"SERVICE_NAME" envDefault:"rag-chat-backend"`
}

func LoadConfig() (*Config, error) {
	envFlag := flag.String("env", "local", "Environment to run (local, prod, or custom)")
	flag.Parse()

	envFile := getEnvFile(*envFlag)
	// Try to load env file, but don't fail if it's missing.
	// In containerized/prod environments variables are usually set externally.
	if err := godotenv.Load(envFile); err != nil {
		fmt.Printf("Warning: could not load %s file (this is ok if env vars are set externally): %v\n", envFile, err)
	}

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	cfg.Environment = *envFlag

	return cfg, nil
}

// Parse reads the configuration from the process environment and validates it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if !cfg.EnableMocks && cfg.OpenAICfg.Url == "" {
		cfg.OpenAICfg.Url = "https://api.openai.com/v1"
	}
	if cfg.WeaviateCfg.Url == "" {
		cfg.WeaviateCfg.Url = "http://localhost:8080"
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	var errors []string

	switch cfg.RetrievalBackend {
	case RetrievalWeaviate, RetrievalHTTP:
	default:
		errors = append(errors, fmt.Sprintf("RETRIEVAL_BACKEND must be %q or %q, got %q", RetrievalWeaviate, RetrievalHTTP, cfg.RetrievalBackend))
	}

	switch cfg.CacheBackend {
	case CacheRedis, CacheMemory:
	default:
		errors = append(errors, fmt.Sprintf("CACHE_BACKEND must be %q or %q, got %q", CacheRedis, CacheMemory, cfg.CacheBackend))
	}

	if cfg.RetrievalBackend == RetrievalHTTP && cfg.RAGConnectorCfg.Url == "" && !cfg.EnableMocks {
		errors = append(errors, "RAG_SERVICE_URL is required when RETRIEVAL_BACKEND=http")
	}

	// Validate memory configuration
	m := cfg.MemoryCfg
	if m.ShortTermLimit < 1 || m.ShortTermLimit > 200 {
		errors = append(errors, fmt.Sprintf("SHORT_TERM_LIMIT must be between 1 and 200, got %d", m.ShortTermLimit))
	}
	if m.SummaryThreshold <= m.ShortTermLimit {
		errors = append(errors, fmt.Sprintf("SUMMARY_THRESHOLD must be greater than SHORT_TERM_LIMIT(%d), got %d", m.ShortTermLimit, m.SummaryThreshold))
	}
	if m.MaxContextMessages < 1 {
		errors = append(errors, fmt.Sprintf("MAX_CONTEXT_MESSAGES must be positive, got %d", m.MaxContextMessages))
	}
	if m.CacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("CACHE_TTL must be positive, got %s", m.CacheTTL))
	}
	weights := []struct {
		name  string
		value float64
	}{
		{"MEMORY_IMPORTANCE_WEIGHT", m.ImportanceWeight},
		{"MEMORY_ACCESS_WEIGHT", m.AccessWeight},
		{"MEMORY_RELEVANCE_WEIGHT", m.RelevanceWeight},
	}
	for _, w := range weights {
		if w.value < 0 {
			errors = append(errors, fmt.Sprintf("%s must not be negative, got %v", w.name, w.value))
		}
	}

	if t := cfg.AnalyzerCfg.TopicOverlapThreshold; t < 0 || t > 1 {
		errors = append(errors, fmt.Sprintf("TOPIC_OVERLAP_THRESHOLD must be between 0 and 1, got %v", t))
	}

	if a := cfg.WeaviateCfg.HybridAlpha; a < 0 || a > 1 {
		errors = append(errors, fmt.Sprintf("WEAVIATE_HYBRID_ALPHA must be between 0 and 1, got %v", a))
	}

	if cfg.ChatCfg.MaxRetrievedDocs < 1 || cfg.ChatCfg.MaxRetrievedDocs > 50 {
		errors = append(errors, fmt.Sprintf("MAX_RETRIEVED_DOCS must be between 1 and 50, got %d", cfg.ChatCfg.MaxRetrievedDocs))
	}

	// Validate Telegram configuration
	if cfg.TelegramCfg.RateLimitPerMinute < 1 || cfg.TelegramCfg.RateLimitPerMinute > 60 {
		errors = append(errors, fmt.Sprintf("TELEGRAM_RATE_LIMIT_PER_MINUTE must be between 1 and 60, got %d", cfg.TelegramCfg.RateLimitPerMinute))
	}

	if cfg.TelegramCfg.RateLimitBurst < 1 || cfg.TelegramCfg.RateLimitBurst > 20 {
		errors = append(errors, fmt.Sprintf("TELEGRAM_RATE_LIMIT_BURST must be between 1 and 20, got %d", cfg.TelegramCfg.RateLimitBurst))
	}

	if cfg.TelegramCfg.ShutdownTimeout < 1 || cfg.TelegramCfg.ShutdownTimeout > 300 {
		errors = append(errors, fmt.Sprintf("TELEGRAM_SHUTDOWN_TIMEOUT must be between 1 and 300 seconds, got %d", cfg.TelegramCfg.ShutdownTimeout))
	}

	// Validate Database configuration
	if cfg.DBMaxConns < 1 || cfg.DBMaxConns > 200 {
		errors = append(errors, fmt.Sprintf("DB_MAX_CONNS must be between 1 and 200, got %d", cfg.DBMaxConns))
	}

	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		errors = append(errors, fmt.Sprintf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS(%d), got %d", cfg.DBMaxConns, cfg.DBMinConns))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func getEnvFile(environment string) string {
	switch environment {
	case "prod", "production":
		return ".env.prod"
	case "local", "dev", "development":
		return ".env.local"
	default:
		return fmt.Sprintf(".env.%s", environment)
	}
}
