package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store and provider selectors
const (
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"

	KnowledgeStoreFile   = "file"
	KnowledgeStoreBadger = "badger"

	EmbeddingProviderOllama = "ollama"
	EmbeddingProviderOpenAI = "openai"

	GenerationProviderTogether = "together"
	GenerationProviderOpenAI   = "openai"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	AuditDatabase *DatabaseConfig // Optional: when nil, audit records are kept in memory.
	Redis         RedisConfig
	Knowledge     KnowledgeConfig
	Embedding     EmbeddingConfig
	Generation    GenerationConfig
	Session       SessionConfig
	Audit         AuditConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the session store connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// KnowledgeConfig selects and locates the knowledge base store
type KnowledgeConfig struct {
	Store        string // file or badger
	SnapshotPath string
	LogPath      string
	BadgerDir    string
	Threshold    float64
}

// EmbeddingConfig holds the embedding provider configuration
type EmbeddingConfig struct {
	Provider   string // ollama or openai
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	CacheSize  int
	CacheTTL   time.Duration
}

// GenerationConfig holds the completion backend configuration
type GenerationConfig struct {
	Provider    string // together or openai
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Timeout     time.Duration
	MaxRetries  int
}

// SessionConfig selects the session consistency policy
type SessionConfig struct {
	Store      string // redis or memory
	MaxRetries int
	CookieName string
	CookieTTL  time.Duration
}

// AuditConfig sizes the asynchronous audit writer
type AuditConfig struct {
	Workers     int
	QueueSize   int
	StopTimeout time.Duration
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	TokenTTL   time.Duration
	CookieName string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 75*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		AuditDatabase: loadAuditDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "chat:sessions:"),
		},
		Knowledge: KnowledgeConfig{
			Store:        getEnv("KNOWLEDGE_STORE", KnowledgeStoreFile),
			SnapshotPath: getEnv("KNOWLEDGE_SNAPSHOT_PATH", "data/data.json"),
			LogPath:      getEnv("KNOWLEDGE_LOG_PATH", "data/data.log"),
			BadgerDir:    getEnv("KNOWLEDGE_BADGER_DIR", "data/kb"),
			Threshold:    getEnvAsFloat("SEMANTIC_THRESHOLD", 0.7),
		},
		Embedding: EmbeddingConfig{
			Provider:   getEnv("EMBEDDING_PROVIDER", EmbeddingProviderOllama),
			BaseURL:    getEnv("EMBEDDING_BASE_URL", ""),
			APIKey:     getEnv("EMBEDDING_API_KEY", ""),
			Model:      getEnv("EMBEDDING_MODEL", ""),
			Timeout:    getEnvAsDuration("EMBEDDING_TIMEOUT", 15*time.Second),
			MaxRetries: getEnvAsInt("EMBEDDING_MAX_RETRIES", 2),
			CacheSize:  getEnvAsInt("EMBEDDING_CACHE_SIZE", 1024),
			CacheTTL:   getEnvAsDuration("EMBEDDING_CACHE_TTL", 10*time.Minute),
		},
		Generation: GenerationConfig{
			Provider:    getEnv("GENERATION_PROVIDER", GenerationProviderTogether),
			APIKey:      getEnv("TOGETHER_API_KEY", getEnv("GENERATION_API_KEY", "")),
			BaseURL:     getEnv("GENERATION_BASE_URL", ""),
			Model:       getEnv("GENERATION_MODEL", ""),
			MaxTokens:   getEnvAsInt("GENERATION_MAX_TOKENS", 800),
			Temperature: getEnvAsFloat("GENERATION_TEMPERATURE", 0.7),
			TopP:        getEnvAsFloat("GENERATION_TOP_P", 0.9),
			Timeout:     getEnvAsDuration("GENERATION_TIMEOUT", 60*time.Second),
			MaxRetries:  getEnvAsInt("GENERATION_MAX_RETRIES", 2),
		},
		Session: SessionConfig{
			Store:      getEnv("SESSION_STORE", SessionStoreMemory),
			MaxRetries: getEnvAsInt("SESSION_MAX_RETRIES", 5),
			CookieName: getEnv("SESSION_COOKIE_NAME", "chat_session"),
			CookieTTL:  getEnvAsDuration("SESSION_COOKIE_TTL", 30*24*time.Hour),
		},
		Audit: AuditConfig{
			Workers:     getEnvAsInt("AUDIT_WORKERS", 4),
			QueueSize:   getEnvAsInt("AUDIT_QUEUE_SIZE", 256),
			StopTimeout: getEnvAsDuration("AUDIT_STOP_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
			Issuer:     getEnv("AUTH_ISSUER", "chat-gateway"),
			TokenTTL:   getEnvAsDuration("AUTH_TOKEN_TTL", 24*time.Hour),
			CookieName: getEnv("AUTH_COOKIE_NAME", "auth_token"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("AUTH_JWT_SECRET is required in production")
		}
		c.Auth.JWTSecret = "dev-secret-change-me"
	}

	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	if c.Session.MaxRetries < 1 {
		return fmt.Errorf("SESSION_MAX_RETRIES must be at least 1")
	}

	switch c.Knowledge.Store {
	case KnowledgeStoreFile:
		if c.Knowledge.SnapshotPath == "" || c.Knowledge.LogPath == "" {
			return fmt.Errorf("knowledge snapshot and log paths are required")
		}
	case KnowledgeStoreBadger:
		if c.Knowledge.BadgerDir == "" {
			return fmt.Errorf("KNOWLEDGE_BADGER_DIR is required when KNOWLEDGE_STORE=badger")
		}
	default:
		return fmt.Errorf("unknown knowledge store %q", c.Knowledge.Store)
	}
	if c.Knowledge.Threshold < -1 || c.Knowledge.Threshold > 1 {
		return fmt.Errorf("SEMANTIC_THRESHOLD must be within [-1, 1]")
	}

	switch c.Embedding.Provider {
	case EmbeddingProviderOllama:
	case EmbeddingProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("EMBEDDING_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	switch c.Generation.Provider {
	case GenerationProviderTogether, GenerationProviderOpenAI:
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	if c.IsProduction() && c.Generation.APIKey == "" {
		return fmt.Errorf("generation API key is required in production")
	}

	if c.Audit.Workers < 1 {
		return fmt.Errorf("AUDIT_WORKERS must be at least 1")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadAuditDatabaseConfig loads the audit DB from DATABASE_URL or DB_HOST.
// Returns nil when neither is set.
func loadAuditDatabaseConfig() *DatabaseConfig {
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "chat"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "chat"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
