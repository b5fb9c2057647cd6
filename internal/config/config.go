// Package config loads all runtime configuration.
//
// Values are resolved from, lowest to highest precedence: built-in defaults,
// an optional flat YAML file named by CONFIG_FILE, a .env file in the working
// directory, and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for AMA.
type Config struct {
	HTTP      HTTPConfig
	DB        DBConfig
	Log       LogConfig
	JWT       JWTConfig
	AI        AIConfig
	Redis     RedisConfig
	Microsoft MicrosoftConfig
	App       AppConfig
	Worker    WorkerConfig
	OTel      OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port               int
	BaseURL            string
	QuestionsPerMinute int
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "ama.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// JWTConfig holds JSON Web Token signing and expiry settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AIConfig holds embedding provider settings.
type AIConfig struct {
	Provider            string // "mock", "openai" or "ollama"
	APIKey              string //nolint:gosec // intentional: holds AI provider API key loaded from env
	APIBase             string
	OllamaBaseURL       string
	Model               string
	Dimensions          int
	SimilarityThreshold float64
	Timeout             time.Duration
	MaxRetries          int
	CacheSize           int
	CacheTTL            time.Duration
}

// RedisConfig enables the shared embedding cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // intentional: loaded from env
}

// MicrosoftConfig holds Microsoft identity platform OAuth settings.
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string //nolint:gosec // intentional: loaded from env
	Tenant       string
}

// Enabled reports whether Microsoft sign-in is configured.
func (m MicrosoftConfig) Enabled() bool {
	return m.ClientID != "" && m.ClientSecret != ""
}

// AppConfig holds application-level settings such as seed credentials.
type AppConfig struct {
	SeedAdminEmail    string
	SeedAdminPassword string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// source resolves keys against the process environment first and the
// optional config file second.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

// Load reads configuration, applies defaults, and returns an error if any
// required field is absent or malformed.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("CONFIG_FILE: %w", err)
		}
		src.file = file
	}

	cfg := &Config{}
	var err error

	// HTTP
	cfg.HTTP.Port = src.int("HTTP_PORT", 8080)
	cfg.HTTP.BaseURL = src.str("APP_BASE_URL", "http://localhost:8080")
	cfg.HTTP.QuestionsPerMinute = src.int("RATE_LIMIT_QUESTIONS", 10)

	// DB
	cfg.DB.Driver = src.str("DB_DRIVER", "sqlite")
	cfg.DB.File = src.str("DB_FILE", "ama.db")
	cfg.DB.DSN = src.get("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = src.int("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = src.str("LOG_LEVEL", "info")
	cfg.Log.Format = src.str("LOG_FORMAT", "json")

	// JWT (required)
	cfg.JWT.Secret = src.get("JWT_SECRET")
	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.JWT.AccessTTL, err = src.duration("JWT_ACCESS_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}
	if cfg.JWT.RefreshTTL, err = src.duration("JWT_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return nil, fmt.Errorf("JWT_REFRESH_TTL: %w", err)
	}

	// AI
	cfg.AI.Provider = src.str("AI_PROVIDER", "mock")
	switch cfg.AI.Provider {
	case "mock", "ollama":
	case "openai":
		cfg.AI.APIKey = src.get("AI_API_KEY")
		if cfg.AI.APIKey == "" {
			return nil, errors.New("AI_API_KEY is required when AI_PROVIDER=openai")
		}
	default:
		return nil, fmt.Errorf("AI_PROVIDER: unknown provider %q", cfg.AI.Provider)
	}
	cfg.AI.APIBase = src.str("AI_API_BASE", "https://api.openai.com/v1")
	cfg.AI.OllamaBaseURL = src.str("OLLAMA_BASE_URL", "http://localhost:11434")
	cfg.AI.Model = src.str("AI_EMBEDDING_MODEL", "text-embedding-ada-002")
	cfg.AI.Dimensions = src.int("AI_DIMENSIONS", 1536)
	if cfg.AI.SimilarityThreshold, err = src.float("AI_SIMILARITY_THRESHOLD", 0.85); err != nil {
		return nil, fmt.Errorf("AI_SIMILARITY_THRESHOLD: %w", err)
	}
	if cfg.AI.SimilarityThreshold <= 0 || cfg.AI.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("AI_SIMILARITY_THRESHOLD: %v is outside (0,1]", cfg.AI.SimilarityThreshold)
	}
	if cfg.AI.Timeout, err = src.duration("AI_TIMEOUT", 20*time.Second); err != nil {
		return nil, fmt.Errorf("AI_TIMEOUT: %w", err)
	}
	cfg.AI.MaxRetries = src.int("AI_MAX_RETRIES", 2)
	cfg.AI.CacheSize = src.int("AI_CACHE_SIZE", 1024)
	if cfg.AI.CacheTTL, err = src.duration("AI_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("AI_CACHE_TTL: %w", err)
	}

	// Redis
	cfg.Redis.Addr = src.get("REDIS_ADDR")
	cfg.Redis.Password = src.get("REDIS_PASSWORD")

	// Microsoft
	cfg.Microsoft.ClientID = src.get("MS_CLIENT_ID")
	cfg.Microsoft.ClientSecret = src.get("MS_CLIENT_SECRET")
	cfg.Microsoft.Tenant = src.str("MS_TENANT", "common")

	// App
	cfg.App.SeedAdminEmail = src.str("SEED_ADMIN_EMAIL", "admin@ama.local")
	cfg.App.SeedAdminPassword = src.get("SEED_ADMIN_PASSWORD")

	// Worker
	cfg.Worker.Concurrency = src.int("WORKER_CONCURRENCY", 4)

	// OTel
	cfg.OTel.OTLPEndpoint = src.get("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// readFile parses a flat YAML document of KEY: value pairs.
func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path comes from operator-controlled env
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) str(key, def string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return def
}

func (s source) int(key string, def int) int {
	v := s.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s source) float(key string, def float64) (float64, error) {
	v := s.get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", v, err)
	}
	return f, nil
}

func (s source) duration(key string, def time.Duration) (time.Duration, error) {
	v := s.get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
