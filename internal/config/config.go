package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries everything the api and worker processes need. Values come
// from the environment (a local .env is honored when present) plus the
// allowed-extension set from config/settings.json.
type Config struct {
	// Object storage.
	MinioEndpoint       string
	MinioPublicEndpoint string
	MinioAccessKey      string
	MinioSecretKey      string
	MinioBucket         string
	MinioSecure         bool

	// Redis (queues, results, upload records, event streams).
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Postgres.
	PostgresDSN string
	PoolMinSize int
	PoolMaxSize int

	// Embedder sidecar.
	EmbedEndpoint string
	EmbedDim      int
	EmbedBatch    int

	// LLM.
	LLMProvider     string
	LLMModel        string
	LLMTemperature  float64
	LLMMaxTokens    int
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaBaseURL   string
	VLLMBaseURL     string

	// Pipeline.
	MaxFileBytes     int64
	ChunkChars       int
	ChunkOverlap     int
	MinChunkChars    int
	TableMinAccuracy float64

	// Local data directory (session records).
	DataDir string

	AllowedExtensions []string
}

const (
	defaultMaxFileBytes = 50 << 20
	defaultEmbedDim     = 1024
)

// Load reads configuration from the environment and settings file.
func Load(settingsPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		MinioEndpoint:       getenv("MINIO_ENDPOINT", "localhost:9000"),
		MinioPublicEndpoint: os.Getenv("MINIO_PUBLIC_ENDPOINT"),
		MinioAccessKey:      os.Getenv("MINIO_ROOT_USER"),
		MinioSecretKey:      os.Getenv("MINIO_ROOT_PASSWORD"),
		MinioBucket:         getenv("MINIO_BUCKET", "knowhub"),
		MinioSecure:         boolenv("MINIO_SECURE", false),

		RedisHost:     getenv("REDIS_HOST", "localhost"),
		RedisPort:     getenv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intenv("REDIS_DB", 0),

		PostgresDSN: os.Getenv("PGVECTOR_DSN"),
		PoolMinSize: intenv("PG_POOL_MIN", 2),
		PoolMaxSize: intenv("PG_POOL_MAX", 10),

		EmbedEndpoint: getenv("EMBED_ENDPOINT", "http://localhost:8001/embed"),
		EmbedDim:      intenv("EMBED_DIM", defaultEmbedDim),
		EmbedBatch:    intenv("EMBED_BATCH", 8),

		LLMProvider:     getenv("LLM_PROVIDER", "openai"),
		LLMModel:        getenv("LLM_MODEL", "gpt-4"),
		LLMTemperature:  floatenv("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:    intenv("LLM_MAX_TOKENS", 2048),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaBaseURL:   getenv("OLLAMA_BASE_URL", "http://localhost:11434"),
		VLLMBaseURL:     getenv("VLLM_BASE_URL", "http://localhost:8000"),

		MaxFileBytes:     int64(intenv("MAX_FILE_BYTES", defaultMaxFileBytes)),
		ChunkChars:       intenv("CHUNK_CHARS", 1024),
		ChunkOverlap:     intenv("CHUNK_OVERLAP", 100),
		MinChunkChars:    intenv("MIN_CHUNK_CHARS", 50),
		TableMinAccuracy: floatenv("TABLE_MIN_ACCURACY", 80.0),

		DataDir: getenv("DATA_DIR", "data"),
	}

	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("PGVECTOR_DSN is required")
	}

	exts, err := loadAllowedExtensions(settingsPath)
	if err != nil {
		return nil, err
	}
	cfg.AllowedExtensions = exts

	return cfg, nil
}

// RedisAddr returns host:port for the go-redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// ExtensionAllowed reports whether ext (with leading dot, any case) is in
// the configured allow-list.
func (c *Config) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range c.AllowedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func loadAllowedExtensions(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	var settings struct {
		Extensions []string `json:"extensions"`
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}

	out := make([]string, 0, len(settings.Extensions))
	for _, e := range settings.Extensions {
		out = append(out, strings.ToLower(strings.TrimSpace(e)))
	}
	return out, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intenv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func floatenv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func boolenv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}
