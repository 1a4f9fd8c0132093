// Package config loads the assistant's settings: a YAML file laid over
// built-in defaults, then MFFACTS_* environment overrides. A .env file in
// the working directory is read first when present. API keys never live in
// the YAML; each provider names the environment variable that holds its key.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MFFACTS_"

// Config is the root configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Sources     SourcesConfig     `yaml:"sources"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Build       BuildConfig       `yaml:"build"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	NATS        NATSConfig        `yaml:"nats"`
	Server      ServerConfig      `yaml:"server"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// SourcesConfig lists the pages to index.
type SourcesConfig struct {
	// URLFile holds one URL per line. Used when URLs is empty.
	URLFile string   `yaml:"url_file"`
	URLs    []string `yaml:"urls" validate:"dive,url"`
}

type SegmenterConfig struct {
	MaxPassageLength int `yaml:"max_passage_length" validate:"gt=0"`
}

// BuildConfig tunes the offline index build.
type BuildConfig struct {
	BatchSize       int `yaml:"batch_size" validate:"gt=0"`
	FetchWorkers    int `yaml:"fetch_workers" validate:"gt=0"`
	EmbedIntervalMS int `yaml:"embed_interval_ms" validate:"gte=0"`
	FetchIntervalMS int `yaml:"fetch_interval_ms" validate:"gte=0"`
}

type EmbedderConfig struct {
	Provider    string `yaml:"provider" validate:"oneof=openai ollama gemini"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Dimensions  int    `yaml:"dimensions" validate:"gte=0"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

type GeneratorConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=openai openrouter anthropic gemini"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	TimeoutSecs int           `yaml:"timeout_secs" validate:"gte=0"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig guards generation calls. A zero threshold disables it.
type BreakerConfig struct {
	FailThreshold int `yaml:"fail_threshold" validate:"gte=0"`
	ResetSecs     int `yaml:"reset_secs" validate:"gte=0"`
}

type VectorStoreConfig struct {
	Type     string         `yaml:"type" validate:"oneof=qdrant pgvector memory"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type RetrievalConfig struct {
	TopK              int     `yaml:"top_k" validate:"gt=0"`
	MultiFacetedTopK  int     `yaml:"multi_faceted_top_k" validate:"gt=0"`
	MinScore          float64 `yaml:"min_score" validate:"gte=0,lte=1"`
	KeywordFactor     int     `yaml:"keyword_factor" validate:"gte=1"`
	SearchTimeoutSecs int     `yaml:"search_timeout_secs" validate:"gte=0"`
}

// SnapshotConfig selects where the build writes parsed_data.json.
type SnapshotConfig struct {
	Type string   `yaml:"type" validate:"oneof=none local s3"`
	Dir  string   `yaml:"dir"`
	S3   S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	Port        string `yaml:"port" validate:"required,numeric"`
	MetricsPort string `yaml:"metrics_port" validate:"omitempty,numeric"`
	CORSOrigin  string `yaml:"cors_origin"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info"},
		Sources:   SourcesConfig{URLFile: "sources.csv"},
		Segmenter: SegmenterConfig{MaxPassageLength: 800},
		Build: BuildConfig{
			BatchSize:       50,
			FetchWorkers:    4,
			EmbedIntervalMS: 100,
			FetchIntervalMS: 250,
		},
		Embedder: EmbedderConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			Dimensions:  1536,
			TimeoutSecs: 30,
		},
		Generator: GeneratorConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 30,
			Breaker:     BreakerConfig{FailThreshold: 5, ResetSecs: 30},
		},
		VectorStore: VectorStoreConfig{
			Type:     "qdrant",
			Qdrant:   QdrantConfig{Addr: "localhost:6334", Collection: "mutual_funds"},
			Postgres: PostgresConfig{Table: "fund_passages"},
		},
		Retrieval: RetrievalConfig{
			TopK:              5,
			MultiFacetedTopK:  10,
			MinScore:          0.6,
			KeywordFactor:     2,
			SearchTimeoutSecs: 5,
		},
		Snapshot: SnapshotConfig{Type: "local", Dir: "data"},
		Server:   ServerConfig{Port: "8080", MetricsPort: "9090", CORSOrigin: "*"},
	}
}

// Load reads .env, then path (if non-empty and present), then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.applyKeyEnvDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.VectorStore.Type == "pgvector" && c.VectorStore.Postgres.DSN == "" {
		return errors.New("config: vector_store.postgres.dsn is required for pgvector")
	}
	if c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant.Addr == "" {
		return errors.New("config: vector_store.qdrant.addr is required for qdrant")
	}
	if c.Snapshot.Type == "s3" && c.Snapshot.S3.Bucket == "" {
		return errors.New("config: snapshot.s3.bucket is required for s3")
	}
	if c.Snapshot.Type == "local" && c.Snapshot.Dir == "" {
		return errors.New("config: snapshot.dir is required for local")
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Sources.URLFile = envOr("URL_FILE", c.Sources.URLFile)

	c.Embedder.Provider = envOr("EMBEDDER_PROVIDER", c.Embedder.Provider)
	c.Embedder.Model = envOr("EMBEDDER_MODEL", c.Embedder.Model)
	c.Embedder.BaseURL = envOr("EMBEDDER_BASE_URL", c.Embedder.BaseURL)
	c.Embedder.Dimensions = envInt("EMBEDDER_DIMENSIONS", c.Embedder.Dimensions)

	c.Generator.Provider = envOr("GENERATOR_PROVIDER", c.Generator.Provider)
	c.Generator.Model = envOr("GENERATOR_MODEL", c.Generator.Model)
	c.Generator.BaseURL = envOr("GENERATOR_BASE_URL", c.Generator.BaseURL)

	c.VectorStore.Type = envOr("VECTOR_STORE", c.VectorStore.Type)
	c.VectorStore.Qdrant.Addr = envOr("QDRANT_ADDR", c.VectorStore.Qdrant.Addr)
	c.VectorStore.Qdrant.Collection = envOr("QDRANT_COLLECTION", c.VectorStore.Qdrant.Collection)
	c.VectorStore.Postgres.DSN = envOr("PG_DSN", c.VectorStore.Postgres.DSN)

	c.Retrieval.TopK = envInt("TOP_K", c.Retrieval.TopK)

	c.Snapshot.Type = envOr("SNAPSHOT", c.Snapshot.Type)
	c.Snapshot.Dir = envOr("SNAPSHOT_DIR", c.Snapshot.Dir)
	c.Snapshot.S3.Bucket = envOr("S3_BUCKET", c.Snapshot.S3.Bucket)
	c.Snapshot.S3.Region = envOr("S3_REGION", c.Snapshot.S3.Region)

	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)

	c.Server.Port = envOr("PORT", c.Server.Port)
	c.Server.MetricsPort = envOr("METRICS_PORT", c.Server.MetricsPort)
	c.Server.CORSOrigin = envOr("CORS_ORIGIN", c.Server.CORSOrigin)
}

// defaultKeyEnv names the usual API key variable per provider.
var defaultKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

func (c *Config) applyKeyEnvDefaults() {
	if c.Embedder.APIKeyEnv == "" {
		c.Embedder.APIKeyEnv = defaultKeyEnv[c.Embedder.Provider]
	}
	if c.Generator.APIKeyEnv == "" {
		c.Generator.APIKeyEnv = defaultKeyEnv[c.Generator.Provider]
	}
	if c.Snapshot.S3.AccessKeyEnv == "" {
		c.Snapshot.S3.AccessKeyEnv = "AWS_ACCESS_KEY_ID"
	}
	if c.Snapshot.S3.SecretKeyEnv == "" {
		c.Snapshot.S3.SecretKeyEnv = "AWS_SECRET_ACCESS_KEY"
	}
}

// APIKey reads the embedder's key from the environment.
func (e EmbedderConfig) APIKey() string { return os.Getenv(e.APIKeyEnv) }

// Timeout returns the per-call timeout.
func (e EmbedderConfig) Timeout() time.Duration { return secs(e.TimeoutSecs) }

// APIKey reads the generator's key from the environment.
func (g GeneratorConfig) APIKey() string { return os.Getenv(g.APIKeyEnv) }

// Timeout returns the per-call timeout.
func (g GeneratorConfig) Timeout() time.Duration { return secs(g.TimeoutSecs) }

// ResetTimeout is how long an open breaker waits before probing.
func (b BreakerConfig) ResetTimeout() time.Duration { return secs(b.ResetSecs) }

// SearchTimeout bounds one vector store query.
func (r RetrievalConfig) SearchTimeout() time.Duration { return secs(r.SearchTimeoutSecs) }

// EmbedInterval is the minimum spacing between embedding calls.
func (b BuildConfig) EmbedInterval() time.Duration {
	return time.Duration(b.EmbedIntervalMS) * time.Millisecond
}

// FetchInterval is the minimum spacing between page downloads.
func (b BuildConfig) FetchInterval() time.Duration {
	return time.Duration(b.FetchIntervalMS) * time.Millisecond
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func envOr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
