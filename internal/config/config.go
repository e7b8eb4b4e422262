// Package config loads the service configuration from a JSON file with
// environment substitution, on top of built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/mindprint/internal/profile"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Routing    RoutingConfig    `json:"routing"`
	Database   DatabaseConfig   `json:"database"`
	Memory     MemoryConfig     `json:"memory"`
	Vector     VectorConfig     `json:"vector"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Blob       BlobConfig       `json:"blob"`
	Enrollment EnrollmentConfig `json:"enrollment"`
	Chat       ChatConfig       `json:"chat"`
	Documents  DocumentConfig   `json:"documents"`
	Tasks      TasksConfig      `json:"tasks"`
}

type ServerConfig struct {
	Port            int      `json:"port"`
	LogLevel        string   `json:"log_level"`
	AllowedOrigins  []string `json:"allowed_origins"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

type ProviderConfig struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Endpoint    string   `json:"endpoint"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	Temperature float64  `json:"temperature,omitempty"`
	Timeout     Duration `json:"timeout,omitempty"`
}

// RoutingConfig binds generation tasks (persona, interview, evaluation) to
// provider IDs.
type RoutingConfig struct {
	Default   string              `json:"default"`
	Bindings  map[string]string   `json:"bindings"`
	Fallbacks map[string][]string `json:"fallbacks"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

// PostgresConfig: an empty DSN keeps every repository in process memory.
type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	CollectionPrefix string `json:"collection_prefix"`
}

// Memory repository backends.
const (
	MemoryBackendDefault = "default"
	MemoryBackendNeo4j   = "neo4j"
)

type MemoryConfig struct {
	Backend       string  `json:"backend"`
	MinSimilarity float64 `json:"min_similarity"`
}

// Vector index backends.
const (
	VectorScan    = "scan"
	VectorFlat    = "flat"
	VectorQdrant  = "qdrant"
	VectorChromem = "chromem"
)

type VectorConfig struct {
	Backend string        `json:"backend"`
	Chromem ChromemConfig `json:"chromem"`
}

type ChromemConfig struct {
	Path     string `json:"path"`
	Compress bool   `json:"compress"`
}

type EmbeddingConfig struct {
	Provider     string   `json:"provider"`
	Endpoint     string   `json:"endpoint"`
	Model        string   `json:"model"`
	APIKey       string   `json:"api_key"`
	Dimension    int      `json:"dimension"`
	Timeout      Duration `json:"timeout"`
	MaxChars     int      `json:"max_chars"`
	CacheEntries int      `json:"cache_entries"`
}

// Blob backends.
const (
	BlobNone  = "none"
	BlobLocal = "local"
	BlobGCS   = "gcs"
)

type BlobConfig struct {
	Backend string    `json:"backend"`
	Dir     string    `json:"dir"`
	GCS     GCSConfig `json:"gcs"`
}

type GCSConfig struct {
	Bucket          string `json:"bucket"`
	CredentialsFile string `json:"credentials_file"`
}

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

type EnrollmentConfig struct {
	Standard          profile.Minimums `json:"standard"`
	Trial             profile.Minimums `json:"trial"`
	EvaluationTimeout Duration         `json:"evaluation_timeout"`
	QuestionTimeout   Duration         `json:"question_timeout"`
	Lock              string           `json:"lock"`
	LockTTL           Duration         `json:"lock_ttl"`
}

type ChatConfig struct {
	HistoryLimit int `json:"history_limit"`
	MemoryLimit  int `json:"memory_limit"`
	ChunkLimit   int `json:"chunk_limit"`
	PerCategory  int `json:"per_category"`
	MaxTokens    int `json:"max_tokens"`
}

type DocumentConfig struct {
	ChunkSize      int   `json:"chunk_size"`
	ChunkOverlap   int   `json:"chunk_overlap"`
	MaxUploadBytes int64 `json:"max_upload_bytes"`
}

type TasksConfig struct {
	Workers int      `json:"workers"`
	Timeout Duration `json:"timeout"`
}

// Default returns the configuration used when a value is not set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3210,
			LogLevel:        "development",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Routing:  RoutingConfig{Bindings: map[string]string{}, Fallbacks: map[string][]string{}},
		Database: DatabaseConfig{Postgres: PostgresConfig{Migrations: "migrations"}},
		Memory:   MemoryConfig{Backend: MemoryBackendDefault, MinSimilarity: 0.3},
		Vector:   VectorConfig{Backend: VectorScan},
		Embedding: EmbeddingConfig{
			Timeout:      Duration(30 * time.Second),
			MaxChars:     8000,
			CacheEntries: 10000,
		},
		Blob: BlobConfig{Backend: BlobLocal, Dir: "data/blobs"},
		Enrollment: EnrollmentConfig{
			Standard:          profile.Minimums{Interactions: 40, PerCategory: 5},
			Trial:             profile.Minimums{Interactions: 16, PerCategory: 2},
			EvaluationTimeout: Duration(30 * time.Second),
			QuestionTimeout:   Duration(20 * time.Second),
			Lock:              LockLocal,
			LockTTL:           Duration(time.Minute),
		},
		Chat: ChatConfig{
			HistoryLimit: 20,
			MemoryLimit:  15,
			ChunkLimit:   5,
			PerCategory:  5,
			MaxTokens:    1024,
		},
		Documents: DocumentConfig{ChunkSize: 500, ChunkOverlap: 50, MaxUploadBytes: 10 << 20},
		Tasks:     TasksConfig{Workers: 4, Timeout: Duration(time.Minute)},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Expand substitutes ${VAR} and ${VAR:default} with environment values.
func Expand(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw JSON over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal([]byte(Expand(string(data))), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Documents.ChunkSize > 0, "documents.chunk_size must be positive")
	check(c.Documents.ChunkOverlap >= 0 && c.Documents.ChunkOverlap < c.Documents.ChunkSize,
		"documents.chunk_overlap %d must be in [0, chunk_size)", c.Documents.ChunkOverlap)
	check(c.Chat.HistoryLimit > 0, "chat.history_limit must be positive")
	check(c.Chat.MemoryLimit > 0, "chat.memory_limit must be positive")
	check(c.Chat.ChunkLimit > 0, "chat.chunk_limit must be positive")
	check(c.Chat.PerCategory > 0, "chat.per_category must be positive")
	check(c.Chat.MaxTokens > 0, "chat.max_tokens must be positive")
	check(c.Memory.MinSimilarity >= -1 && c.Memory.MinSimilarity <= 1,
		"memory.min_similarity %v must be in [-1, 1]", c.Memory.MinSimilarity)
	for name, m := range map[string]profile.Minimums{"standard": c.Enrollment.Standard, "trial": c.Enrollment.Trial} {
		check(m.Interactions > 0 && m.PerCategory >= 0, "enrollment.%s minimums must be positive", name)
	}
	check(c.Tasks.Workers > 0, "tasks.workers must be positive")
	// The lock must outlive the slowest generation call made while holding it.
	check(c.Enrollment.LockTTL > c.Enrollment.EvaluationTimeout,
		"enrollment.lock_ttl %s must exceed evaluation_timeout %s",
		c.Enrollment.LockTTL.D(), c.Enrollment.EvaluationTimeout.D())
	check(c.Enrollment.LockTTL > c.Enrollment.QuestionTimeout,
		"enrollment.lock_ttl %s must exceed question_timeout %s",
		c.Enrollment.LockTTL.D(), c.Enrollment.QuestionTimeout.D())

	switch c.Memory.Backend {
	case MemoryBackendDefault:
	case MemoryBackendNeo4j:
		check(c.Database.Neo4j.URI != "", "memory.backend neo4j needs database.neo4j.uri")
	default:
		check(false, "unknown memory.backend %q", c.Memory.Backend)
	}
	switch c.Vector.Backend {
	case VectorScan, VectorFlat, VectorChromem:
	case VectorQdrant:
		check(c.Database.Qdrant.Host != "" && c.Database.Qdrant.Port > 0, "vector.backend qdrant needs database.qdrant host and port")
	default:
		check(false, "unknown vector.backend %q", c.Vector.Backend)
	}
	switch c.Blob.Backend {
	case BlobNone:
	case BlobLocal:
		check(c.Blob.Dir != "", "blob.backend local needs blob.dir")
	case BlobGCS:
		check(c.Blob.GCS.Bucket != "", "blob.backend gcs needs blob.gcs.bucket")
	default:
		check(false, "unknown blob.backend %q", c.Blob.Backend)
	}
	switch c.Enrollment.Lock {
	case LockLocal:
	case LockRedis:
		check(c.Database.Redis.URL != "", "enrollment.lock redis needs database.redis.url")
	default:
		check(false, "unknown enrollment.lock %q", c.Enrollment.Lock)
	}

	ids := make(map[string]bool)
	for _, p := range c.Providers {
		check(p.ID != "", "provider without id")
		check(!ids[p.ID], "duplicate provider id %q", p.ID)
		ids[p.ID] = true
	}
	for task, id := range c.Routing.Bindings {
		check(ids[id], "routing.bindings.%s refers to unknown provider %q", task, id)
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration that reads "30s" style strings or
// nanosecond numbers from JSON.
type Duration time.Duration

// D returns the standard library value.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("duration: unexpected %s", b)
	}
	return nil
}
