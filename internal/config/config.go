// Package config loads and validates quarry configuration from YAML files
// and environment variables. Precedence, lowest to highest: built-in
// defaults, user config (~/.config/quarry/config.yaml), project config
// (.quarry.yaml in the working directory), QUARRY_* environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FusionPolicy selects how the two ranked lists are merged.
type FusionPolicy string

const (
	// FusionWeighted interpolates normalized scores with an alpha weight.
	FusionWeighted FusionPolicy = "weighted"
	// FusionRRF uses Reciprocal Rank Fusion.
	FusionRRF FusionPolicy = "rrf"
)

// Config represents the complete quarry configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Expansion  ExpansionConfig  `yaml:"expansion" json:"expansion"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Backends   BackendsConfig   `yaml:"backends" json:"backends"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// RetrievalConfig configures the fusion engine.
//
// Durations are strings ("2s", "200ms") so they round-trip through YAML;
// use the *Timeout() accessors to get parsed values.
type RetrievalConfig struct {
	// FusionPolicy is "weighted" (alpha interpolation) or "rrf".
	FusionPolicy FusionPolicy `yaml:"fusion_policy" json:"fusion_policy"`

	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MinAlpha and MaxAlpha bound the adaptive alpha range.
	MinAlpha float64 `yaml:"min_alpha" json:"min_alpha"`
	MaxAlpha float64 `yaml:"max_alpha" json:"max_alpha"`

	// DefaultAlpha is used when adaptive weighting is disabled and the
	// caller supplies no explicit alpha.
	DefaultAlpha float64 `yaml:"default_alpha" json:"default_alpha"`

	// AdaptiveAlpha computes alpha from query characteristics when the
	// caller supplies no explicit alpha.
	AdaptiveAlpha bool `yaml:"adaptive_alpha" json:"adaptive_alpha"`

	// DefaultTopK is the result count when the caller requests none.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`

	// MaxTopK caps the requested result count.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`

	// AutocutMax is the maximum number of trailing hits the relevance
	// cutoff may drop.
	AutocutMax int `yaml:"autocut_max" json:"autocut_max"`

	// AutocutFloor is the minimum number of hits kept before the gap
	// cutoff may trigger.
	AutocutFloor int `yaml:"autocut_floor" json:"autocut_floor"`

	// BackendTimeout bounds each backend call (default: "2s").
	BackendTimeout string `yaml:"backend_timeout" json:"backend_timeout"`

	// RequestTimeout bounds the whole retrieve operation (default: "5s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
}

// ExpansionConfig configures the external term-expansion service.
type ExpansionConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Timeout bounds the expansion call (default: "200ms"). Expansion
	// failure is never fatal so this stays small.
	Timeout  string `yaml:"timeout" json:"timeout"`
	MaxTerms int    `yaml:"max_terms" json:"max_terms"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Size    int  `yaml:"size" json:"size"`
	// TTL is the entry lifetime (default: "5m"). Staleness within the TTL
	// window is accepted; documents changed after an entry was written are
	// served stale until expiry.
	TTL string `yaml:"ttl" json:"ttl"`
}

// BackendsConfig selects and configures the search backends.
type BackendsConfig struct {
	// Keyword selects the keyword backend: "bleve" or "postgres".
	Keyword string `yaml:"keyword" json:"keyword"`
	// Vector selects the vector backend: "hnsw", "qdrant", or "postgres".
	Vector string `yaml:"vector" json:"vector"`

	// QdrantAddr is the qdrant gRPC address (default: "localhost:6334").
	QdrantAddr string `yaml:"qdrant_addr" json:"qdrant_addr"`
	// QdrantCollection is the qdrant collection name.
	QdrantCollection string `yaml:"qdrant_collection" json:"qdrant_collection"`
	// PostgresDSN is the connection string for the postgres backends.
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

// EmbeddingsConfig configures the embedding provider used by the in-process
// vector backend.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static" (deterministic, for tests/offline).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir holds the local indexes and the metadata store.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			FusionPolicy:   FusionWeighted,
			RRFConstant:    60,
			MinAlpha:       0.2,
			MaxAlpha:       0.95,
			DefaultAlpha:   0.5,
			AdaptiveAlpha:  true,
			DefaultTopK:    10,
			MaxTopK:        100,
			AutocutMax:     8,
			AutocutFloor:   1,
			BackendTimeout: "2s",
			RequestTimeout: "5s",
		},
		Expansion: ExpansionConfig{
			Enabled:  true,
			Endpoint: "http://localhost:5005",
			Timeout:  "200ms",
			MaxTerms: 5,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    1024,
			TTL:     "5m",
		},
		Backends: BackendsConfig{
			Keyword:          "bleve",
			Vector:           "hnsw",
			QdrantAddr:       "localhost:6334",
			QdrantCollection: "quarry_chunks",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			OllamaHost: "http://localhost:11434",
		},
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		LogLevel: "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".quarry", "data")
	}
	return filepath.Join(home, ".quarry", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/quarry/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/quarry/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quarry", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "quarry", "config.yaml")
	}
	return filepath.Join(home, ".config", "quarry", "config.yaml")
}

// ProjectConfigPath returns the project config path inside dir, preferring
// .quarry.yaml over .quarry.yml. Empty string when neither exists.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".quarry.yaml", ".quarry.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/quarry/config.yaml)
//  3. Project config (.quarry.yaml in dir)
//  4. Environment variables (QUARRY_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if _, err := os.Stat(userPath); err == nil {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if p := ProjectConfigPath(dir); p != "" {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies QUARRY_* environment variables. Invalid values
// are ignored in favor of the current setting.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QUARRY_FUSION_POLICY"); v != "" {
		c.Retrieval.FusionPolicy = FusionPolicy(strings.ToLower(v))
	}
	if v := os.Getenv("QUARRY_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("QUARRY_DEFAULT_ALPHA"); v != "" {
		if a, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && a >= 0 && a <= 1 {
			c.Retrieval.DefaultAlpha = a
		}
	}
	if v := os.Getenv("QUARRY_CACHE_TTL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = v
		}
	}
	if v := os.Getenv("QUARRY_EXPANSION_ENDPOINT"); v != "" {
		c.Expansion.Endpoint = v
	}
	if v := os.Getenv("QUARRY_KEYWORD_BACKEND"); v != "" {
		c.Backends.Keyword = v
	}
	if v := os.Getenv("QUARRY_VECTOR_BACKEND"); v != "" {
		c.Backends.Vector = v
	}
	if v := os.Getenv("QUARRY_QDRANT_ADDR"); v != "" {
		c.Backends.QdrantAddr = v
	}
	if v := os.Getenv("QUARRY_POSTGRES_DSN"); v != "" {
		c.Backends.PostgresDSN = v
	}
	if v := os.Getenv("QUARRY_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("QUARRY_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("QUARRY_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the final configuration for consistency.
func (c *Config) Validate() error {
	switch c.Retrieval.FusionPolicy {
	case FusionWeighted, FusionRRF:
	default:
		return fmt.Errorf("retrieval.fusion_policy must be 'weighted' or 'rrf', got %q", c.Retrieval.FusionPolicy)
	}

	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}

	if c.Retrieval.MinAlpha < 0 || c.Retrieval.MinAlpha > 1 {
		return fmt.Errorf("retrieval.min_alpha must be between 0 and 1, got %f", c.Retrieval.MinAlpha)
	}
	if c.Retrieval.MaxAlpha < 0 || c.Retrieval.MaxAlpha > 1 {
		return fmt.Errorf("retrieval.max_alpha must be between 0 and 1, got %f", c.Retrieval.MaxAlpha)
	}
	if c.Retrieval.MinAlpha > c.Retrieval.MaxAlpha {
		return fmt.Errorf("retrieval.min_alpha (%f) must not exceed max_alpha (%f)",
			c.Retrieval.MinAlpha, c.Retrieval.MaxAlpha)
	}
	if c.Retrieval.DefaultAlpha < 0 || c.Retrieval.DefaultAlpha > 1 ||
		math.IsNaN(c.Retrieval.DefaultAlpha) {
		return fmt.Errorf("retrieval.default_alpha must be between 0 and 1, got %f", c.Retrieval.DefaultAlpha)
	}

	if c.Retrieval.DefaultTopK <= 0 {
		return fmt.Errorf("retrieval.default_top_k must be positive, got %d", c.Retrieval.DefaultTopK)
	}
	if c.Retrieval.MaxTopK < c.Retrieval.DefaultTopK {
		return fmt.Errorf("retrieval.max_top_k (%d) must be >= default_top_k (%d)",
			c.Retrieval.MaxTopK, c.Retrieval.DefaultTopK)
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"retrieval.backend_timeout", c.Retrieval.BackendTimeout},
		{"retrieval.request_timeout", c.Retrieval.RequestTimeout},
		{"expansion.timeout", c.Expansion.Timeout},
		{"cache.ttl", c.Cache.TTL},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", d.name, d.value)
		}
	}

	validKeyword := map[string]bool{"bleve": true, "postgres": true}
	if !validKeyword[strings.ToLower(c.Backends.Keyword)] {
		return fmt.Errorf("backends.keyword must be 'bleve' or 'postgres', got %q", c.Backends.Keyword)
	}
	validVector := map[string]bool{"hnsw": true, "qdrant": true, "postgres": true}
	if !validVector[strings.ToLower(c.Backends.Vector)] {
		return fmt.Errorf("backends.vector must be 'hnsw', 'qdrant', or 'postgres', got %q", c.Backends.Vector)
	}

	validProviders := map[string]bool{"ollama": true, "static": true}
	if c.Embeddings.Provider != "" && !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.LogLevel)
	}

	return nil
}

// GetBackendTimeout returns the parsed per-backend timeout.
func (c *RetrievalConfig) GetBackendTimeout() time.Duration {
	return parseDurationOr(c.BackendTimeout, 2*time.Second)
}

// GetRequestTimeout returns the parsed whole-request timeout.
func (c *RetrievalConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.RequestTimeout, 5*time.Second)
}

// GetTimeout returns the parsed expansion timeout.
func (c *ExpansionConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 200*time.Millisecond)
}

// GetTTL returns the parsed cache TTL.
func (c *CacheConfig) GetTTL() time.Duration {
	return parseDurationOr(c.TTL, 5*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
