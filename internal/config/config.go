// Package config loads and validates semsync configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDataDirName is the directory under $HOME where semsync stores its data.
	DefaultDataDirName = ".semsync"
	// DefaultConfigFile is the default config filename inside the data dir.
	DefaultConfigFile = "config.yaml"
	// IgnoreFileName is the per-project ignore file, gitignore semantics.
	IgnoreFileName = ".semsyncignore"
)

// Config holds the application configuration.
type Config struct {
	// DataDir is where semsync keeps vector collections and metadata.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir,omitempty"`

	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding,omitempty"`
	Indexing  IndexingConfig  `mapstructure:"indexing" yaml:"indexing,omitempty"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: "ollama" or "openai".
	Provider string `mapstructure:"provider" yaml:"provider,omitempty"`
	// Model is the embedding model name.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// OllamaURL is the Ollama API URL.
	OllamaURL string `mapstructure:"ollama_url" yaml:"ollama_url,omitempty"`
	// Dimensions is the embedding vector length.
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions,omitempty"`
	// OpenAIAPIKey can also be set via OPENAI_API_KEY or SEMSYNC_OPENAI_API_KEY.
	OpenAIAPIKey string `mapstructure:"openai_api_key" yaml:"openai_api_key,omitempty"`
	// OpenAIBaseURL overrides the OpenAI-compatible endpoint.
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url,omitempty"`
	// BatchTimeoutSeconds bounds a single embedding batch call.
	BatchTimeoutSeconds int `mapstructure:"batch_timeout_seconds" yaml:"batch_timeout_seconds,omitempty"`
}

// IndexingConfig holds chunking and enumeration settings.
type IndexingConfig struct {
	// ChunkSize is the chunk length in characters.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`
	// ChunkOverlap is the overlap between consecutive chunks in characters.
	ChunkOverlap int `mapstructure:"chunk_overlap" yaml:"chunk_overlap,omitempty"`
	// Extensions is the file extension allow-list (with leading dot).
	Extensions []string `mapstructure:"extensions" yaml:"extensions,omitempty"`
	// ExcludeDirs are directory base-name patterns skipped during enumeration.
	ExcludeDirs []string `mapstructure:"exclude_dirs" yaml:"exclude_dirs,omitempty"`
	// MaxFileSize is the maximum file size to index in bytes.
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`
	// ReindexIntervalSeconds is the scheduler interval between passes.
	ReindexIntervalSeconds int `mapstructure:"reindex_interval_seconds" yaml:"reindex_interval_seconds,omitempty"`
	// BatchSize is the number of chunks per embedding batch.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty"`
	// Workers bounds concurrent file processing within one pass.
	Workers int `mapstructure:"workers" yaml:"workers,omitempty"`
}

// ServerConfig holds server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host,omitempty"`
	Port int    `mapstructure:"port" yaml:"port,omitempty"`
}

// DefaultExtensions is the supported source file extension set.
var DefaultExtensions = []string{
	".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".cpp", ".c", ".h", ".hpp",
	".cs", ".go", ".rs", ".php", ".rb", ".swift", ".kt", ".scala",
	".sh", ".bash", ".zsh", ".fish", ".ps1", ".r", ".sql",
	".md", ".mdx", ".txt", ".rst", ".yml", ".yaml", ".json", ".xml",
	".html", ".htm", ".css", ".scss", ".sass", ".less", ".vue", ".svelte",
}

// DefaultExcludeDirs are directory names never descended into.
var DefaultExcludeDirs = []string{
	".git", "node_modules", "__pycache__", ".venv", "venv", "env", ".env",
	"dist", "build", ".next", "target", ".semsync",
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Embedding: EmbeddingConfig{
			Provider:            "ollama",
			Model:               "nomic-embed-text",
			OllamaURL:           "http://localhost:11434",
			Dimensions:          768,
			BatchTimeoutSeconds: 60,
		},
		Indexing: IndexingConfig{
			ChunkSize:              1000,
			ChunkOverlap:           200,
			Extensions:             DefaultExtensions,
			ExcludeDirs:            DefaultExcludeDirs,
			MaxFileSize:            1024 * 1024, // 1MB
			ReindexIntervalSeconds: 300,
			BatchSize:              32,
			Workers:                4,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDirName
	}
	return filepath.Join(home, DefaultDataDirName)
}

// Load reads configuration from the data dir config file and SEMSYNC_* env vars,
// falling back to defaults for anything unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEMSYNC")
	v.AutomaticEnv()

	if path == "" {
		path = filepath.Join(cfg.DataDir, DefaultConfigFile)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, env and defaults still apply.
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Embedding.OpenAIAPIKey == "" {
		cfg.Embedding.OpenAIAPIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that must hold before any pass runs.
func (c *Config) Validate() error {
	if c.Indexing.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk_size must be positive, got %d", c.Indexing.ChunkSize)
	}
	if c.Indexing.ChunkOverlap < 0 || c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("config: chunk_overlap must satisfy 0 <= overlap < chunk_size, got overlap=%d size=%d",
			c.Indexing.ChunkOverlap, c.Indexing.ChunkSize)
	}
	if c.Indexing.ReindexIntervalSeconds <= 0 {
		return fmt.Errorf("config: reindex_interval_seconds must be positive, got %d", c.Indexing.ReindexIntervalSeconds)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("config: embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// ReindexInterval returns the scheduler interval as a duration.
func (c *Config) ReindexInterval() time.Duration {
	return time.Duration(c.Indexing.ReindexIntervalSeconds) * time.Second
}

// BatchTimeout returns the per-batch embedding timeout as a duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Embedding.BatchTimeoutSeconds) * time.Second
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

// WriteDefault writes the current configuration to the data dir config file
// unless one already exists.
func (c *Config) WriteDefault() error {
	path := filepath.Join(c.DataDir, DefaultConfigFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := c.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
