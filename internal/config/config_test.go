package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Indexing.ChunkSize != 1000 || cfg.Indexing.ChunkOverlap != 200 {
		t.Errorf("chunking defaults: size=%d overlap=%d", cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	}
	if cfg.Indexing.ReindexIntervalSeconds != 300 {
		t.Errorf("reindex interval: got %d", cfg.Indexing.ReindexIntervalSeconds)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Dimensions != 768 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Indexing.ChunkSize = 0 }},
		{"overlap equals size", func(c *Config) { c.Indexing.ChunkOverlap = c.Indexing.ChunkSize }},
		{"negative overlap", func(c *Config) { c.Indexing.ChunkOverlap = -1 }},
		{"zero interval", func(c *Config) { c.Indexing.ReindexIntervalSeconds = 0 }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: ` + dir + `
embedding:
  provider: openai
  model: text-embedding-3-small
  dimensions: 1536
indexing:
  chunk_size: 512
  chunk_overlap: 64
  reindex_interval_seconds: 60
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Dimensions != 1536 {
		t.Errorf("embedding: %+v", cfg.Embedding)
	}
	if cfg.Indexing.ChunkSize != 512 || cfg.Indexing.ChunkOverlap != 64 {
		t.Errorf("indexing: size=%d overlap=%d", cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	}
	// Unset fields keep their defaults.
	if cfg.Indexing.BatchSize != 32 {
		t.Errorf("batch size default lost: %d", cfg.Indexing.BatchSize)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Indexing.ChunkSize != 1000 {
		t.Errorf("got %d", cfg.Indexing.ChunkSize)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("indexing:\n  chunk_size: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid chunk size")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.ReindexInterval() != 5*time.Minute {
		t.Errorf("interval: got %s", cfg.ReindexInterval())
	}
	if cfg.BatchTimeout() != time.Minute {
		t.Errorf("batch timeout: got %s", cfg.BatchTimeout())
	}
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.DataDir = filepath.Join(dir, "data")

	if err := cfg.WriteDefault(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfg.DataDir, DefaultConfigFile)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Indexing.ChunkSize != cfg.Indexing.ChunkSize {
		t.Errorf("roundtrip mismatch: %d", loaded.Indexing.ChunkSize)
	}
}
