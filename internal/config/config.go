package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default pipeline settings, applied where the config file leaves a
// field unset.
const (
	DefaultConcurrency = 4
	DefaultQueueSize   = 256
	DefaultChunkSize   = "128K"
)

// Config represents the main configuration for idem.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Roots      []string         `toml:"roots"`
	Store      StoreConfig      `toml:"store"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// StoreConfig represents configuration for the index store.
// This uses a tagged union pattern - the Type field determines which
// other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" (default) or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// PipelineConfig holds the hashing pipeline settings.
type PipelineConfig struct {
	Concurrency int    `toml:"concurrency"` // max simultaneous hashing operations
	QueueSize   int    `toml:"queue_size"`  // walker-to-scheduler backlog bound
	ChunkSize   string `toml:"chunk_size"`  // read buffer size, K/M/G suffixes allowed
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Pipeline: PipelineConfig{
			Concurrency: DefaultConcurrency,
			QueueSize:   DefaultQueueSize,
			ChunkSize:   DefaultChunkSize,
		},
	}
}

// Normalize fills unset pipeline fields with defaults and validates
// what is set.
func (c *Config) Normalize() error {
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = DefaultConcurrency
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = DefaultQueueSize
	}
	if c.Pipeline.ChunkSize == "" {
		c.Pipeline.ChunkSize = DefaultChunkSize
	}
	if _, err := ParseByteSize(c.Pipeline.ChunkSize); err != nil {
		return fmt.Errorf("invalid chunk_size: %w", err)
	}
	return nil
}

// ChunkSizeBytes returns the configured chunk size in bytes.
func (c *Config) ChunkSizeBytes() (int, error) {
	n, err := ParseByteSize(c.Pipeline.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk_size: %w", err)
	}
	return n, nil
}

// ParseByteSize parses a size given in bytes, or with a K, M or G
// suffix (e.g. "32K", "4M", "1G").
func ParseByteSize(value string) (int, error) {
	text := strings.ToUpper(strings.TrimSpace(value))
	if text == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := 1
	switch text[len(text)-1] {
	case 'K':
		multiplier = 1024
		text = text[:len(text)-1]
	case 'M':
		multiplier = 1024 * 1024
		text = text[:len(text)-1]
	case 'G':
		multiplier = 1024 * 1024 * 1024
		text = text[:len(text)-1]
	}

	base, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("size is not a number (only K, M and G suffixes are allowed): %q", value)
	}
	if base <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", value)
	}

	return base * multiplier, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies
// defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile writes a Config to the specified file path, creating the
// parent directory if needed.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path. It fails
// if the file already exists unless force is set.
func Init(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
