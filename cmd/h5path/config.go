package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robert-malhotra/h5path/hdf5"
)

// Config is a storage profile loaded from YAML.
type Config struct {
	Storage struct {
		// Chunks sets the chunk size of the leading axes; remaining axes are
		// chunked whole. Empty keeps the source chunking.
		Chunks []int `yaml:"chunks,omitempty"`

		// Compression is one of gzip, lz4, zstd or none
		Compression string `yaml:"compression"`

		// Level is the gzip (0-9) or zstd (1-22) level
		Level int `yaml:"level"`

		Shuffle    bool `yaml:"shuffle"`
		Fletcher32 bool `yaml:"fletcher32"`
	} `yaml:"storage"`

	// Workers bounds parallel chunk encoding and decoding
	Workers int `yaml:"workers"`

	// CacheSize is the chunk cache limit in bytes per dataset
	CacheSize int `yaml:"cacheSize"`
}

// DefaultConfig returns the default profile: deflate level 5 with shuffle.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Storage.Compression = "gzip"
	cfg.Storage.Level = 5
	cfg.Storage.Shuffle = true
	cfg.Workers = runtime.NumCPU()
	cfg.CacheSize = 64 << 20
	return cfg
}

// LoadConfig loads a profile from a YAML file over the defaults.
// If the file doesn't exist, it returns the default profile.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if _, err := cfg.DatasetOptions(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes the profile to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// DatasetOptions converts the storage section to dataset options. Filters
// of a source dataset are always replaced, never combined.
func (c *Config) DatasetOptions() ([]hdf5.DatasetOption, error) {
	opts := []hdf5.DatasetOption{hdf5.WithoutFilters()}
	s := c.Storage
	for _, n := range s.Chunks {
		if n <= 0 {
			return nil, fmt.Errorf("chunk size %d must be positive", n)
		}
	}
	if len(s.Chunks) > 0 {
		opts = append(opts, hdf5.WithLeadingChunks(s.Chunks...))
	}
	if s.Shuffle {
		opts = append(opts, hdf5.WithShuffle())
	}
	switch strings.ToLower(s.Compression) {
	case "", "none":
	case "gzip", "deflate":
		if s.Level < 0 || s.Level > 9 {
			return nil, fmt.Errorf("gzip level %d out of range 0-9", s.Level)
		}
		opts = append(opts, hdf5.WithCompression(s.Level))
	case "lz4":
		opts = append(opts, hdf5.WithLZ4())
	case "zstd":
		opts = append(opts, hdf5.WithZstd(s.Level))
	default:
		return nil, fmt.Errorf("unknown compression %q", s.Compression)
	}
	if s.Fletcher32 {
		opts = append(opts, hdf5.WithFletcher32())
	}
	return opts, nil
}

// FileOptions converts the profile to file options.
func (c *Config) FileOptions() []hdf5.FileOption {
	var opts []hdf5.FileOption
	if c.Workers > 0 {
		opts = append(opts, hdf5.WithWorkers(c.Workers))
	}
	if c.CacheSize > 0 {
		opts = append(opts, hdf5.WithCacheSize(c.CacheSize))
	}
	return opts
}
