// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"patchpack/internal/compression"
)

type Config struct {
	Server struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		MaxUpload int64  `json:"max_upload"` // bytes accepted per container upload
	} `json:"server"`

	Database struct {
		Path     string `json:"path"`
		InMemory bool   `json:"in_memory"`
	} `json:"database"`

	Compression struct {
		Codec string `json:"codec"` // xz, zstd
		Level int    `json:"level"`
	} `json:"compression"`

	Workers   int      `json:"workers"`    // 0 means one per CPU
	CacheSize int      `json:"cache_size"` // containers kept in memory by the registry
	Ignore    []string `json:"ignore"`     // base-name patterns skipped by builds

	Environment string `json:"environment"` // dev, prod
	LogLevel    string `json:"log_level"`   // debug, info, warn, error
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{
		Workers:     0,
		CacheSize:   64,
		Environment: "development",
		LogLevel:    "info",
	}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8420
	cfg.Server.MaxUpload = 256 << 20
	cfg.Database.Path = ".patchpack/db"
	cfg.Compression.Codec = string(compression.XZ)
	cfg.Compression.Level = compression.DefaultOptions().Level
	return cfg
}

// Path returns the config file for the environment named by PATCHPACK_ENV
func Path() string {
	env := os.Getenv("PATCHPACK_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads a JSON config file on top of the defaults. A missing file at
// the environment's default path is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = Path()
	}

	config := Default()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return config, nil
		}
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if _, err := c.CompressionOptions(); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive")
	}
	return nil
}

// CompressionOptions converts the compression section for the codec
func (c *Config) CompressionOptions() (compression.Options, error) {
	alg, err := compression.ParseAlgorithm(c.Compression.Codec)
	if err != nil {
		return compression.Options{}, err
	}
	return compression.Options{Algorithm: alg, Level: c.Compression.Level}, nil
}
