package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the namelens configuration.
type Config struct {
	// DataDir holds one directory per version: <data_dir>/<version>/{mappings,owners}.
	DataDir string `yaml:"data_dir"`
	// Database is the SQLite file for guild defaults and build history.
	Database string `yaml:"database"`
	// LookupWait is how long a lookup waits for a build before reporting
	// that the database is still being built.
	LookupWait time.Duration `yaml:"lookup_wait"`

	Remote RemoteConfig `yaml:"remote"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// RemoteConfig points at an HTTP mirror of the data directory. An empty
// BaseURL disables downloads.
type RemoteConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
	// VersionsTTL is how long the mirror's version list is reused before it
	// is fetched again.
	VersionsTTL time.Duration `yaml:"versions_ttl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// Color is a pointer so a file can turn it off explicitly.
	Color *bool `yaml:"color"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	color := true
	return &Config{
		DataDir:    "data",
		Database:   filepath.Join(".namelens", "namelens.db"),
		LookupWait: 500 * time.Millisecond,
		Remote: RemoteConfig{
			UserAgent:   "namelens",
			VersionsTTL: 5 * time.Minute,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
			Color: &color,
		},
	}
}

// Load reads configuration from file, falling back to defaults, then applies
// environment overrides. If configPath is empty, it looks for namelens.yaml
// in the current directory. A .env file in the current directory is loaded
// into the environment first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if configPath == "" {
		configPath = "namelens.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Errorf("reading %s: %w", configPath, err)
	}
	if err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, errors.Errorf("parsing %s: %w", configPath, err)
		}
		cfg.Merge(&fileCfg)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from the specified directory.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, "namelens.yaml"))
}

// Merge combines another config into this one, with other taking precedence
// for every field it sets.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.Database != "" {
		c.Database = other.Database
	}
	if other.LookupWait > 0 {
		c.LookupWait = other.LookupWait
	}
	if other.Remote.BaseURL != "" {
		c.Remote.BaseURL = other.Remote.BaseURL
	}
	if other.Remote.UserAgent != "" {
		c.Remote.UserAgent = other.Remote.UserAgent
	}
	if other.Remote.VersionsTTL > 0 {
		c.Remote.VersionsTTL = other.Remote.VersionsTTL
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Color != nil {
		c.Log.Color = other.Log.Color
	}
}

// UseColor reports whether terminal colors are enabled.
func (c *Config) UseColor() bool {
	return c.Log.Color == nil || *c.Log.Color
}

// applyEnv overrides fields from NAMELENS_* variables.
func (c *Config) applyEnv() error {
	env := &Config{}
	env.DataDir = os.Getenv("NAMELENS_DATA_DIR")
	env.Database = os.Getenv("NAMELENS_DATABASE")
	env.Remote.BaseURL = os.Getenv("NAMELENS_REMOTE_URL")
	env.Remote.UserAgent = os.Getenv("NAMELENS_USER_AGENT")
	env.Log.Level = os.Getenv("NAMELENS_LOG_LEVEL")

	if v := os.Getenv("NAMELENS_LOOKUP_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Errorf("NAMELENS_LOOKUP_WAIT: %w", err)
		}
		env.LookupWait = d
	}
	if v := os.Getenv("NAMELENS_VERSIONS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Errorf("NAMELENS_VERSIONS_TTL: %w", err)
		}
		env.Remote.VersionsTTL = d
	}
	if v := os.Getenv("NAMELENS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Errorf("NAMELENS_PORT: %w", err)
		}
		env.Server.Port = port
	}
	if v := os.Getenv("NAMELENS_LOG_COLOR"); v != "" {
		color, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Errorf("NAMELENS_LOG_COLOR: %w", err)
		}
		env.Log.Color = &color
	}

	c.Merge(env)
	return nil
}
