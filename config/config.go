// Package config loads service configuration from the environment, with an
// optional YAML overlay file named by LINKDECK_CONFIG. Fields present in
// the file take precedence over environment values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Addr     string `env:"LINKDECK_ADDR" envDefault:":8080" yaml:"addr"`
	Backend  string `env:"LINKDECK_BACKEND" envDefault:"file" yaml:"backend"` // file | gist | sqlite | bolt
	LogLevel string `env:"LINKDECK_LOG_LEVEL" envDefault:"info" yaml:"log_level"`

	ActivityCap  int      `env:"LINKDECK_ACTIVITY_CAP" envDefault:"50" yaml:"activity_cap"`
	StaleAfter   Duration `env:"LINKDECK_STALE_AFTER" envDefault:"4m" yaml:"stale_after"`
	RefreshEvery Duration `env:"LINKDECK_REFRESH_EVERY" envDefault:"5m" yaml:"refresh_every"`
	SaveAttempts int      `env:"LINKDECK_SAVE_ATTEMPTS" envDefault:"3" yaml:"save_attempts"`
	SaveBackoff  Duration `env:"LINKDECK_SAVE_BACKOFF" envDefault:"100ms" yaml:"save_backoff"`

	File   FileConfig   `envPrefix:"LINKDECK_FILE_" yaml:"file"`
	Gist   GistConfig   `envPrefix:"LINKDECK_GIST_" yaml:"gist"`
	SQLite SQLiteConfig `envPrefix:"LINKDECK_SQLITE_" yaml:"sqlite"`
	Bolt   BoltConfig   `envPrefix:"LINKDECK_BOLT_" yaml:"bolt"`
}

// FileConfig configures the local JSON file backend.
type FileConfig struct {
	Path string `env:"PATH" envDefault:"data/links.json" yaml:"path"`
}

// GistConfig configures the GitHub Gist backend.
type GistConfig struct {
	ID       string `env:"ID" yaml:"id"`
	Token    string `env:"TOKEN" yaml:"token"`
	Filename string `env:"FILENAME" envDefault:"links.json" yaml:"filename"`
	APIBase  string `env:"API_BASE" yaml:"api_base"` // override for testing
}

// SQLiteConfig configures the SQLite document-store backend.
type SQLiteConfig struct {
	Path string `env:"PATH" envDefault:"data/links.db" yaml:"path"`
}

// BoltConfig configures the bbolt backend.
type BoltConfig struct {
	Path string `env:"PATH" envDefault:"data/links.bolt" yaml:"path"`
}

// Load parses the environment and applies the optional YAML overlay.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if path := os.Getenv("LINKDECK_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case "file", "sqlite", "bolt":
	case "gist":
		if c.Gist.ID == "" {
			return fmt.Errorf("config: gist backend requires LINKDECK_GIST_ID")
		}
	default:
		return fmt.Errorf("config: unknown backend %q (want file, gist, sqlite, or bolt)", c.Backend)
	}
	return nil
}

// Duration is a time.Duration that parses Go duration strings from both
// environment variables and YAML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler (used by env parsing).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
