// Package config loads daemon and CLI settings.
//
// Precedence, lowest to highest: built-in defaults, the TOML file, a .env file
// in the working directory, then process environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents ~/.wptrack/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Database Database `toml:"database"`

	// SessionPath is the directory of the whatsmeow device store.
	SessionPath string `toml:"session_path"`
	// MediaPath is the directory attachments are written to.
	MediaPath string `toml:"media_path"`

	// Headless suppresses the terminal QR rendering. The QR file is always written.
	Headless bool `toml:"headless"`
	// Container forces plain console logs and a fixed device name.
	Container bool `toml:"container"`

	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`

	Pipeline Pipeline `toml:"pipeline"`
}

// Database selects and locates the metadata store.
type Database struct {
	Driver   string `toml:"driver"`
	Path     string `toml:"path"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	PoolSize int    `toml:"pool_size"`
}

// Pipeline tunes the ingestion worker.
type Pipeline struct {
	QueueSize       int      `toml:"queue_size"`
	MediaTimeout    Duration `toml:"media_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: Database{
			Driver:   "sqlite3",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Name:     "whatsapp_tracker",
			PoolSize: 10,
		},
		LogLevel: "info",
		Pipeline: Pipeline{
			QueueSize:       256,
			MediaTimeout:    Duration{60 * time.Second},
			ShutdownTimeout: Duration{15 * time.Second},
		},
	}
}

// Read decodes the TOML file at path over the defaults.
func Read(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path if it exists, then applies .env and environment overrides
// and validates the result. A missing file is only an error when required.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	if path != "" {
		read, err := Read(path)
		switch {
		case err == nil:
			cfg = read
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	dotenv, err := ReadDotEnv(".env")
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(EnvLookup(dotenv)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ReadDotEnv parses a .env file. A missing file yields an empty map.
func ReadDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

// EnvLookup consults the process environment first and falls back to dotenv,
// so exported variables win over the .env file.
func EnvLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	getInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	getBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	get("DB_DRIVER", &c.Database.Driver)
	get("DB_PATH", &c.Database.Path)
	get("DB_HOST", &c.Database.Host)
	getInt("DB_PORT", &c.Database.Port)
	get("DB_USER", &c.Database.User)
	if v, ok := lookup("DB_PASSWORD"); ok {
		c.Database.Password = v
	}
	get("DB_NAME", &c.Database.Name)
	getInt("DB_POOL_SIZE", &c.Database.PoolSize)
	// A DB_HOST without an explicit driver means the MySQL deployment.
	if _, ok := lookup("DB_DRIVER"); !ok {
		if v, ok := lookup("DB_HOST"); ok && v != "" {
			c.Database.Driver = "mysql"
		}
	}

	get("SESSION_PATH", &c.SessionPath)
	get("MEDIA_PATH", &c.MediaPath)
	getBool("HEADLESS", &c.Headless)
	getBool("CONTAINER_ENV", &c.Container)
	get("LOG_LEVEL", &c.LogLevel)
	get("METRICS_ADDR", &c.MetricsAddr)

	return errors.Join(errs...)
}

// Validate normalizes values and rejects unusable settings.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}

	switch c.Database.Driver {
	case "sqlite3":
	case "mysql":
		if c.Database.Host == "" || c.Database.Name == "" {
			return errors.New("mysql requires DB_HOST and DB_NAME")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or mysql, got %q", c.Database.Driver)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	if c.Database.PoolSize < 1 {
		return errors.New("DB_POOL_SIZE must be >= 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return errors.New("pipeline.queue_size must be >= 1")
	}
	if c.Pipeline.MediaTimeout.Duration <= 0 || c.Pipeline.ShutdownTimeout.Duration <= 0 {
		return errors.New("pipeline timeouts must be positive durations")
	}
	return nil
}
