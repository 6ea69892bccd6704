/*
config.go - Runtime configuration

PURPOSE:
  Resolves the settings for the server and the audit command. Values come,
  in increasing precedence, from built-in defaults, an optional TOML file,
  an optional .env file, and SPA_* environment variables. Command-line
  flags are applied on top by cmd/server.

EXAMPLE FILE:
  [server]
  host = "127.0.0.1"
  port = 8080
  read_timeout = "15s"

  [database]
  path = "spa.db"

  [log]
  level = "debug"

  [metrics]
  enabled = true

  [cors]
  allowed_origins = ["http://localhost:5173"]

SEE ALSO:
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvHost     = "SPA_HOST"
	EnvPort     = "SPA_PORT"
	EnvDBPath   = "SPA_DB_PATH"
	EnvLogLevel = "SPA_LOG_LEVEL"
	EnvMetrics  = "SPA_METRICS"
)

type Config struct {
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Log      Log      `toml:"log"`
	Metrics  Metrics  `toml:"metrics"`
	CORS     CORS     `toml:"cors"`
}

type Server struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

type Database struct {
	Path string `toml:"path"`
}

type Log struct {
	Level string `toml:"level"`
}

type Metrics struct {
	Enabled bool `toml:"enabled"`
}

type CORS struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Duration decodes TOML strings such as "15s" into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Server: Server{
			Port:         8080,
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{15 * time.Second},
		},
		Database: Database{Path: "spa.db"},
		Log:      Log{Level: "info"},
		Metrics:  Metrics{Enabled: true},
		CORS:     CORS{AllowedOrigins: []string{"*"}},
	}
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("config: database path is required")
	}
	return nil
}

// Load builds the configuration. An empty path skips the TOML file; a
// missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Server.Host = getString(EnvHost, c.Server.Host)
	c.Database.Path = getString(EnvDBPath, c.Database.Path)
	c.Log.Level = getString(EnvLogLevel, c.Log.Level)

	port, err := getInt(EnvPort, c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Port = port

	metrics, err := getBool(EnvMetrics, c.Metrics.Enabled)
	if err != nil {
		return err
	}
	c.Metrics.Enabled = metrics
	return nil
}

// =============================================================================
// ENVIRONMENT HELPERS
// =============================================================================

func getString(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, val)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, val)
	}
	return v, nil
}
