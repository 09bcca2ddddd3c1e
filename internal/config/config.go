package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Config holds every setting of the server process.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Static StaticConfig `yaml:"static"`
	Access AccessConfig `yaml:"access"`
	Log    LogConfig    `yaml:"log"`
	Admin  AdminConfig  `yaml:"admin"`
}

// ServerConfig configures the listener and connection handling.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	MaxConns int    `yaml:"max_conns"`
	Dispatch string `yaml:"dispatch"` // gate or batch

	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxIdleTimeouts int           `yaml:"max_idle_timeouts"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`

	MaxHeaderBytes int     `yaml:"max_header_bytes"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes"`
	AcceptRate     float64 `yaml:"accept_rate"`

	Name           string `yaml:"name"`
	AdvisoryDenial bool   `yaml:"advisory_denial"`
}

type StaticConfig struct {
	Root         string `yaml:"root"`
	IndexFile    string `yaml:"index_file"`
	SniffUnknown bool   `yaml:"sniff_unknown"`
}

type AccessConfig struct {
	// Rules is the rule file. Empty means <root>/.htaccess.
	Rules string `yaml:"rules"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type AdminConfig struct {
	// Addr enables the status server when non-empty.
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			MaxConns:    200,
			Dispatch:    "gate",
			IdleTimeout: 3 * time.Second,
		},
		Static: StaticConfig{
			Root:      ".",
			IndexFile: "index.html",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.decode(bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsIntOrDefault("HTTPD_PORT", c.Server.Port)
	c.Server.MaxConns = getEnvAsIntOrDefault("HTTPD_MAX_CONNS", c.Server.MaxConns)
	c.Server.Dispatch = getEnvOrDefault("HTTPD_DISPATCH", c.Server.Dispatch)
	c.Static.Root = getEnvOrDefault("HTTPD_ROOT", c.Static.Root)
	c.Access.Rules = getEnvOrDefault("HTTPD_RULES", c.Access.Rules)
	c.Log.Level = getEnvOrDefault("HTTPD_LOG_LEVEL", c.Log.Level)
	c.Admin.Addr = getEnvOrDefault("HTTPD_ADMIN_ADDR", c.Admin.Addr)
	if os.Getenv("DEBUG") != "" {
		c.Log.Level = "debug"
	}
}

// Normalize strips a trailing slash from the document root.
func (c *Config) Normalize() {
	if len(c.Static.Root) > 1 {
		c.Static.Root = strings.TrimRight(c.Static.Root, "/")
		if c.Static.Root == "" {
			c.Static.Root = "/"
		}
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.Server.MaxConns < 1 {
		return fmt.Errorf("%w: max_conns must be positive, got %d", ErrInvalid, c.Server.MaxConns)
	}
	switch c.Server.Dispatch {
	case "gate", "batch":
	default:
		return fmt.Errorf("%w: dispatch %q (want gate or batch)", ErrInvalid, c.Server.Dispatch)
	}
	if c.Server.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout must be positive", ErrInvalid)
	}
	if c.Server.MaxIdleTimeouts < 0 || c.Server.MaxHeaderBytes < 0 || c.Server.MaxBodyBytes < 0 || c.Server.AcceptRate < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalid)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	fi, err := os.Stat(c.Static.Root)
	if err != nil {
		return fmt.Errorf("%w: root: %v", ErrInvalid, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: root %s is not a directory", ErrInvalid, c.Static.Root)
	}
	return nil
}

// ServerAddress returns the listen address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RulesPath returns the rule file to load.
func (c *Config) RulesPath() string {
	if c.Access.Rules != "" {
		return c.Access.Rules
	}
	return filepath.Join(c.Static.Root, ".htaccess")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
