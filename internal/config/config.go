// Package config loads the application configuration from an optional YAML
// file with environment-variable overrides, and prepares the data folders.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrInvalid flags a configuration that cannot be used to start the server.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full application configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`
	// DataDir anchors uploads, generated PDFs and the default sqlite file.
	DataDir string `yaml:"data_dir"`
	// OutputDir receives generated PDFs; defaults under DataDir.
	OutputDir string `yaml:"output_dir"`
	// DefaultLogo is the fallback report logo, relative to DataDir.
	DefaultLogo string `yaml:"default_logo"`

	Grist GristConfig `yaml:"grist"`
	DB    DBConfig    `yaml:"db"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// GristConfig carries the default document connection. The token always
// comes from the environment, never from the file.
type GristConfig struct {
	APIURL string `yaml:"api_url"`
	DocID  string `yaml:"doc_id"`
	Token  string `yaml:"-"`
}

// DBConfig selects the configuration store backend.
type DBConfig struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver string `yaml:"driver"`
	// DSN overrides the derived sqlite DSN; required for postgres.
	DSN string `yaml:"dsn"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:  ":8080",
		DataDir:     "data",
		DefaultLogo: "static/images/logo_ministere_agriculture.png",
		Grist: GristConfig{
			APIURL: "https://grist.incubateur.anct.gouv.fr",
		},
		DB:       DBConfig{Driver: "sqlite3"},
		LogLevel: "info",
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and derived values.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	applyEnv(&cfg)

	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.DataDir, "exports")
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "sqlite3"
	}
	if cfg.DB.Driver == "sqlite3" && cfg.DB.DSN == "" {
		cfg.DB.DSN = "file:" + filepath.Join(cfg.DataDir, "configs.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GRISTPDF_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GRISTPDF_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GRISTPDF_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("GRISTPDF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GRIST_API_URL"); v != "" {
		cfg.Grist.APIURL = v
	}
	if v := os.Getenv("GRIST_DOC_ID"); v != "" {
		cfg.Grist.DocID = v
	}
	if v := os.Getenv("GRIST_API_TOKEN"); v != "" {
		cfg.Grist.Token = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DB.Driver = "postgres"
		cfg.DB.DSN = v
	}
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	if _, err := strconv.Atoi(port(c.ListenAddr)); err != nil {
		return fmt.Errorf("%w: listen_addr %q has no numeric port", ErrInvalid, c.ListenAddr)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if c.DB.Driver != "sqlite3" && c.DB.Driver != "postgres" {
		return fmt.Errorf("%w: unsupported db driver %q", ErrInvalid, c.DB.Driver)
	}
	if c.DB.Driver == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("%w: postgres requires a dsn", ErrInvalid)
	}
	return nil
}

func port(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i+1:]
		}
	}
	return ""
}

// EnsureDirs creates the data, output and static asset folders.
func (c Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		c.OutputDir,
		filepath.Join(c.DataDir, "uploads", "logos"),
		filepath.Join(c.DataDir, "uploads", "signatures"),
		filepath.Join(c.DataDir, "static", "images"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
