// Package config loads service configuration from a TOML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a string ("30s", "2m") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Model     ModelConfig     `toml:"model"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Auth      AuthConfig      `toml:"auth"`
	Bucket    BucketConfig    `toml:"bucket"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	RequestTimeout Duration `toml:"request_timeout"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
	CORSOrigins    []string `toml:"cors_origins"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`
}

type ModelConfig struct {
	APIKey      string   `toml:"api_key"`
	Name        string   `toml:"name"`
	Timeout     Duration `toml:"timeout"`
	MaxAttempts int      `toml:"max_attempts"`

	// Rate is model calls per second across the process; 0 disables limiting.
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
}

type ReconcileConfig struct {
	// Mode is "lenient" or "strict".
	Mode           string `toml:"mode"`
	ToleranceCents int64  `toml:"tolerance_cents"`

	// Rule is a CEL expression; empty means the built-in rule.
	Rule string `toml:"rule"`
}

type PipelineConfig struct {
	AutoProvision     bool   `toml:"auto_provision"`
	DefaultMemberName string `toml:"default_member_name"`
	PreflightClassify bool   `toml:"preflight_classify"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`

	// Required rejects requests without a valid bearer token.
	Required bool `toml:"required"`
}

type BucketConfig struct {
	Dir string `toml:"dir"`
}

type LogConfig struct {
	Level string `toml:"level"`

	// Format is "text" (colored) or "json".
	Format string `toml:"format"`
}

// Default returns a configuration that runs locally without a file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			RequestTimeout: Duration(90 * time.Second),
			MaxUploadBytes: 10 << 20,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
				"http://localhost:8080",
				"http://127.0.0.1:8080",
			},
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "./data/splitscribe.db",
		},
		Model: ModelConfig{
			Name:        "gemini-2.5-flash",
			Timeout:     Duration(60 * time.Second),
			MaxAttempts: 2,
			Rate:        2,
			Burst:       4,
		},
		Reconcile: ReconcileConfig{
			Mode: "lenient",
		},
		Pipeline: PipelineConfig{
			AutoProvision:     true,
			DefaultMemberName: "Me",
			PreflightClassify: true,
		},
		Bucket: BucketConfig{
			Dir: "./data/bucket",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("failed to parse config file: %s", strict.String())
		}
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnv overrides file values with the environment variables the service
// has always honored.
func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set("DB_PATH", &c.Storage.SQLitePath)
	set("API_KEY", &c.Model.APIKey)
	set("BUCKET_DIR", &c.Bucket.Dir)
	set("JWT_SECRET", &c.Auth.JWTSecret)
	set("LOG_LEVEL", &c.Log.Level)
	set("LOG_FORMAT", &c.Log.Format)

	if v := getenv("DATABASE_URL"); v != "" {
		c.Storage.PostgresURL = v
		c.Storage.Driver = "postgres"
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate rejects configurations the service can't run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive"))
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite_path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, fmt.Errorf("storage.postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver))
	}

	if c.Model.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("model.max_attempts must be at least 1"))
	}
	if c.Model.Timeout < 0 {
		errs = append(errs, fmt.Errorf("model.timeout must not be negative"))
	}
	if c.Model.Rate < 0 {
		errs = append(errs, fmt.Errorf("model.rate must not be negative"))
	}

	switch c.Reconcile.Mode {
	case "lenient", "strict":
	default:
		errs = append(errs, fmt.Errorf("reconcile.mode must be lenient or strict, got %q", c.Reconcile.Mode))
	}
	if c.Reconcile.ToleranceCents < 0 {
		errs = append(errs, fmt.Errorf("reconcile.tolerance_cents must not be negative"))
	}

	if c.Auth.Required && c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret is required when auth.required is set"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
