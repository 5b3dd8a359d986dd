// Package config loads the server configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the complete server configuration.
type ServerConfig struct {
	Server    ServerSection   `json:"server" yaml:"server"`
	Store     StoreSection    `json:"store" yaml:"store"`
	Bundle    BundleSection   `json:"bundle" yaml:"bundle"`
	Cache     CacheSection    `json:"cache" yaml:"cache"`
	Artifacts ArtifactSection `json:"artifacts" yaml:"artifacts"`
	Packages  PackagesSection `json:"packages" yaml:"packages"`
	Auth      AuthSection     `json:"auth" yaml:"auth"`
	Preview   PreviewSection  `json:"preview" yaml:"preview"`
	Tracing   TracingSection  `json:"tracing" yaml:"tracing"`
	Notify    NotifySection   `json:"notify" yaml:"notify"`
	Watch     WatchSection    `json:"watch" yaml:"watch"`
	Sandbox   SandboxSection  `json:"sandbox" yaml:"sandbox"`
}

// ServerSection configures the HTTP listener and process.
type ServerSection struct {
	Addr        string `json:"addr" yaml:"addr"`
	ProjectRoot string `json:"project_root" yaml:"project_root"`
	TempDir     string `json:"temp_dir" yaml:"temp_dir"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"`
}

// StoreSection selects the record store.
type StoreSection struct {
	Driver          string `json:"driver" yaml:"driver"`
	DSN             string `json:"dsn" yaml:"dsn"`
	UpstreamURL     string `json:"upstream_url" yaml:"upstream_url"`
	MaxConns        int32  `json:"max_conns" yaml:"max_conns"`
	MinConns        int32  `json:"min_conns" yaml:"min_conns"`
	MaxConnIdleTime string `json:"max_conn_idle_time" yaml:"max_conn_idle_time"`
}

// BundleSection sets bundler defaults.
type BundleSection struct {
	Minify          bool   `json:"minify" yaml:"minify"`
	FrameworkGlobal string `json:"framework_global" yaml:"framework_global"`
}

// CacheSection configures the in-process or Redis bundle cache.
type CacheSection struct {
	Backend   string        `json:"backend" yaml:"backend"`
	MaxSize   int           `json:"max_size" yaml:"max_size"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
	RedisAddr string        `json:"redis_addr" yaml:"redis_addr"`
	RedisDB   int           `json:"redis_db" yaml:"redis_db"`
	Prefix    string        `json:"prefix" yaml:"prefix"`
}

// ArtifactSection configures durable bundle storage.
type ArtifactSection struct {
	Backend  string `json:"backend" yaml:"backend"`
	Dir      string `json:"dir" yaml:"dir"`
	Bucket   string `json:"bucket" yaml:"bucket"`
	Prefix   string `json:"prefix" yaml:"prefix"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Project  string `json:"project" yaml:"project"`
}

// PackagesSection configures the package installer.
type PackagesSection struct {
	Manager        string        `json:"manager" yaml:"manager"`
	InstallTimeout time.Duration `json:"install_timeout" yaml:"install_timeout"`
}

// AuthSection configures bearer token validation. An empty secret
// disables authentication.
type AuthSection struct {
	JWTSecret string `json:"-" yaml:"jwt_secret"`
	Issuer    string `json:"issuer" yaml:"issuer"`
}

// PreviewSection limits the preview endpoint.
type PreviewSection struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int `json:"burst" yaml:"burst"`
}

// TracingSection configures OTLP export. Tracing is off without an
// endpoint.
type TracingSection struct {
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// NotifySection configures change notifications.
type NotifySection struct {
	NATSURL string `json:"nats_url" yaml:"nats_url"`
	Subject string `json:"subject" yaml:"subject"`
}

// WatchSection configures hot reload of on-disk extensions.
type WatchSection struct {
	Dir      string        `json:"dir" yaml:"dir"`
	Debounce time.Duration `json:"debounce" yaml:"debounce"`
}

// SandboxSection bounds server-side component execution.
type SandboxSection struct {
	MaxExecutionTime time.Duration `json:"max_execution_time" yaml:"max_execution_time"`
	MaxCodeSize      int           `json:"max_code_size" yaml:"max_code_size"`
	MaxCallStackSize int           `json:"max_call_stack_size" yaml:"max_call_stack_size"`
	FrameworkBuild   string        `json:"framework_build" yaml:"framework_build"`
}

// Default returns the configuration used when no file is given.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Addr:      ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Store:     StoreSection{Driver: "memory"},
		Bundle:    BundleSection{FrameworkGlobal: "Vue"},
		Cache:     CacheSection{Backend: "memory", MaxSize: 256, TTL: time.Hour, Prefix: "bundle:"},
		Artifacts: ArtifactSection{Backend: "none"},
		Packages:  PackagesSection{InstallTimeout: 120 * time.Second},
		Preview:   PreviewSection{RequestsPerMinute: 60, Burst: 10},
		Tracing:   TracingSection{ServiceName: "enfyra", SampleRate: 1.0, Insecure: true},
		Watch:     WatchSection{Debounce: 300 * time.Millisecond},
		Sandbox:   SandboxSection{MaxExecutionTime: 5 * time.Second, MaxCodeSize: 8 << 20, MaxCallStackSize: 2048},
	}
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*ServerConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load reads path when it is non-empty, applies the process environment
// and validates the result.
func Load(path string) (*ServerConfig, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ENFYRA_* variables and PACKAGE_MANAGER.
func (c *ServerConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			*dst = d
			return err
		}
	}

	str("ENFYRA_ADDR", &c.Server.Addr)
	str("ENFYRA_PROJECT_ROOT", &c.Server.ProjectRoot)
	str("ENFYRA_TEMP_DIR", &c.Server.TempDir)
	str("ENFYRA_LOG_LEVEL", &c.Server.LogLevel)
	str("ENFYRA_LOG_FORMAT", &c.Server.LogFormat)
	str("ENFYRA_STORE_DRIVER", &c.Store.Driver)
	str("ENFYRA_STORE_DSN", &c.Store.DSN)
	str("ENFYRA_UPSTREAM_URL", &c.Store.UpstreamURL)
	str("ENFYRA_CACHE_BACKEND", &c.Cache.Backend)
	str("ENFYRA_REDIS_ADDR", &c.Cache.RedisAddr)
	str("ENFYRA_ARTIFACT_BACKEND", &c.Artifacts.Backend)
	str("ENFYRA_ARTIFACT_DIR", &c.Artifacts.Dir)
	str("ENFYRA_ARTIFACT_BUCKET", &c.Artifacts.Bucket)
	str("ENFYRA_JWT_SECRET", &c.Auth.JWTSecret)
	str("ENFYRA_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	str("ENFYRA_NATS_URL", &c.Notify.NATSURL)
	str("ENFYRA_WATCH_DIR", &c.Watch.Dir)
	str("PACKAGE_MANAGER", &c.Packages.Manager)
	parse("ENFYRA_BUNDLE_MINIFY", func(v string) (err error) {
		c.Bundle.Minify, err = strconv.ParseBool(v)
		return err
	})
	parse("ENFYRA_PREVIEW_RPM", func(v string) (err error) {
		c.Preview.RequestsPerMinute, err = strconv.Atoi(v)
		return err
	})
	parse("ENFYRA_INSTALL_TIMEOUT", duration(&c.Packages.InstallTimeout))
	parse("ENFYRA_CACHE_TTL", duration(&c.Cache.TTL))
	return errors.Join(errs...)
}

// Validate rejects unknown backends and missing required settings.
func (c *ServerConfig) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	case "upstream":
		if c.Store.UpstreamURL == "" {
			errs = append(errs, errors.New("store.upstream_url is required for driver \"upstream\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	switch c.Artifacts.Backend {
	case "", "none":
	case "local":
		if c.Artifacts.Dir == "" {
			errs = append(errs, errors.New("artifacts.dir is required for the local backend"))
		}
	case "s3", "gcs":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, fmt.Errorf("artifacts.bucket is required for the %s backend", c.Artifacts.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifacts.backend %q", c.Artifacts.Backend))
	}
	if c.Packages.Manager != "" {
		switch strings.ToLower(c.Packages.Manager) {
		case "npm", "yarn", "pnpm", "bun":
		default:
			errs = append(errs, fmt.Errorf("unknown packages.manager %q", c.Packages.Manager))
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate))
	}
	if c.Preview.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("preview.requests_per_minute must not be negative"))
	}
	return errors.Join(errs...)
}

// Level maps log_level to a slog.Level. Unknown values mean info.
func (s ServerSection) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger described by the section.
func (s ServerSection) NewLogger(w *os.File, level *slog.LevelVar) *slog.Logger {
	level.Set(s.Level())
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(s.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
