package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide configuration for the fuzzing service.
// Layered like the upstream framework config: defaults, then environment
// variables, then functional options (highest priority).
type Config struct {
	Port int `json:"port" yaml:"port"`

	// MaxConcurrentJobs bounds how many Jobs the scheduler runs in RUNNING
	// simultaneously (spec §4.5).
	MaxConcurrentJobs int `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`

	// SchedulerInterval is loaded from defaults, the environment and config
	// files, but jobs.Manager does not read it: the scheduler's safety-net
	// ticker is fixed at 5 seconds.
	SchedulerInterval time.Duration `json:"scheduler_interval" yaml:"scheduler_interval"`

	HTTP    HTTPDefaults  `json:"http" yaml:"http"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`

	// AuthToken, when non-empty, is the bearer credential the api package
	// requires on every write endpoint (spec §6). Empty disables the check.
	AuthToken string `json:"-" yaml:"-"`

	logger Logger `json:"-" yaml:"-"`
}

// HTTPDefaults holds HTTP settings that are loaded and validated with the
// rest of Config. They are not applied to jobs: a job created without an
// http_config starts from core.DefaultHTTPConfig().
type HTTPDefaults struct {
	Scheme              string        `json:"scheme" yaml:"scheme"`
	BaseURL             string        `json:"base_url" yaml:"base_url"`
	Timeout             time.Duration `json:"timeout" yaml:"timeout"`
	FollowRedirects     bool          `json:"follow_redirects" yaml:"follow_redirects"`
	VerifySSL           bool          `json:"verify_ssl" yaml:"verify_ssl"`
	SequentialExecution bool          `json:"sequential_execution" yaml:"sequential_execution"`
	RequestDelay        time.Duration `json:"request_delay" yaml:"request_delay"`
}

// LoggingConfig controls the default ProductionLogger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug|info|warn|error
	Format string `json:"format" yaml:"format"` // json|text
	Output string `json:"output" yaml:"output"` // stdout|stderr
}

// RedisConfig configures the optional Redis-backed StorageProvider (spec
// SPEC_FULL §2 domain stack).
type RedisConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Prefix  string `json:"prefix" yaml:"prefix"`
}

// Option mutates a Config during construction. Matches the teacher's
// functional-options convention (core.Option in gomind/core).
type Option func(*Config) error

// DefaultConfig returns the lowest-priority layer of configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:              8080,
		MaxConcurrentJobs: 5,
		SchedulerInterval: 5 * time.Second,
		HTTP: HTTPDefaults{
			Scheme:  "http",
			BaseURL: "localhost:8000",
			Timeout: 30 * time.Second,
			// FollowRedirects defaults true per spec §6 table.
			FollowRedirects: true,
			VerifySSL:       false,
			RequestDelay:    0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Prefix: "fuzzerapi:",
		},
	}
}

// LoadFromEnv overlays environment-variable settings onto cfg. Unset
// variables leave the current value untouched.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("FUZZERAPI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FUZZERAPI_PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("FUZZERAPI_MAX_CONCURRENT_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FUZZERAPI_MAX_CONCURRENT_JOBS: %w", err)
		}
		c.MaxConcurrentJobs = n
	}
	if v := os.Getenv("FUZZERAPI_SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FUZZERAPI_SCHEDULER_INTERVAL: %w", err)
		}
		c.SchedulerInterval = d
	}
	if v := os.Getenv("FUZZERAPI_HTTP_SCHEME"); v != "" {
		c.HTTP.Scheme = v
	}
	if v := os.Getenv("FUZZERAPI_HTTP_BASE_URL"); v != "" {
		c.HTTP.BaseURL = v
	}
	if v := os.Getenv("FUZZERAPI_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FUZZERAPI_HTTP_TIMEOUT: %w", err)
		}
		c.HTTP.Timeout = d
	}
	if v := os.Getenv("FUZZERAPI_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FUZZERAPI_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("FUZZERAPI_REDIS_URL"); v != "" {
		c.Redis.URL = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("FUZZERAPI_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	return nil
}

// WithPort overrides the listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return NewError("core.WithPort", "invalid_configuration", ErrInvalidInput, "port out of range")
		}
		c.Port = port
		return nil
	}
}

// WithMaxConcurrentJobs overrides the scheduler's concurrency budget.
func WithMaxConcurrentJobs(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return NewError("core.WithMaxConcurrentJobs", "invalid_configuration", ErrInvalidInput, "must be positive")
		}
		c.MaxConcurrentJobs = n
		return nil
	}
}

// WithLogger injects a pre-built logger instead of constructing one from
// LoggingConfig.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithAuthToken sets the bearer credential required on write endpoints.
func WithAuthToken(token string) Option {
	return func(c *Config) error {
		c.AuthToken = token
		return nil
	}
}

// WithConfigFile loads a JSON or YAML file onto cfg, overriding whatever
// defaults/environment variables set so far. Applied as a regular Option so
// it still loses to any option listed after it.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, selected by
// extension, onto c. File settings override environment variables but are
// overridden by functional options applied after WithConfigFile.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", err)
		}
	default:
		return NewError("core.LoadFromFile", "invalid_configuration", ErrInvalidInput, "unsupported config file extension "+ext)
	}
	return nil
}

// WithRedis enables the Redis-backed StorageProvider.
func WithRedis(url string) Option {
	return func(c *Config) error {
		c.Redis.Enabled = true
		c.Redis.URL = url
		return nil
	}
}

// NewConfig assembles a Config: defaults, then environment, then options,
// then validation — the same three-layer priority as gomind/core.NewConfig.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the configured logger, building the default
// ProductionLogger lazily if Validate/NewConfig was bypassed (e.g. in tests
// constructing a bare Config{}).
func (c *Config) Logger() Logger {
	if c.logger == nil {
		c.logger = NewProductionLogger(c.Logging)
	}
	return c.logger
}

// Validate checks invariants that must hold before the config is used to
// wire up the job manager and HTTP executor.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return NewError("core.Validate", "invalid_configuration", ErrInvalidInput, "max_concurrent_jobs must be positive")
	}
	if c.HTTP.Timeout <= 0 {
		return NewError("core.Validate", "invalid_configuration", ErrInvalidInput, "http.timeout must be positive")
	}
	switch strings.ToLower(c.HTTP.Scheme) {
	case "http", "https":
	default:
		return NewError("core.Validate", "invalid_configuration", ErrInvalidInput, "http.scheme must be http or https")
	}
	return nil
}
