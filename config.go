package otcs

import (
	"errors"
	"net/url"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds client, transport, resolver and logging settings
type Config struct {
	Server    ServerConfig    `json:"server"`
	Transport TransportConfig `json:"transport"`
	Resolver  ResolverConfig  `json:"resolver"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig identifies the content server and the credentials used for its ticket
type ServerConfig struct {
	// BaseURL is the REST root, e.g. https://host/otcs/cs.exe/api
	BaseURL     string        `json:"baseUrl" env:"OTCS_BASE_URL"`
	Username    string        `json:"username" env:"OTCS_USERNAME"`
	Password    string        `json:"-" env:"OTCS_PASSWORD"`
	Domain      string        `json:"domain,omitempty" env:"OTCS_DOMAIN"`
	Ticket      string        `json:"-" env:"OTCS_TICKET"`
	Timeout     time.Duration `json:"timeout" env:"OTCS_TIMEOUT"`
	InsecureTLS bool          `json:"insecureTls" env:"OTCS_INSECURE_TLS"`
}

// TransportConfig contains retry and circuit breaker settings
type TransportConfig struct {
	MaxRetries           int           `json:"maxRetries" env:"OTCS_MAX_RETRIES"`
	RetryInitialInterval time.Duration `json:"retryInitialInterval" env:"OTCS_RETRY_INITIAL_INTERVAL"`
	RetryMaxInterval     time.Duration `json:"retryMaxInterval" env:"OTCS_RETRY_MAX_INTERVAL"`
	BreakerThreshold     int           `json:"breakerThreshold" env:"OTCS_BREAKER_THRESHOLD"`
	BreakerWindow        time.Duration `json:"breakerWindow" env:"OTCS_BREAKER_WINDOW"`
	BreakerOpenDuration  time.Duration `json:"breakerOpenDuration" env:"OTCS_BREAKER_OPEN_DURATION"`
	UserAgent            string        `json:"userAgent" env:"OTCS_USER_AGENT"`
}

// ResolverConfig controls friendly-name resolution
type ResolverConfig struct {
	// ParallelFetches bounds concurrent per-category form fetches in the
	// fallback index build. 1 fetches sequentially.
	ParallelFetches int `json:"parallelFetches" env:"OTCS_RESOLVER_PARALLEL_FETCHES"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level" env:"OTCS_LOG_LEVEL"`
	Format string `json:"format" env:"OTCS_LOG_FORMAT"` // json or console
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 60 * time.Second,
		},
		Transport: TransportConfig{
			MaxRetries:           3,
			RetryInitialInterval: 500 * time.Millisecond,
			RetryMaxInterval:     10 * time.Second,
			BreakerThreshold:     5,
			BreakerWindow:        30 * time.Second,
			BreakerOpenDuration:  15 * time.Second,
			UserAgent:            "otcs-mcp",
		},
		Resolver: ResolverConfig{
			ParallelFetches: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfigFromEnv returns DefaultConfig overlaid with OTCS_* environment variables.
func LoadConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	// StrictDecode reports ErrInvalidTarget when no variable is set at all.
	err := envdecode.StrictDecode(cfg)
	if err != nil && !errors.Is(err, envdecode.ErrInvalidTarget) {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return &ConfigError{Field: "server.baseUrl", Message: "must be set"}
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "server.baseUrl", Message: "must be an absolute URL"}
	}

	if c.Server.Ticket == "" && c.Server.Username == "" {
		return &ConfigError{Field: "server.username", Message: "username or ticket is required"}
	}

	if c.Server.Timeout <= 0 {
		return &ConfigError{Field: "server.timeout", Message: "must be greater than 0"}
	}

	if c.Transport.MaxRetries < 0 {
		return &ConfigError{Field: "transport.maxRetries", Message: "must not be negative"}
	}

	if c.Transport.RetryMaxInterval < c.Transport.RetryInitialInterval {
		return &ConfigError{Field: "transport.retryMaxInterval", Message: "must be greater than or equal to retryInitialInterval"}
	}

	if c.Transport.BreakerThreshold <= 0 {
		return &ConfigError{Field: "transport.breakerThreshold", Message: "must be greater than 0"}
	}

	if c.Resolver.ParallelFetches <= 0 {
		return &ConfigError{Field: "resolver.parallelFetches", Message: "must be greater than 0"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
