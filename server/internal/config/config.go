package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the umpire configuration.
const (
	DefaultPort              = 5000
	DefaultBackend           = "graphite"
	DefaultBackendTimeout    = 10 * time.Second
	DefaultLibratoURL        = "https://metrics-api.librato.com"
	DefaultLibratoResolution = 1
	DefaultPrometheusStep    = 60 * time.Second
	DefaultPrometheusSource  = "instance"
	DefaultServiceName       = "umpire"
)

// Config is the top-level configuration parsed from umpire.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backends  BackendsConfig  `yaml:"backends"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Port is the port the check API listens on (default 5000).
	Port int `yaml:"port"`

	// ForceHTTPS redirects plain-HTTP requests to their https:// equivalent.
	// The TLS hop is expected to terminate in front of umpire and set
	// X-Forwarded-Proto.
	ForceHTTPS bool `yaml:"force_https"`

	// Auth configures how /check callers are authenticated.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls basic-auth scope checking on /check.
type AuthConfig struct {
	// Mode is one of: basic | none.
	Mode string `yaml:"mode"`

	// Scopes maps named callers to the API key they present as the
	// basic-auth password.
	Scopes []ScopeConfig `yaml:"scopes"`
}

// ScopeConfig is one named API key.
type ScopeConfig struct {
	Name string `yaml:"name"`

	// KeyEnv is the name of the environment variable holding the key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the scope's API key resolved from the environment.
func (s ScopeConfig) Key() string {
	if s.KeyEnv == "" {
		return ""
	}
	return os.Getenv(s.KeyEnv)
}

// Keys returns the resolved key -> scope name table. Scopes whose key
// resolves to the empty string are skipped.
func (a AuthConfig) Keys() map[string]string {
	out := make(map[string]string, len(a.Scopes))
	for _, s := range a.Scopes {
		if k := s.Key(); k != "" {
			out[k] = s.Name
		}
	}
	return out
}

// BackendsConfig selects and configures the metrics backends.
type BackendsConfig struct {
	// Default is the backend used when a request does not name one.
	Default string `yaml:"default"`

	// Timeout bounds every backend HTTP call. A call that exceeds it is
	// reported as the backend being unavailable.
	Timeout time.Duration `yaml:"timeout"`

	Graphite   GraphiteConfig   `yaml:"graphite"`
	Librato    LibratoConfig    `yaml:"librato"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// GraphiteConfig points at a graphite-web render API.
type GraphiteConfig struct {
	URL string `yaml:"url"`
}

// LibratoConfig holds librato API credentials.
type LibratoConfig struct {
	URL   string `yaml:"url"`
	Email string `yaml:"email"`

	// TokenEnv is the name of the environment variable holding the API token.
	TokenEnv string `yaml:"token_env"`

	// Resolution is the measurement resolution in seconds sent with every
	// time-ranged request (default 1).
	Resolution int `yaml:"resolution"`
}

// Token returns the librato API token resolved from the environment.
func (l LibratoConfig) Token() string {
	if l.TokenEnv == "" {
		return ""
	}
	return os.Getenv(l.TokenEnv)
}

// PrometheusConfig points at a Prometheus-compatible query API.
type PrometheusConfig struct {
	URL string `yaml:"url"`

	// Step is the query_range resolution.
	Step time.Duration `yaml:"step"`

	// SourceLabel is the label a request's source filter is matched against.
	SourceLabel string `yaml:"source_label"`

	// BearerTokenEnv is the name of the environment variable holding an
	// optional bearer token.
	BearerTokenEnv string `yaml:"bearer_token_env"`
}

// BearerToken returns the Prometheus bearer token resolved from the environment.
func (p PrometheusConfig) BearerToken() string {
	if p.BearerTokenEnv == "" {
		return ""
	}
	return os.Getenv(p.BearerTokenEnv)
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is host:port of an OTLP/HTTP collector. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: DefaultPort,
			Auth: AuthConfig{Mode: "basic"},
		},
		Backends: BackendsConfig{
			Default: DefaultBackend,
			Timeout: DefaultBackendTimeout,
			Librato: LibratoConfig{URL: DefaultLibratoURL, Resolution: DefaultLibratoResolution},
			Prometheus: PrometheusConfig{
				Step:        DefaultPrometheusStep,
				SourceLabel: DefaultPrometheusSource,
			},
		},
		Telemetry: TelemetryConfig{ServiceName: DefaultServiceName},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port)
	}
	switch cfg.Server.Auth.Mode {
	case "basic", "none":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want basic|none", cfg.Server.Auth.Mode)
	}
	for i, s := range cfg.Server.Auth.Scopes {
		if s.Name == "" {
			return fmt.Errorf("server.auth.scopes[%d]: name is required", i)
		}
		if s.KeyEnv == "" {
			return fmt.Errorf("server.auth.scopes[%d] %q: key_env is required", i, s.Name)
		}
	}

	switch cfg.Backends.Default {
	case "graphite":
		if cfg.Backends.Graphite.URL == "" {
			return fmt.Errorf("backends.graphite.url is required when graphite is the default backend")
		}
	case "librato":
		if cfg.Backends.Librato.Email == "" || cfg.Backends.Librato.TokenEnv == "" {
			return fmt.Errorf("backends.librato.email and token_env are required when librato is the default backend")
		}
	case "prometheus":
		if cfg.Backends.Prometheus.URL == "" {
			return fmt.Errorf("backends.prometheus.url is required when prometheus is the default backend")
		}
	default:
		return fmt.Errorf("backends.default %q unknown: want graphite|librato|prometheus", cfg.Backends.Default)
	}
	if cfg.Backends.Timeout <= 0 {
		return fmt.Errorf("backends.timeout must be positive")
	}
	if cfg.Backends.Librato.Resolution <= 0 {
		return fmt.Errorf("backends.librato.resolution must be positive")
	}
	if cfg.Backends.Prometheus.Step <= 0 {
		return fmt.Errorf("backends.prometheus.step must be positive")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	return nil
}

// Enabled reports which backends have enough configuration to be built.
func (b BackendsConfig) Enabled() []string {
	var out []string
	if b.Graphite.URL != "" {
		out = append(out, "graphite")
	}
	if b.Librato.Email != "" && b.Librato.TokenEnv != "" {
		out = append(out, "librato")
	}
	if b.Prometheus.URL != "" {
		out = append(out, "prometheus")
	}
	return out
}
