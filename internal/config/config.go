// ABOUTME: Configuration loading and parsing for mcp-zammad
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mcp-zammad configuration
type Config struct {
	Mode      string          `yaml:"mode"` // "http" or "stdio"
	Server    ServerConfig    `yaml:"server"`
	Zammad    ZammadConfig    `yaml:"zammad"`
	TLS       TLSConfig       `yaml:"tls"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Auth      AuthConfig      `yaml:"auth"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server address configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ZammadConfig holds Zammad API connection configuration
type ZammadConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// TLSConfig holds TLS listener configuration.
// When Generate is set and no cert/key pair is provided, a self-signed
// certificate is created under CertDir and reused on later runs.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Generate bool   `yaml:"generate"`
	CertDir  string `yaml:"cert_dir"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret disables auth on the MCP endpoints.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AuditConfig holds the call audit log configuration.
// An empty Path disables auditing.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "stdio"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.TLS.CertDir == "" {
		c.TLS.CertDir = ".certs"
	}
	if c.Zammad.TimeoutRaw == "" {
		c.Zammad.TimeoutRaw = "30s"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Mode != "http" && c.Mode != "stdio" {
		return fmt.Errorf("mode must be \"http\" or \"stdio\", got %q", c.Mode)
	}

	if c.Zammad.URL == "" {
		return fmt.Errorf("zammad.url is required (or set ZAMMAD_URL)")
	}
	if c.Zammad.Token == "" {
		return fmt.Errorf("zammad.token is required (or set ZAMMAD_TOKEN)")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	// TLS needs either a provided pair or permission to generate one
	if c.TLS.Enabled {
		hasPair := c.TLS.CertFile != "" && c.TLS.KeyFile != ""
		if !hasPair && !c.TLS.Generate {
			return fmt.Errorf("tls.enabled requires tls.cert_file and tls.key_file, or tls.generate")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Zammad.TimeoutRaw != "" {
		cfg.Zammad.Timeout, err = time.ParseDuration(cfg.Zammad.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing zammad timeout %q: %w", cfg.Zammad.TimeoutRaw, err)
		}
	}

	return nil
}
