// Package config loads tool configuration from file and environment and
// builds the application logger.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/viper"

	"github.com/siavashoutadi/pishro-lib/internal/shell/gitsource"
	"github.com/siavashoutadi/pishro-lib/internal/shell/swarm"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all tool configuration.
type Config struct {
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	State        StateConfig        `mapstructure:"state"`
	Docker       DockerConfig       `mapstructure:"docker"`
	Deploy       DeployConfig       `mapstructure:"deploy"`
	Log          LogConfig          `mapstructure:"log"`
	Repositories []RepositoryConfig `mapstructure:"repositories"`
}

// CatalogConfig locates the local package catalog.
type CatalogConfig struct {
	// Dir holds packages/ and environments/.
	Dir string `mapstructure:"dir"`
}

// StateConfig holds state store configuration.
type StateConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker host configuration.
type DockerConfig struct {
	// Host is the Docker host address. Empty means the environment default.
	// Supported schemes: unix://, tcp:// and ssh://user@host[:port].
	Host string `mapstructure:"host"`

	// TLSCertPath is a directory with ca.pem, cert.pem and key.pem for
	// tcp hosts.
	TLSCertPath string `mapstructure:"tls_cert_path"`

	// TLSVerify controls server certificate verification for tcp hosts.
	TLSVerify bool `mapstructure:"tls_verify"`

	// SSHKeyPath is the private key used for ssh hosts.
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	// RegistryAuth is a base64 encoded auth config forwarded on service
	// create and update so nodes can pull from private registries.
	RegistryAuth string `mapstructure:"registry_auth"`
}

// DeployConfig holds deployment defaults.
type DeployConfig struct {
	// Environment selects the catalog's per-environment value files.
	Environment string `mapstructure:"environment"`

	// StackPrefix is prepended to package names when deriving stack names.
	StackPrefix string `mapstructure:"stack_prefix"`

	// WaitTimeout bounds each convergence wait when --wait is given.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`

	// LockTTL is the lease duration of the store lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RepositoryConfig declares one git catalog repository.
type RepositoryConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Branch   string `mapstructure:"branch"`
	Username string `mapstructure:"username"`
	Token    string `mapstructure:"token"`
}

// Repository converts the declaration into a fetchable repository.
func (rc RepositoryConfig) Repository() gitsource.Repository {
	return gitsource.Repository{
		Name:     rc.Name,
		URL:      rc.URL,
		Branch:   rc.Branch,
		Username: rc.Username,
		Token:    rc.Token,
	}
}

// SwarmConfig returns the Docker client configuration.
func (c *Config) SwarmConfig() swarm.ClientConfig {
	return swarm.ClientConfig{
		Host:        c.Docker.Host,
		TLSCertPath: c.Docker.TLSCertPath,
		TLSVerify:   c.Docker.TLSVerify,
		SSHKeyPath:  c.Docker.SSHKeyPath,
	}
}

// Repository looks up a declared repository by name.
func (c *Config) Repository(name string) (gitsource.Repository, bool) {
	for _, rc := range c.Repositories {
		if rc.Name == name {
			return rc.Repository(), true
		}
	}
	return gitsource.Repository{}, false
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("catalog.dir", "./catalog")
	v.SetDefault("state.dsn", "./data/pishro.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.tls_cert_path", "")
	v.SetDefault("docker.tls_verify", false)
	v.SetDefault("docker.ssh_key_path", "")
	v.SetDefault("docker.registry_auth", "")
	v.SetDefault("deploy.environment", "")
	v.SetDefault("deploy.stack_prefix", "")
	v.SetDefault("deploy.wait_timeout", "5m")
	v.SetDefault("deploy.lock_ttl", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("PISHRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Repositories are validated here, before any command fetches from them.
	for _, rc := range cfg.Repositories {
		if err := rc.Repository().Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr; stdout carries command output.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	}

	return slog.New(handler)
}
