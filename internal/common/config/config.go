// Package config provides configuration management for the control plane.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the control plane.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Events   EventsConfig   `mapstructure:"events"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS event bus transport configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"` // empty means use in-memory bus
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances,
	// allowing the bus to be horizontally partitioned by user id.
	Namespace string `mapstructure:"namespace"`
}

// SandboxConfig holds sandbox supervisor configuration.
type SandboxConfig struct {
	// Driver selects the sandbox backend: "sprites" or "docker".
	Driver            string `mapstructure:"driver"`
	SpritesAPIToken   string `mapstructure:"spritesApiToken"`
	SpritesNamePrefix string `mapstructure:"spritesNamePrefix"`
	DockerHost        string `mapstructure:"dockerHost"`
	DockerAPIVersion  string `mapstructure:"dockerApiVersion"`
	DockerNetwork     string `mapstructure:"dockerNetwork"`
	// HealthProbeAttempts and HealthProbeInterval bound the "sandbox healthy"
	// wait after getOrCreateSandbox, per the 60s/5-poll default in §4.C.
	HealthProbeAttempts int `mapstructure:"healthProbeAttempts"`
	HealthProbeInterval int `mapstructure:"healthProbeIntervalMs"`
	// DefaultIdleTimeout is the efficiency-hint idle timeout handed to new sandboxes.
	DefaultIdleTimeout int `mapstructure:"defaultIdleTimeoutMs"`
}

// WorkflowConfig holds workflow engine configuration.
type WorkflowConfig struct {
	// ProposalTTL is how long a draft proposal lives before the background
	// sweep marks it expired, in seconds.
	ProposalTTLSeconds int `mapstructure:"proposalTtlSeconds"`
	// DefaultStepTimeout bounds a single step's execution absent an explicit
	// await_timeout_ms, in milliseconds.
	DefaultStepTimeoutMs int `mapstructure:"defaultStepTimeoutMs"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// ProposalTTL returns the proposal TTL as a time.Duration.
func (w *WorkflowConfig) ProposalTTL() time.Duration {
	return time.Duration(w.ProposalTTLSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTCORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./agentcore.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentcore")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "agentcore-cluster")
	v.SetDefault("nats.clientId", "agentcore-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("sandbox.driver", "sprites")
	v.SetDefault("sandbox.spritesApiToken", "")
	v.SetDefault("sandbox.spritesNamePrefix", "agentcore-")
	v.SetDefault("sandbox.dockerHost", defaultDockerHost())
	v.SetDefault("sandbox.dockerApiVersion", "1.41")
	v.SetDefault("sandbox.dockerNetwork", "agentcore-network")
	v.SetDefault("sandbox.healthProbeAttempts", 5)
	v.SetDefault("sandbox.healthProbeIntervalMs", 12000)
	v.SetDefault("sandbox.defaultIdleTimeoutMs", 15*60*1000)

	v.SetDefault("workflow.proposalTtlSeconds", 7*24*3600)
	v.SetDefault("workflow.defaultStepTimeoutMs", 30000)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// defaultDockerHost returns the platform-appropriate Docker socket path.
// Respects DOCKER_HOST env var as override (standard Docker convention).
func defaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTCORE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentcore/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "AGENTCORE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "AGENTCORE_EVENTS_NAMESPACE")
	_ = v.BindEnv("sandbox.spritesApiToken", "SPRITES_API_TOKEN")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentcore/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	} else if cfg.Database.Driver != "sqlite" {
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Sandbox.Driver != "sprites" && cfg.Sandbox.Driver != "docker" {
		errs = append(errs, "sandbox.driver must be one of: sprites, docker")
	}
	if cfg.Sandbox.HealthProbeAttempts <= 0 {
		errs = append(errs, "sandbox.healthProbeAttempts must be positive")
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.Workflow.ProposalTTLSeconds <= 0 {
		errs = append(errs, "workflow.proposalTtlSeconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
