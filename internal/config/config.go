package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/chainmail-net/chainmail/internal/models"
)

// DefaultPowTarget is the proof-of-work ceiling accepted by public mail
// servers. A message's content digest must be numerically at or below
// this value.
const DefaultPowTarget = "000ffffffdeadbeeffffffffffffffffffffffff"

// Config holds all configuration for the chainmail daemon
type Config struct {
	// Storage
	DataDir string

	// Server ports
	APIPort  int
	SMTPPort int

	// Mail
	DefaultMailServers models.ServerList
	PowTarget          models.MessageID
	GatewayDomain      string

	// Logging
	LogLevel string

	// Security
	APIKey         string
	AllowedOrigins string
	AppEnv         string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Required: CHAINMAIL_DATA_DIR
	cfg.DataDir = os.Getenv("CHAINMAIL_DATA_DIR")
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("CHAINMAIL_DATA_DIR is required but not set")
	}

	// API_PORT (default: 8080)
	apiPort := os.Getenv("API_PORT")
	if apiPort == "" {
		cfg.APIPort = 8080
	} else {
		port, err := strconv.Atoi(apiPort)
		if err != nil {
			return nil, fmt.Errorf("API_PORT must be a valid integer: %w", err)
		}
		cfg.APIPort = port
	}

	// SMTP_PORT (default: 2525)
	smtpPort := os.Getenv("SMTP_PORT")
	if smtpPort == "" {
		cfg.SMTPPort = 2525
	} else {
		port, err := strconv.Atoi(smtpPort)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORT must be a valid integer: %w", err)
		}
		cfg.SMTPPort = port
	}

	// DEFAULT_MAIL_SERVERS (default: empty; "name=host:port,name=host:port")
	servers, err := ParseServerList(os.Getenv("DEFAULT_MAIL_SERVERS"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_MAIL_SERVERS is malformed: %w", err)
	}
	cfg.DefaultMailServers = servers

	// POW_TARGET (default: DefaultPowTarget)
	target := os.Getenv("POW_TARGET")
	if target == "" {
		target = DefaultPowTarget
	}
	cfg.PowTarget, err = models.ParseMessageID(target)
	if err != nil {
		return nil, fmt.Errorf("POW_TARGET must be a 160-bit hex value: %w", err)
	}

	// GATEWAY_DOMAIN (default: chainmail.local)
	cfg.GatewayDomain = os.Getenv("GATEWAY_DOMAIN")
	if cfg.GatewayDomain == "" {
		cfg.GatewayDomain = "chainmail.local"
	}

	// LOG_LEVEL (default: info)
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Security configuration
	cfg.APIKey = os.Getenv("API_KEY")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AppEnv = os.Getenv("APP_ENV")
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}

	return cfg, nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Production-specific validation
	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DataDir cannot be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTPPort must be between 1 and 65535")
	}
	if c.PowTarget.IsZero() {
		return fmt.Errorf("PowTarget cannot be zero")
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	if c.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	// Check for wildcard in production
	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	return nil
}

// ParseServerList parses "name=host:port,name=host:port" into a ServerList.
// An empty string yields an empty list.
func ParseServerList(raw string) (models.ServerList, error) {
	servers := models.ServerList{}
	if raw == "" {
		return servers, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not name=host:port", entry)
		}
		name = strings.TrimSpace(name)
		endpoint = strings.TrimSpace(endpoint)
		if name == "" || endpoint == "" {
			return nil, fmt.Errorf("entry %q is not name=host:port", entry)
		}
		if _, _, found := strings.Cut(endpoint, ":"); !found {
			return nil, fmt.Errorf("endpoint %q has no port", endpoint)
		}
		servers[name] = endpoint
	}
	return servers, nil
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.String("data_dir", c.DataDir),
		slog.Int("api_port", c.APIPort),
		slog.Int("smtp_port", c.SMTPPort),
		slog.Int("default_mail_servers", len(c.DefaultMailServers)),
		slog.String("pow_target", c.PowTarget.String()),
		slog.String("gateway_domain", c.GatewayDomain),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.Bool("allowed_origins_set", c.AllowedOrigins != ""),
	)
}
