package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thenexusengine/tne_vastplayer/internal/cache"
	"github.com/thenexusengine/tne_vastplayer/internal/engine"
	"github.com/thenexusengine/tne_vastplayer/internal/fetch"
	"github.com/thenexusengine/tne_vastplayer/internal/middleware"
	"github.com/thenexusengine/tne_vastplayer/internal/ping"
	"github.com/thenexusengine/tne_vastplayer/internal/storage"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port    string
	Timeout time.Duration

	// Resolution
	MaxWrapperDepth int
	CacheTTL        time.Duration
	MaxBodyBytes    int64

	// AllowPrivateHosts disables the private address guard on tag fetches
	AllowPrivateHosts bool

	// Tracking
	PingWorkers int
	PingTimeout time.Duration

	// Database
	DatabaseConfig *DatabaseConfig

	// Redis
	RedisURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Auth for diagnostics, admin and metrics routes
	AuthEnabled bool
	APIKeys     map[string]string

	// CORS
	CORSOrigins []string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConnections int
	MaxIdleConns   int
}

// ParseConfig parses configuration from flags and environment variables
func ParseConfig() *ServerConfig {
	port := flag.String("port", getEnvOrDefault("VAST_PORT", "8000"), "Server port")
	timeout := flag.Duration("timeout", getEnvDurationOrDefault("VAST_FETCH_TIMEOUT", 5*time.Second), "Per-document fetch timeout")
	maxDepth := flag.Int("max-wrapper-depth", getEnvIntOrDefault("VAST_MAX_WRAPPER_DEPTH", 5), "Maximum wrapper depth, 0 for unlimited")
	flag.Parse()

	cfg := &ServerConfig{
		Port:              *port,
		Timeout:           *timeout,
		MaxWrapperDepth:   *maxDepth,
		CacheTTL:          getEnvDurationOrDefault("VAST_CACHE_TTL", cache.DefaultTTL),
		MaxBodyBytes:      int64(getEnvIntOrDefault("VAST_MAX_BODY_BYTES", 1<<20)),
		AllowPrivateHosts: os.Getenv("VAST_ALLOW_PRIVATE_HOSTS") == "true",
		PingWorkers:       getEnvIntOrDefault("VAST_PING_WORKERS", 16),
		PingTimeout:       getEnvDurationOrDefault("VAST_PING_TIMEOUT", 3*time.Second),
		RedisURL:          os.Getenv("REDIS_URL"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "json"),
		AuthEnabled:       os.Getenv("AUTH_ENABLED") != "false",
		APIKeys:           middleware.ParseAPIKeys(os.Getenv("API_KEYS")),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:           dbHost,
			Port:           getEnvOrDefault("DB_PORT", "5432"),
			User:           getEnvOrDefault("DB_USER", "vastplayer"),
			Password:       getEnvOrDefault("DB_PASSWORD", ""),
			Name:           getEnvOrDefault("DB_NAME", "vastplayer"),
			SSLMode:        getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConnections: getEnvIntOrDefault("DB_MAX_CONNECTIONS", 20),
			MaxIdleConns:   getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		}
	}

	if corsOrigins := os.Getenv("CORS_ORIGINS"); corsOrigins != "" {
		cfg.CORSOrigins = splitAndTrim(corsOrigins, ",")
	}

	return cfg
}

// ToEngineConfig converts ServerConfig to engine.Config
func (c *ServerConfig) ToEngineConfig() engine.Config {
	return engine.Config{
		MaxWrapperDepth: c.MaxWrapperDepth,
	}
}

// ToAuthConfig converts ServerConfig to middleware.AuthConfig
func (c *ServerConfig) ToAuthConfig() *middleware.AuthConfig {
	ac := middleware.DefaultAuthConfig()
	ac.Enabled = c.AuthEnabled
	if c.APIKeys != nil {
		ac.APIKeys = c.APIKeys
	}
	return ac
}

// ToFetchConfig converts ServerConfig to fetch.Config
func (c *ServerConfig) ToFetchConfig() fetch.Config {
	fc := fetch.DefaultConfig()
	fc.Timeout = c.Timeout
	if c.CacheTTL > 0 {
		fc.CacheTTL = c.CacheTTL
	}
	if c.MaxBodyBytes > 0 {
		fc.MaxBodyBytes = c.MaxBodyBytes
	}
	fc.AllowPrivateHosts = c.AllowPrivateHosts
	return fc
}

// ToPingConfig converts ServerConfig to ping.Config
func (c *ServerConfig) ToPingConfig() ping.Config {
	pc := ping.DefaultConfig()
	if c.PingWorkers > 0 {
		pc.Workers = c.PingWorkers
	}
	if c.PingTimeout > 0 {
		pc.Timeout = c.PingTimeout
	}
	return pc
}

// ToStorageConfig converts DatabaseConfig to storage.DatabaseConfig
func (dc *DatabaseConfig) ToStorageConfig() storage.DatabaseConfig {
	port, _ := strconv.Atoi(dc.Port)
	return storage.DatabaseConfig{
		Host:     dc.Host,
		Port:     port,
		User:     dc.User,
		Password: dc.Password,
		Name:     dc.Name,
		SSLMode:  dc.SSLMode,
		MaxOpen:  dc.MaxConnections,
		MaxIdle:  dc.MaxIdleConns,
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as int or a default
func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvDurationOrDefault returns the environment variable as a duration or
// a default. Both Go durations ("750ms") and bare milliseconds are accepted.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// splitAndTrim splits a string by delimiter and drops empty parts
func splitAndTrim(s, delimiter string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, delimiter) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// isProduction returns true if running in production environment
func isProduction() bool {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("ENV")
	}
	return env == "production" || env == "prod"
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", port)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}

	if c.Timeout > 30*time.Second {
		return fmt.Errorf("timeout must be less than 30s, got %v", c.Timeout)
	}

	if c.MaxWrapperDepth < 0 {
		return fmt.Errorf("max wrapper depth must be non-negative, got %d", c.MaxWrapperDepth)
	}

	if c.MaxBodyBytes < 0 || c.MaxBodyBytes > 16<<20 {
		return fmt.Errorf("max body bytes must be in range 0-16MiB, got %d", c.MaxBodyBytes)
	}

	if c.PingWorkers < 0 || c.PingWorkers > 1024 {
		return fmt.Errorf("ping workers must be in range 0-1024, got %d", c.PingWorkers)
	}

	if c.DatabaseConfig != nil {
		if err := c.DatabaseConfig.Validate(); err != nil {
			return fmt.Errorf("database config: %w", err)
		}
	}

	// SECURITY: Validate CORS origins and auth in production
	if isProduction() {
		if !c.AuthEnabled {
			return fmt.Errorf("auth must be enabled in production")
		}
		if len(c.CORSOrigins) == 0 {
			return fmt.Errorf("CORS origins must be explicitly configured in production (set CORS_ORIGINS)")
		}
		for _, origin := range c.CORSOrigins {
			if origin == "*" {
				return fmt.Errorf("CORS wildcard '*' is not allowed in production - specify explicit origins")
			}
		}
	}

	return nil
}

// Validate validates the database configuration
func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("host is required")
	}

	if dc.Port == "" {
		return fmt.Errorf("port is required")
	}

	port, err := strconv.Atoi(dc.Port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", port)
	}

	if dc.User == "" {
		return fmt.Errorf("user is required")
	}

	if dc.Password == "" {
		return fmt.Errorf("password is required")
	}

	if err := validatePassword(dc.Password); err != nil {
		return fmt.Errorf("password validation failed: %w", err)
	}

	if dc.Name == "" {
		return fmt.Errorf("database name is required")
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}

	if !validSSLModes[dc.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", dc.SSLMode)
	}

	// SECURITY: In production, SSL must not be disabled
	if isProduction() && dc.SSLMode == "disable" {
		return fmt.Errorf("SSL mode 'disable' is not allowed in production (set ENVIRONMENT=production or ENV=production)")
	}

	if dc.MaxConnections < 1 {
		return fmt.Errorf("max connections must be at least 1, got %d", dc.MaxConnections)
	}

	if dc.MaxConnections > 1000 {
		return fmt.Errorf("max connections must not exceed 1000, got %d", dc.MaxConnections)
	}

	if dc.MaxIdleConns < 0 {
		return fmt.Errorf("max idle connections must be non-negative, got %d", dc.MaxIdleConns)
	}

	if dc.MaxIdleConns > dc.MaxConnections {
		return fmt.Errorf("max idle connections (%d) cannot exceed max connections (%d)", dc.MaxIdleConns, dc.MaxConnections)
	}

	return nil
}

// validatePassword validates password strength and rejects common placeholders
func validatePassword(password string) error {
	if len(password) < 16 {
		return fmt.Errorf("password must be at least 16 characters long, got %d", len(password))
	}

	lower := strings.ToLower(password)
	placeholders := []string{
		"changeme",
		"change_me",
		"change-me",
		"password",
		"secret",
		"admin",
		"root",
		"test",
		"demo",
		"example",
		"default",
		"placeholder",
	}

	for _, placeholder := range placeholders {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("password contains placeholder text '%s' - use a strong, unique password", placeholder)
		}
	}

	return nil
}
