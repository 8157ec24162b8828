package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends for the hero resource
const (
	HeroStoreMemory   = "memory"
	HeroStorePostgres = "postgres"
)

// rsaAlgorithms are the JWS algorithms Entra ID signing keys can serve
var rsaAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
}

// Config represents the resource server configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Entra         EntraConfig
	HeroStore     string
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// EntraConfig holds the trust settings for access tokens issued by Microsoft Entra ID
type EntraConfig struct {
	TenantID           string
	Audience           string // API server client ID (HVALFANGST_API_SERVER_CLIENT_ID)
	Authority          string
	Issuer             string // Optional issuer pin
	AllowedAlgorithms  []string
	ClockSkew          time.Duration
	JWKSCacheTTL       time.Duration
	MinRefreshInterval time.Duration
	HTTPTimeout        time.Duration
	AdminRole          string
}

// CORSConfig holds allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	tenantID := getEnv("HVALFANGST_TENANT_ID", "")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(8080, "PORT", "SERVER_PORT"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Entra: EntraConfig{
			TenantID:           tenantID,
			Audience:           getEnv("HVALFANGST_API_SERVER_CLIENT_ID", ""),
			Authority:          getEnv("ENTRA_AUTHORITY", AuthorityFor(tenantID)),
			Issuer:             getEnv("ENTRA_ISSUER", ""),
			AllowedAlgorithms:  getEnvAsList("ENTRA_ALLOWED_ALGORITHMS", ",", []string{"RS256"}),
			ClockSkew:          getEnvAsDuration("ENTRA_CLOCK_SKEW", 0),
			JWKSCacheTTL:       getEnvAsDuration("JWKS_CACHE_TTL", time.Hour),
			MinRefreshInterval: getEnvAsDuration("JWKS_MIN_REFRESH_INTERVAL", time.Minute),
			HTTPTimeout:        getEnvAsDuration("JWKS_HTTP_TIMEOUT", 10*time.Second),
			AdminRole:          getEnv("ADMIN_ROLE", "Heroes.Admin"),
		},
		HeroStore: strings.ToLower(getEnv("HERO_STORE", HeroStoreMemory)),
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", ",", []string{"http://localhost:*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Entra.TenantID == "" {
		return fmt.Errorf("tenant ID is required: set HVALFANGST_TENANT_ID")
	}
	if c.Entra.Audience == "" {
		return fmt.Errorf("API server client ID is required: set HVALFANGST_API_SERVER_CLIENT_ID")
	}
	if c.Entra.Authority == "" {
		return fmt.Errorf("authority is required: set ENTRA_AUTHORITY")
	}
	if _, err := url.ParseRequestURI(c.Entra.Authority); err != nil {
		return fmt.Errorf("invalid authority %q: %w", c.Entra.Authority, err)
	}
	if len(c.Entra.AllowedAlgorithms) == 0 {
		return fmt.Errorf("at least one signing algorithm must be allowed")
	}
	for _, alg := range c.Entra.AllowedAlgorithms {
		if !rsaAlgorithms[alg] {
			return fmt.Errorf("signing algorithm %q is not an RSA algorithm", alg)
		}
	}
	if c.Entra.JWKSCacheTTL <= 0 {
		return fmt.Errorf("JWKS cache TTL must be positive")
	}
	if c.Entra.HTTPTimeout <= 0 {
		return fmt.Errorf("JWKS HTTP timeout must be positive")
	}

	switch c.HeroStore {
	case HeroStoreMemory:
	case HeroStorePostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	default:
		return fmt.Errorf("unknown hero store %q: use memory or postgres", c.HeroStore)
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// AuthorityFor returns the Entra ID authority URL for a tenant
func AuthorityFor(tenantID string) string {
	if tenantID == "" {
		return ""
	}
	return "https://login.microsoftonline.com/" + tenantID
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "heroes"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "heroes"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the first parseable port among keys, or defaultPort
func getPort(defaultPort int, keys ...string) int {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return defaultPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits key on sep, dropping blanks. An empty sep splits on whitespace.
func getEnvAsList(key, sep string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var parts []string
	if sep == "" {
		parts = strings.Fields(valueStr)
	} else {
		parts = strings.Split(valueStr, sep)
	}
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	return values
}
