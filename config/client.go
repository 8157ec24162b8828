package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends for the client
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// DefaultAPIURL is the deployed resource server used when HVALFANGST_API_URL is unset
const DefaultAPIURL = "https://hvalfangstlinuxwebapp.azurewebsites.net/api"

// ClientConfig represents the client application configuration
type ClientConfig struct {
	Server        ServerConfig
	OAuth         OAuthConfig
	API           APIConfig
	Session       SessionConfig
	OpenBrowser   bool
	Observability ObservabilityConfig
	Environment   string
}

// OAuthConfig holds the confidential client registration in Entra ID
type OAuthConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Authority    string
}

// APIConfig points the client at the resource server
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig selects where per-session tokens are held
type SessionConfig struct {
	Store    string
	RedisURL string
	TTL      time.Duration
}

// NewClient creates a ClientConfig by loading environment variables
func NewClient(ctx context.Context) (*ClientConfig, error) {
	_ = godotenv.Load(".env")

	tenantID := getEnv("AZURE_TENANT_ID", "")

	cfg := &ClientConfig{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("CLIENT_HOST", "localhost"),
			Port:            getPort(8000, "CLIENT_PORT"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OAuth: OAuthConfig{
			TenantID:     tenantID,
			ClientID:     getEnv("AZURE_CLIENT_ID", ""),
			ClientSecret: getEnv("AZURE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("REDIRECT_URI", ""),
			Scopes:       getEnvAsList("SCOPES", "", nil),
			Authority:    getEnv("ENTRA_AUTHORITY", AuthorityFor(tenantID)),
		},
		API: APIConfig{
			BaseURL: strings.TrimSuffix(getEnv("HVALFANGST_API_URL", DefaultAPIURL), "/"),
			Timeout: getEnvAsDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		},
		Session: SessionConfig{
			Store:    strings.ToLower(getEnv("SESSION_STORE", SessionStoreMemory)),
			RedisURL: getEnv("REDIS_URL", ""),
			TTL:      getEnvAsDuration("SESSION_TTL", time.Hour),
		},
		OpenBrowser: getEnvAsBool("OPEN_BROWSER", true),
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "console"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that every setting needed for the authorization code flow is present
func (c *ClientConfig) Validate() error {
	var missing []string
	if c.OAuth.ClientID == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}
	if c.OAuth.ClientSecret == "" {
		missing = append(missing, "AZURE_CLIENT_SECRET")
	}
	if c.OAuth.TenantID == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}
	if c.OAuth.RedirectURI == "" {
		missing = append(missing, "REDIRECT_URI")
	}
	if len(c.OAuth.Scopes) == 0 {
		missing = append(missing, "SCOPES")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if _, err := url.ParseRequestURI(c.OAuth.RedirectURI); err != nil {
		return fmt.Errorf("invalid REDIRECT_URI %q: %w", c.OAuth.RedirectURI, err)
	}
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("invalid HVALFANGST_API_URL %q: %w", c.API.BaseURL, err)
	}

	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Session.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown session store %q: use memory or redis", c.Session.Store)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	return nil
}

// AuthorizeURL returns the v2.0 authorization endpoint
func (c *OAuthConfig) AuthorizeURL() string {
	return strings.TrimSuffix(c.Authority, "/") + "/oauth2/v2.0/authorize"
}

// TokenURL returns the v2.0 token endpoint
func (c *OAuthConfig) TokenURL() string {
	return strings.TrimSuffix(c.Authority, "/") + "/oauth2/v2.0/token"
}

// IssuerURL returns the v2.0 issuer used for ID token verification
func (c *OAuthConfig) IssuerURL() string {
	return strings.TrimSuffix(c.Authority, "/") + "/v2.0"
}

// JWKSURL returns the tenant's published signing keys
func (c *OAuthConfig) JWKSURL() string {
	return strings.TrimSuffix(c.Authority, "/") + "/discovery/v2.0/keys"
}

// SecureCookies reports whether cookies should carry the Secure flag
func (c *OAuthConfig) SecureCookies() bool {
	return strings.HasPrefix(c.RedirectURI, "https")
}
