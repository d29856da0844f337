package config

import (
	"fmt"
	"os"
	"strconv"
)

// GatewayConfig carries every setting the gateway needs. It is built once
// in main and passed into constructors; nothing reads the environment after
// startup.
type GatewayConfig struct {
	APIKeySandbox string
	APIKeyLive    string
	SandboxMode   bool
	WebhookSecret string
	ClientName    string
	AutoComplete  bool

	// BaseURL overrides the provider base URL, used by tests and the
	// sandbox tester. Empty means the production EcoCash host.
	BaseURL string

	MongoURI  string
	RedisAddr string
	JWTSecret string
	Port      string
}

// Load reads the configuration from the environment.
func Load() (*GatewayConfig, error) {
	cfg := &GatewayConfig{
		APIKeySandbox: os.Getenv("ECOCASH_API_KEY_SANDBOX"),
		APIKeyLive:    os.Getenv("ECOCASH_API_KEY_LIVE"),
		SandboxMode:   envBool("ECOCASH_SANDBOX_MODE", true),
		WebhookSecret: os.Getenv("ECOCASH_WEBHOOK_SECRET"),
		ClientName:    os.Getenv("ECOCASH_CLIENT_NAME"),
		AutoComplete:  envBool("ECOCASH_AUTO_COMPLETE", false),
		BaseURL:       os.Getenv("ECOCASH_BASE_URL"),
		MongoURI:      os.Getenv("MONGOURI"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		Port:          os.Getenv("PORT"),
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGOURI environment variable not set")
	}
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("no EcoCash API key configured for %s mode", cfg.Mode())
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "EcoCash Merchant"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	return cfg, nil
}

// APIKey returns the key for the active mode.
func (c *GatewayConfig) APIKey() string {
	if c.SandboxMode {
		return c.APIKeySandbox
	}
	return c.APIKeyLive
}

// Mode returns "sandbox" or "live".
func (c *GatewayConfig) Mode() string {
	if c.SandboxMode {
		return "sandbox"
	}
	return "live"
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v == "yes"
	}
	return b
}
