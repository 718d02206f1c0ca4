package config

import "fmt"

// JWTConfig holds configuration for reviewer token validation and issuing.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// JWT returns the token configuration, or nil when no secret is set and
// approval is open.
func (a AuthConfig) JWT() (*JWTConfig, error) {
	if a.JWTSecret == "" {
		return nil, nil
	}
	cfg := &JWTConfig{Secret: a.JWTSecret, ExpirationHours: a.JWTExpirationHours}
	if cfg.ExpirationHours == 0 {
		cfg.ExpirationHours = 24
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize validates the configuration.
func (c *JWTConfig) normalize() error {
	if c.Secret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if len(c.Secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters, got %d", len(c.Secret))
	}
	if c.ExpirationHours < 1 {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", c.ExpirationHours)
	}
	return nil
}
