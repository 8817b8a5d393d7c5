package upstream

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/animus-labs/simgate/internal/platform/env"
)

type Config struct {
	URL           string        `validate:"required,url"`
	SigningSecret string        `validate:"-"`
	Timeout       time.Duration `validate:"gt=0"`
	MaxBodyBytes  int64         `validate:"gt=0"`
	OAuth         OAuthConfig
}

// OAuthConfig enables client-credentials tokens on outbound calls when
// ClientID is set. TokenURL wins over Issuer discovery.
type OAuthConfig struct {
	ClientID     string   `validate:"required_with=ClientSecret"`
	ClientSecret string   `validate:"required_with=ClientID"`
	TokenURL     string   `validate:"omitempty,url"`
	Issuer       string   `validate:"omitempty,url"`
	Scopes       []string `validate:"dive,required"`
}

func (c OAuthConfig) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != ""
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:           env.String("VALIDATOR_URL", ""),
		SigningSecret: env.String("VALIDATOR_SIGNING_SECRET", ""),
		OAuth: OAuthConfig{
			ClientID:     env.String("VALIDATOR_OAUTH_CLIENT_ID", ""),
			ClientSecret: env.String("VALIDATOR_OAUTH_CLIENT_SECRET", ""),
			TokenURL:     env.String("VALIDATOR_OAUTH_TOKEN_URL", ""),
			Issuer:       env.String("VALIDATOR_OAUTH_ISSUER", ""),
			Scopes:       env.Strings("VALIDATOR_OAUTH_SCOPES", nil),
		},
	}
	timeout, err := env.Duration("VALIDATOR_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.Timeout = timeout
	maxBody, err := env.Int("VALIDATOR_MAX_BODY_BYTES", 8<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes = int64(maxBody)
	return cfg, cfg.Validate()
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validator config: %w", err)
	}
	if c.OAuth.Enabled() && strings.TrimSpace(c.OAuth.TokenURL) == "" && strings.TrimSpace(c.OAuth.Issuer) == "" {
		return fmt.Errorf("validator config: VALIDATOR_OAUTH_TOKEN_URL or VALIDATOR_OAUTH_ISSUER is required with a client id")
	}
	return nil
}
