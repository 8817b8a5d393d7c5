package objectstore

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/animus-labs/simgate/internal/platform/env"
)

// Config describes the optional result archive. When Enabled is false the
// remaining fields are not checked.
type Config struct {
	Enabled       bool
	Endpoint      string `validate:"required,hostname_port,excludes=://"`
	AccessKey     string `validate:"required"`
	SecretKey     string `validate:"required"`
	Region        string `validate:"required"`
	UseSSL        bool
	BucketResults string `validate:"required,min=3,max=63"`
	Prefix        string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:      env.String("SIMGATE_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("SIMGATE_MINIO_ACCESS_KEY", "simgate"),
		SecretKey:     env.String("SIMGATE_MINIO_SECRET_KEY", "simgateminio"),
		Region:        env.String("SIMGATE_MINIO_REGION", "us-east-1"),
		BucketResults: env.String("SIMGATE_MINIO_BUCKET_RESULTS", "simulation-results"),
		Prefix:        strings.Trim(env.String("SIMGATE_MINIO_PREFIX", "results"), "/ "),
	}
	var err error
	if cfg.Enabled, err = env.Bool("SIMGATE_ARCHIVE_ENABLED", false); err != nil {
		return Config{}, err
	}
	if cfg.UseSSL, err = env.Bool("SIMGATE_MINIO_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if !cfg.Enabled {
		return cfg, nil
	}
	return cfg, cfg.Validate()
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}
	return nil
}
