package publisher

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the environment-driven configuration for a publisher binary.
// Comma-separated RELAY_URLS become the relay set; NOSTR_SECRET_KEY is the
// 64-character hex signing key.
type Config struct {
	RelayURLs     []string `envconfig:"RELAY_URLS" validate:"required,min=1"`
	StagingURL    string   `envconfig:"STAGING_API_URL" validate:"required,url"`
	StagingAPIKey string   `envconfig:"STAGING_API_KEY"`
	SecretKey     string   `envconfig:"NOSTR_SECRET_KEY" validate:"required,len=64,hexadecimal"`

	BasePollInterval   time.Duration `envconfig:"BASE_POLL_INTERVAL" default:"2m"`
	ActivePollInterval time.Duration `envconfig:"ACTIVE_POLL_INTERVAL" default:"30s"`
	IdlePollInterval   time.Duration `envconfig:"IDLE_POLL_INTERVAL" default:"5m"`
	CatchUpThreshold   time.Duration `envconfig:"CATCH_UP_THRESHOLD" default:"10m"`
	RetryDelay         time.Duration `envconfig:"RETRY_DELAY" default:"30s"`
	MaxAttempts        int           `envconfig:"MAX_ATTEMPTS" default:"3" validate:"min=1"`
	SendTimeout        time.Duration `envconfig:"RELAY_SEND_TIMEOUT" default:"10s"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// LoadConfig reads configuration from the process environment. A .env file
// in the working directory is loaded first when present; missing required
// values or malformed ones fail the load.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
