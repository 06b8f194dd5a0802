package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable read by Load,
// e.g. FLASHROOM_DATABASE_DSN.
const EnvPrefix = "FLASHROOM"

var validate = validator.New()

type Config struct {
	ServerAddr     string   `envconfig:"ADDR" default:"localhost:8000" validate:"required"`
	DatabaseDSN    string   `envconfig:"DATABASE_DSN" default:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable" validate:"required"`
	RedisAddr      string   `envconfig:"REDIS_ADDR" default:"localhost:6379" validate:"required"`
	RedisPassword  string   `envconfig:"REDIS_PASSWORD"`
	RedisDB        int      `envconfig:"REDIS_DB" validate:"gte=0"`
	SigningSecret  string   `envconfig:"SIGNING_KEY" validate:"required,base64"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat      string   `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	RoomTTL           time.Duration `envconfig:"ROOM_TTL" default:"15m" validate:"gt=0"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s" validate:"gt=0"`
	ReapInterval      time.Duration `envconfig:"REAP_INTERVAL" default:"1h" validate:"gt=0"`
	Retention         time.Duration `envconfig:"RETENTION" default:"24h" validate:"gt=0"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"24h" validate:"gt=0"`
	MessageRateLimit  int           `envconfig:"MESSAGE_RATE_LIMIT" default:"20" validate:"gte=0"`
	MessageRateWindow time.Duration `envconfig:"MESSAGE_RATE_WINDOW" default:"10s" validate:"gt=0"`

	SigningKey []byte `ignored:"true"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Load reads an optional dotenv file followed by the process environment.
// Missing dotenv files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	return &cfg, nil
}

// Validate checks every field and decodes the signing secret. It must be
// called after any flag overrides have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}

	if len(signingKey) == 0 {
		return fmt.Errorf("signing secret cannot be empty")
	}

	c.SigningKey = signingKey
	return nil
}
