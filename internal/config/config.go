package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Config struct {
	AppName  string `env:"APP_NAME,default=telecare"`
	Env      string `env:"APP_ENV,default=development" validate:"oneof=development staging production test"`
	Host     string `env:"HTTP_HOST,default=0.0.0.0"`
	Port     int    `env:"HTTP_PORT,default=8000" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	JWTSecret   string `env:"JWT_SECRET,required=true" validate:"required"`
	CORSOrigins string `env:"CORS_ORIGINS"`

	StoreDriver   string `env:"STORE_DRIVER,default=memory" validate:"oneof=memory badger sqlite postgres"`
	BadgerPath    string `env:"BADGER_PATH,default=data/badger" validate:"required_if=StoreDriver badger"`
	SQLiteDSN     string `env:"SQLITE_DSN,default=file:telecare.db" validate:"required_if=StoreDriver sqlite"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	PresenceDriver string `env:"PRESENCE_DRIVER,default=memory" validate:"oneof=memory redis"`
	OfflineQueue   string `env:"OFFLINE_QUEUE,default=none" validate:"oneof=none asynq"`
	RedisURL       string `env:"REDIS_URL"`

	CallTimeout      time.Duration `env:"CALL_TIMEOUT,default=60s" validate:"min=1s"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH,default=5000" validate:"min=1"`
	SendBufferSize   int           `env:"SEND_BUFFER_SIZE,default=128" validate:"min=1"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnviron()
}

// FromEnviron builds the configuration from the process environment only.
func FromEnviron() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if (c.PresenceDriver == "redis" || c.OfflineQueue == "asynq") && c.RedisURL == "" {
		return fmt.Errorf("invalid config: REDIS_URL is required for PRESENCE_DRIVER=%s OFFLINE_QUEUE=%s", c.PresenceDriver, c.OfflineQueue)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// AllowedOrigins splits CORS_ORIGINS on commas. An empty list means the local
// dev front ends.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.CORSOrigins) == "" {
		return defaultOrigins
	}
	var out []string
	for _, part := range strings.Split(c.CORSOrigins, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
