package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	ServerPort   string        `env:"SERVER_PORT,default=8080"`
	DataDir      string        `env:"DATA_DIR,default=./data"`
	JWTSecret    string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	TypingExpiry time.Duration `env:"TYPING_EXPIRY,default=2s"`
	LogLevel     string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
