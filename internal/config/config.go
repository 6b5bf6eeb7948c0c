package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	BotToken     string `env:"BOT_TOKEN,required"`
	DatabaseURL  string `env:"DATABASE_URL,required"`
	GeminiAPIKey string `env:"GEMINI_API_KEY,required"`

	// Model
	GeminiModel string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	// Bot behavior
	DropPendingUpdates bool `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
