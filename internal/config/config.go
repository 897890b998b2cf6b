package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/foxhuntgame/foxhunt/internal/game"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/foxhunt.db"`
	RedisURL string     `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SPADir   string     `env:"SPA_DIR" envDefault:"../web/dist"`

	// Gameplay tunables applied to every session.
	RadiusLevels           []float64     `env:"RADIUS_LEVELS" envDefault:"2000,1000,500,250,100"`
	BasePoints             int           `env:"BASE_POINTS" envDefault:"100"`
	PointsPerShrink        int           `env:"POINTS_PER_SHRINK" envDefault:"50"`
	CatchPoints            int           `env:"CATCH_POINTS" envDefault:"100"`
	DefaultPlayRadius      float64       `env:"DEFAULT_PLAY_RADIUS" envDefault:"5000"`
	DefaultActivationDelay time.Duration `env:"DEFAULT_ACTIVATION_DELAY" envDefault:"60s"`
	DefaultGameDuration    time.Duration `env:"DEFAULT_GAME_DURATION" envDefault:"60m"`
	LocationThrottle       time.Duration `env:"LOCATION_THROTTLE" envDefault:"2s"`

	// Location trail retention in Redis.
	TrailWindow int           `env:"TRAIL_WINDOW" envDefault:"50"`
	TrailTTL    time.Duration `env:"TRAIL_TTL" envDefault:"24h"`

	// Bootstrap admin account. Seeding is skipped when the password is
	// left empty.
	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@localhost"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func Load() (*Config, error) {
	// A .env file is a local convenience; its absence is not an error.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Rules().Validate(); err != nil {
		return nil, fmt.Errorf("validating game rules: %w", err)
	}
	return &cfg, nil
}

// Rules assembles the game rule set from the configured tunables.
func (c *Config) Rules() game.Rules {
	return game.Rules{
		RadiusLevels:           c.RadiusLevels,
		BasePoints:             c.BasePoints,
		PointsPerShrink:        c.PointsPerShrink,
		CatchPoints:            c.CatchPoints,
		DefaultPlayRadius:      c.DefaultPlayRadius,
		DefaultActivationDelay: c.DefaultActivationDelay,
		DefaultGameDuration:    c.DefaultGameDuration,
		LocationThrottle:       c.LocationThrottle,
	}
}
