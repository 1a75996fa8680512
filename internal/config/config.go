package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken  string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath    string `envconfig:"DB_PATH" default:"./data/checkin.db"`
	DefaultTZ string `envconfig:"DEFAULT_TZ" default:"Europe/Kyiv"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"` // healthz, metrics, timer listing

	// Default slot times relative to the sleep schedule.
	MorningOffset  time.Duration `envconfig:"MORNING_OFFSET" default:"1h"`
	EveningOffset  time.Duration `envconfig:"EVENING_OFFSET" default:"2h"`
	MiddayEarliest string        `envconfig:"MIDDAY_EARLIEST" default:"11:00"`
	MiddayLatest   string        `envconfig:"MIDDAY_LATEST" default:"17:00"`

	RemindLaterDelay time.Duration `envconfig:"REMIND_LATER_DELAY" default:"15m"`
	RemindLaterMax   int           `envconfig:"REMIND_LATER_MAX" default:"3"`

	ReconcileBackoffMin time.Duration `envconfig:"RECONCILE_BACKOFF_MIN" default:"1s"`
	ReconcileBackoffMax time.Duration `envconfig:"RECONCILE_BACKOFF_MAX" default:"1m"`

	// Outbound Telegram throttle, messages per second.
	SendRate  float64 `envconfig:"SEND_RATE" default:"25"`
	SendBurst int     `envconfig:"SEND_BURST" default:"5"`
}

// Load reads a .env file when present, then environment variables into Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads only the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is empty")
	}
	if _, err := domain.ValidateTZ(c.DefaultTZ); err != nil {
		return fmt.Errorf("DEFAULT_TZ: %w", err)
	}
	if _, err := c.Offsets(); err != nil {
		return err
	}
	if c.RemindLaterMax < 0 {
		return fmt.Errorf("REMIND_LATER_MAX must not be negative, got %d", c.RemindLaterMax)
	}
	if c.RemindLaterDelay <= 0 {
		return fmt.Errorf("REMIND_LATER_DELAY must be positive, got %s", c.RemindLaterDelay)
	}
	if c.SendRate <= 0 || c.SendBurst <= 0 {
		return errors.New("SEND_RATE and SEND_BURST must be positive")
	}
	return nil
}

// Offsets converts the slot settings into resolver offsets.
func (c Config) Offsets() (domain.Offsets, error) {
	earliest, err := domain.ParseClock(c.MiddayEarliest)
	if err != nil {
		return domain.Offsets{}, fmt.Errorf("MIDDAY_EARLIEST: %w", err)
	}
	latest, err := domain.ParseClock(c.MiddayLatest)
	if err != nil {
		return domain.Offsets{}, fmt.Errorf("MIDDAY_LATEST: %w", err)
	}
	if earliest > latest {
		return domain.Offsets{}, fmt.Errorf("MIDDAY_EARLIEST %s is after MIDDAY_LATEST %s", c.MiddayEarliest, c.MiddayLatest)
	}
	return domain.Offsets{
		Morning:        c.MorningOffset,
		Evening:        c.EveningOffset,
		MiddayEarliest: earliest,
		MiddayLatest:   latest,
	}, nil
}
