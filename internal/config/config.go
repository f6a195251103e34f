package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// webhookSecretPattern はBot APIのsecret_tokenに使える文字と長さ。
var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Telegram
	BotToken        string        `env:"BOT_TOKEN,required,notEmpty"`
	BotUsername     string        `env:"BOT_USERNAME,required,notEmpty"`
	TelegramAPIURL  string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	TelegramTimeout time.Duration `env:"TELEGRAM_TIMEOUT" envDefault:"10s"`
	PollTimeout     time.Duration `env:"POLL_TIMEOUT" envDefault:"30s"`
	PollWorkers     int           `env:"POLL_WORKERS" envDefault:"8"`

	// Webhook
	BaseURL       string `env:"BASE_URL"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	// Database
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:anonchat.db"`

	// Pairing
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	PendingTimeout       time.Duration `env:"PENDING_TIMEOUT" envDefault:"5m"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT" envDefault:"30m"`
	PairingRetryCooldown time.Duration `env:"PAIRING_RETRY_COOLDOWN" envDefault:"0s"`

	// Snapshot
	SnapshotEnabled  bool          `env:"SNAPSHOT_ENABLED" envDefault:"true"`
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"1m"`

	// Rate Limit
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.BotUsername = strings.TrimPrefix(cfg.BotUsername, "@")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must not be empty"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.PendingTimeout <= 0 {
		errs = append(errs, errors.New("PENDING_TIMEOUT must be positive"))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("IDLE_TIMEOUT must be positive"))
	}
	if c.PairingRetryCooldown < 0 {
		errs = append(errs, errors.New("PAIRING_RETRY_COOLDOWN must not be negative"))
	}
	if c.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("SNAPSHOT_INTERVAL must be positive"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive"))
	}
	if c.PollWorkers <= 0 {
		errs = append(errs, errors.New("POLL_WORKERS must be positive"))
	}
	if c.TelegramTimeout <= 0 {
		errs = append(errs, errors.New("TELEGRAM_TIMEOUT must be positive"))
	}
	if c.PollTimeout < 0 {
		errs = append(errs, errors.New("POLL_TIMEOUT must not be negative"))
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, fmt.Errorf("BASE_URL must be an absolute https URL, got %q", c.BaseURL))
		}
		if c.WebhookSecret == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required when BASE_URL is set"))
		}
	}
	if c.WebhookSecret != "" && !webhookSecretPattern.MatchString(c.WebhookSecret) {
		errs = append(errs, errors.New("WEBHOOK_SECRET must be 1-256 characters of A-Z, a-z, 0-9, _ or -"))
	}

	return errors.Join(errs...)
}

// WebhookURL はTelegramに登録するWebhookのURLを返す。
// BASE_URLが未設定の場合は空文字を返す。
func (c *Config) WebhookURL() string {
	if c.BaseURL == "" {
		return ""
	}
	return c.BaseURL + "/webhook/" + url.PathEscape(c.WebhookSecret)
}
