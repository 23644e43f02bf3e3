package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/rs/zerolog/log"
)

type UpdateMode string

const (
	ModeWebhook UpdateMode = "webhook"
	ModePolling UpdateMode = "polling"
)

type Config struct {
	TelegramBotToken string     `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	AdminUserID      int64      `env:"ADMIN_USER" envDefault:"1144370824"`
	UpdateMode       UpdateMode `env:"UPDATE_MODE" envDefault:"webhook"`

	// Webhook delivery
	WebhookURL        string `env:"WEBHOOK_URL"`
	WebhookListenAddr string `env:"WEBHOOK_LISTEN_ADDR" envDefault:":10000"`
	WebhookPath       string `env:"WEBHOOK_PATH" envDefault:"/webhook"`

	// Search
	SearchBaseURL    string        `env:"SEARCH_BASE_URL" envDefault:"https://webook.com"`
	SearchLocale     string        `env:"SEARCH_LOCALE" envDefault:"ar"`
	SearchMaxResults int           `env:"SEARCH_MAX_RESULTS" envDefault:"3"`
	SearchTimeout    time.Duration `env:"SEARCH_TIMEOUT" envDefault:"10s"`
	SearchRatePerSec float64       `env:"SEARCH_RATE_PER_SEC" envDefault:"2"`
	SearchUserAgent  string        `env:"SEARCH_USER_AGENT" envDefault:"Mozilla/5.0"`

	// Storage
	LedgerFilePath string        `env:"LEDGER_FILE_PATH" envDefault:"data/bookings.csv"`
	LedgerTimeout  time.Duration `env:"LEDGER_TIMEOUT" envDefault:"5s"`

	ConversationTTL time.Duration `env:"CONVERSATION_TTL" envDefault:"30m"`

	// Daily report, cron syntax in UTC; empty disables it.
	ReportSchedule string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse config")
	}
	return cfg
}

// Parse reads the environment and validates the result.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.UpdateMode {
	case ModeWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required in %s mode", ModeWebhook)
		}
	case ModePolling:
	default:
		return fmt.Errorf("unknown update mode: %s", c.UpdateMode)
	}
	if c.SearchMaxResults <= 0 {
		return fmt.Errorf("SEARCH_MAX_RESULTS must be positive, got %d", c.SearchMaxResults)
	}
	if c.SearchTimeout <= 0 || c.LedgerTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ConversationTTL <= 0 {
		return fmt.Errorf("CONVERSATION_TTL must be positive, got %s", c.ConversationTTL)
	}
	return nil
}
