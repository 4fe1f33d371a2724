// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates every tunable the service reads at startup.
type Config struct {
	HTTPAddr string `env:"KEYSTEP_HTTP_ADDR" envDefault:":8080"`

	DBPath    string `env:"KEYSTEP_DB_PATH"    envDefault:"data/keystep.db"`
	RedisAddr string `env:"KEYSTEP_REDIS_ADDR" envDefault:"localhost:6379"`

	RPDisplayName string   `env:"KEYSTEP_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"keystep"`
	RPID          string   `env:"KEYSTEP_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string `env:"KEYSTEP_WEBAUTHN_RP_ORIGINS"      envSeparator:","`

	ChallengeTTL time.Duration `env:"KEYSTEP_CHALLENGE_TTL" envDefault:"5m"`
	TokenTTL     time.Duration `env:"KEYSTEP_TOKEN_TTL"     envDefault:"2m"`
	CodeTTL      time.Duration `env:"KEYSTEP_CODE_TTL"      envDefault:"5m"`
	ApprovalTTL  time.Duration `env:"KEYSTEP_APPROVAL_TTL"  envDefault:"5m"`

	CodeDigits      int `env:"KEYSTEP_CODE_DIGITS"       envDefault:"6"`
	CodeMaxAttempts int `env:"KEYSTEP_CODE_MAX_ATTEMPTS" envDefault:"3"`

	JWTSecret string `env:"KEYSTEP_JWT_SECRET"`

	SendGridAPIKey  string `env:"KEYSTEP_SENDGRID_API_KEY"`
	SendGridFrom    string `env:"KEYSTEP_SENDGRID_FROM"`
	SendGridSandbox bool   `env:"KEYSTEP_SENDGRID_SANDBOX" envDefault:"false"`

	TwilioAccountSID string `env:"KEYSTEP_TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"KEYSTEP_TWILIO_AUTH_TOKEN"`
	TwilioFromPhone  string `env:"KEYSTEP_TWILIO_FROM_PHONE"`

	LogLevel string `env:"KEYSTEP_LOG_LEVEL" envDefault:"info"`
}

// LoadFromEnv returns configuration with defaults applied.
func LoadFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return defaultConfig()
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "keystep"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	return cfg
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		DBPath:          "data/keystep.db",
		RedisAddr:       "localhost:6379",
		RPDisplayName:   "keystep",
		RPID:            "localhost",
		RPOrigins:       []string{"http://localhost:8080"},
		ChallengeTTL:    5 * time.Minute,
		TokenTTL:        2 * time.Minute,
		CodeTTL:         5 * time.Minute,
		ApprovalTTL:     5 * time.Minute,
		CodeDigits:      6,
		CodeMaxAttempts: 3,
		LogLevel:        "info",
	}
}
