package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Stripe      StripeConfig
	JobPlatform JobPlatformConfig
	Referral    ReferralConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// StripeConfig configures the payments platform used for referral payouts.
type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	Currency       string
	RequestTimeout time.Duration
}

// JobPlatformConfig configures the inbound job/invoice webhook.
type JobPlatformConfig struct {
	WebhookSecret string
}

// ReferralConfig holds the default reward policy. Each value may be overridden
// at runtime through system_settings.
type ReferralConfig struct {
	CommissionBps     int64 // 500 = 5%
	MinRewardCents    int64
	MaxRewardCents    int64 // 0 = uncapped
	MaxPayoutAttempts int
	RetryInterval     time.Duration // 0 disables the retry sweeper
	RetryBackoff      time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}
	return &Config{
		Server: ServerConfig{
			Port:         env("PORT", "8099"),
			Env:          env("APP_ENV", "development"),
			ReadTimeout:  envDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: envDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			CORSOrigins:  envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			DSN:             env("DATABASE_DSN", "referpay:referpay@tcp(localhost:3306)/referpay?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: env("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: envDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			Issuer:       env("JWT_ISSUER", "referpay"),
		},
		Stripe: StripeConfig{
			SecretKey:      env("STRIPE_SECRET_KEY", ""),
			WebhookSecret:  env("STRIPE_WEBHOOK_SECRET", ""),
			Currency:       strings.ToLower(env("STRIPE_CURRENCY", "usd")),
			RequestTimeout: envDuration("STRIPE_REQUEST_TIMEOUT", 15*time.Second),
		},
		JobPlatform: JobPlatformConfig{
			WebhookSecret: env("JOB_WEBHOOK_SECRET", ""),
		},
		Referral: ReferralConfig{
			CommissionBps:     int64(envInt("REFERRAL_COMMISSION_BPS", 500)),
			MinRewardCents:    int64(envInt("REFERRAL_MIN_REWARD_CENTS", 1000)),
			MaxRewardCents:    int64(envInt("REFERRAL_MAX_REWARD_CENTS", 20000)),
			MaxPayoutAttempts: envInt("PAYOUT_MAX_ATTEMPTS", 3),
			RetryInterval:     envDuration("PAYOUT_RETRY_INTERVAL", 0),
			RetryBackoff:      envDuration("PAYOUT_RETRY_BACKOFF", time.Hour),
		},
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
