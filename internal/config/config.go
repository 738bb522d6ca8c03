package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is loaded once at startup and passed by value; running
// components never observe a mutated configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig
	IMAP     IMAPConfig
	Delivery DeliveryConfig
	Bounce   BounceConfig
	Report   ReportConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	StartTLS    bool
	SendTimeout time.Duration
}

type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
}

type DeliveryConfig struct {
	Interval  time.Duration
	BatchSize int
	// ImmediateBatchSize bounds the manual full-campaign send path.
	ImmediateBatchSize int
}

type BounceConfig struct {
	Interval time.Duration
}

type ReportConfig struct {
	// AdminEmail receives campaign completion reports and run summaries.
	// Empty disables reporting (logged, never fatal).
	AdminEmail string
}

func LoadAll() (*Config, error) {
	l := &envLoader{}

	cfg := &Config{
		Server: ServerConfig{
			Address: l.str("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: l.must("POSTGRES_URL"),
		},
		SMTP: SMTPConfig{
			Host:        l.must("SMTP_HOST"),
			Port:        l.integer("SMTP_PORT", 587),
			Username:    os.Getenv("SMTP_USERNAME"),
			Password:    os.Getenv("SMTP_PASSWORD"),
			From:        l.must("SMTP_FROM"),
			StartTLS:    l.boolean("SMTP_STARTTLS", true),
			SendTimeout: time.Duration(l.integer("SMTP_SEND_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		IMAP: IMAPConfig{
			Host:     l.str("IMAP_HOST", "imap.gmail.com"),
			Port:     l.integer("IMAP_PORT", 993),
			Username: os.Getenv("IMAP_USERNAME"),
			Password: os.Getenv("IMAP_PASSWORD"),
			Mailbox:  l.str("IMAP_MAILBOX", "INBOX"),
		},
		Delivery: DeliveryConfig{
			Interval:           time.Duration(l.integer("DELIVERY_INTERVAL_SECONDS", 120)) * time.Second,
			BatchSize:          l.integer("DELIVERY_BATCH_SIZE", 100),
			ImmediateBatchSize: l.integer("DELIVERY_IMMEDIATE_BATCH_SIZE", 500),
		},
		Bounce: BounceConfig{
			Interval: time.Duration(l.integer("BOUNCE_INTERVAL_SECONDS", 300)) * time.Second,
		},
		Report: ReportConfig{
			AdminEmail: os.Getenv("ADMIN_REPORT_EMAIL"),
		},
		Redis: loadRedisConfig(l),
	}
	if l.err != nil {
		return nil, l.err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig(l *envLoader) RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       l.integer("REDIS_DB", 0),
		TTL:      time.Duration(l.integer("REDIS_TTL_SECONDS", 7*86400)) * time.Second,
	}
}

func validate(cfg *Config) error {
	if cfg.Delivery.BatchSize <= 0 {
		return fmt.Errorf("DELIVERY_BATCH_SIZE must be > 0")
	}
	if cfg.Delivery.ImmediateBatchSize <= 0 {
		return fmt.Errorf("DELIVERY_IMMEDIATE_BATCH_SIZE must be > 0")
	}
	if cfg.Delivery.Interval <= 0 {
		return fmt.Errorf("DELIVERY_INTERVAL_SECONDS must be > 0")
	}
	if cfg.Bounce.Interval <= 0 {
		return fmt.Errorf("BOUNCE_INTERVAL_SECONDS must be > 0")
	}
	if cfg.SMTP.SendTimeout <= 0 {
		return fmt.Errorf("SMTP_SEND_TIMEOUT_SECONDS must be > 0")
	}
	return nil
}

// envLoader reads environment variables and remembers the first problem
// it hits, so LoadAll can report one clear error instead of panicking
// halfway through.
type envLoader struct {
	err error
}

func (l *envLoader) fail(format string, args ...any) {
	if l.err == nil {
		l.err = fmt.Errorf(format, args...)
	}
}

func (l *envLoader) must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		l.fail("missing required env var: %s", key)
	}
	return v
}

func (l *envLoader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *envLoader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		l.fail("invalid int for env %s: %s", key, v)
		return def
	}
	return i
}

func (l *envLoader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail("invalid bool for env %s: %s", key, v)
		return def
	}
	return b
}
