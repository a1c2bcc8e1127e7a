package main

import (
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/config"
)

type serviceConfig struct {
	Service            string
	Port               string
	GRPCPort           string
	DatabaseURL        string
	LogLevel           string
	Location           *time.Location
	StepMinutes        int
	CancellationWindow time.Duration
	ReminderOffsets    []int
	KafkaBrokers       string
	RedisAddr          string
	RateLimitPerMinute int
	CORSOrigins        []string
	JWTSecret          string
	DBMaxConns         int
	DBQueryTimeout     time.Duration
	OutboxPollEvery    time.Duration
	ReminderPollEvery  time.Duration
}

func loadConfig() (serviceConfig, error) {
	if err := config.LoadDotEnv(); err != nil {
		return serviceConfig{}, err
	}
	cfg := serviceConfig{
		Service:      config.String("SERVICE_NAME", "booking-service"),
		LogLevel:     config.String("LOG_LEVEL", "info"),
		KafkaBrokers: config.String("KAFKA_BROKERS", ""),
		RedisAddr:    config.String("REDIS_ADDR", ""),
		CORSOrigins:  config.List("CORS_ALLOWED_ORIGINS"),
		JWTSecret:    config.String("AUTH_JWT_SECRET", ""),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if config.String("GRPC_PORT", "") != "" {
		if cfg.GRPCPort, err = config.Port("GRPC_PORT", ""); err != nil {
			return cfg, err
		}
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.Location, err = config.Location("SHOP_TIMEZONE", "America/Toronto"); err != nil {
		return cfg, err
	}
	if cfg.StepMinutes, err = config.Int("SLOT_STEP_MINUTES", 30); err != nil {
		return cfg, err
	}
	hours, err := config.Int("CANCELLATION_WINDOW_HOURS", 24)
	if err != nil {
		return cfg, err
	}
	cfg.CancellationWindow = time.Duration(hours) * time.Hour
	if cfg.ReminderOffsets, err = config.IntList("REMINDER_OFFSETS_MINUTES", "1440,120"); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return cfg, err
	}
	if cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.DBQueryTimeout, err = config.Duration("DB_QUERY_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ReminderPollEvery, err = config.Duration("REMINDER_POLL_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}
