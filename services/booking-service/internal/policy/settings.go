package policy

import (
	"context"
	"log/slog"
	"time"
)

// Business setting keys shared with the admin policy endpoint.
const (
	CancellationPolicyKey = "cancellation_policy"
	ReminderPolicyKey     = "reminder_policy"
)

// CancellationPolicy is stored under CancellationPolicyKey. HoursBefore 0 lets customers cancel
// right up to the start.
type CancellationPolicy struct {
	HoursBefore *int   `json:"hours_before"`
	Message     string `json:"message,omitempty"`
}

// ReminderPolicy is stored under ReminderPolicyKey.
type ReminderPolicy struct {
	OffsetsMinutes []int `json:"offsets_minutes"`
}

type SettingsReader interface {
	BusinessSetting(ctx context.Context, key string, dst any) (bool, error)
}

type settingsProvider struct {
	settings SettingsReader
	fallback Provider
	logger   *slog.Logger
}

// NewSettingsProvider reads policies from business settings, falling back when a key is unset
// or cannot be read.
func NewSettingsProvider(settings SettingsReader, fallback Provider, logger *slog.Logger) Provider {
	return &settingsProvider{settings: settings, fallback: fallback, logger: logger}
}

func (p *settingsProvider) CancellationWindow(ctx context.Context) (time.Duration, error) {
	var v CancellationPolicy
	found, err := p.settings.BusinessSetting(ctx, CancellationPolicyKey, &v)
	if err != nil {
		p.logger.Warn("cancellation policy lookup failed; using default", "err", err)
	}
	if err != nil || !found || v.HoursBefore == nil || *v.HoursBefore < 0 {
		return p.fallback.CancellationWindow(ctx)
	}
	return time.Duration(*v.HoursBefore) * time.Hour, nil
}

func (p *settingsProvider) ReminderOffsets(ctx context.Context) ([]time.Duration, error) {
	var v ReminderPolicy
	found, err := p.settings.BusinessSetting(ctx, ReminderPolicyKey, &v)
	if err != nil {
		p.logger.Warn("reminder policy lookup failed; using defaults", "err", err)
	}
	offsets := MinutesToOffsets(v.OffsetsMinutes)
	if err != nil || !found || len(offsets) == 0 {
		return p.fallback.ReminderOffsets(ctx)
	}
	return offsets, nil
}
