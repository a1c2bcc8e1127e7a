package policy

import (
	"context"
	"time"
)

const (
	DefaultCancellationWindow = 24 * time.Hour
)

// Provider supplies the shop's booking policies.
type Provider interface {
	ReminderOffsets(ctx context.Context) ([]time.Duration, error)
	CancellationWindow(ctx context.Context) (time.Duration, error)
}

type staticProvider struct {
	offsets []time.Duration
	window  time.Duration
}

func NewStaticProvider(offsets []time.Duration, cancellationWindow time.Duration) Provider {
	if cancellationWindow <= 0 {
		cancellationWindow = DefaultCancellationWindow
	}
	return &staticProvider{offsets: offsets, window: cancellationWindow}
}

func (p *staticProvider) ReminderOffsets(_ context.Context) ([]time.Duration, error) {
	return p.offsets, nil
}

func (p *staticProvider) CancellationWindow(_ context.Context) (time.Duration, error) {
	return p.window, nil
}

// MinutesToOffsets converts configured minute values into durations.
func MinutesToOffsets(minutes []int) []time.Duration {
	out := make([]time.Duration, 0, len(minutes))
	for _, m := range minutes {
		if m > 0 {
			out = append(out, time.Duration(m)*time.Minute)
		}
	}
	return out
}
