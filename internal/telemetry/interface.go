package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
)

// Publisher feeds live samples to external consumers.
type Publisher interface {
	Publish(ctx context.Context, sample *Sample) error
	Close() error
}

// Sample is one acquired value as seen by feed consumers.
type Sample struct {
	RunID     string
	Channel   string
	Identity  channel.Identity
	Timestamp time.Time
	Raw       float64
	Value     float64
	Unit      string
}
