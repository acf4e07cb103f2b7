package device

import (
	"context"

	"codeberg.org/mutker/mbscope/internal/channel"
)

// Client performs single register reads against the device.
//
// Read returns count decoded values for the identity. Errors carry
// ErrChannelRead when only this read failed (device exception, timeout,
// malformed reply) and ErrTransport when the link is unusable.
type Client interface {
	Read(ctx context.Context, id channel.Identity, count int) ([]float64, error)
	Close() error
}
