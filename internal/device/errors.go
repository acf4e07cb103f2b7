package device

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	ErrChannelRead    = errors.ErrorCode("device_channel_read")
	ErrTransport      = errors.ErrorCode("device_transport")
	ErrInvalidRequest = errors.ErrorCode("device_invalid_request")
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrClosed         = errors.ErrorCode("device_closed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrChannelRead:    "Channel read failed",
		ErrTransport:      "Device connection failed",
		ErrInvalidRequest: "Invalid read request",
		ErrClosed:         "Device client is closed",
	})
}

// IsTransport reports whether err means the device link itself is unusable.
func IsTransport(err error) bool {
	return errors.HasCode(err, ErrTransport) || errors.HasCode(err, ErrClosed)
}
