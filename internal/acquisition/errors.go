package acquisition

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	// State Errors
	ErrNoActiveChannels = errors.ErrorCode("acquisition_no_active_channels")
	ErrAlreadyRunning   = errors.ErrorCode("acquisition_already_running")
	ErrNotRunning       = errors.ErrorCode("acquisition_not_running")
	ErrInvalidInterval  = errors.ErrInvalidInterval

	// Runtime Errors
	ErrTransport        = errors.ErrorCode("acquisition_transport")
	ErrPersistenceWrite = errors.ErrorCode("acquisition_persistence_write")
	ErrChannelNotActive = errors.ErrorCode("acquisition_channel_not_active")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrNoActiveChannels: "No active channels to poll",
		ErrAlreadyRunning:   "Acquisition is already running",
		ErrNotRunning:       "Acquisition is not running",
		ErrTransport:        "Acquisition stopped: device link failed",
		ErrPersistenceWrite: "Failed to persist sample",
		ErrChannelNotActive: "Channel is not active",
	})
}
