package metrics

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Registration Errors
	ErrRegister = errors.ErrorCode("metrics_register_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrRegister: "Failed to register metrics",
	})
}
