package telemetry

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidAddr   = errors.ErrorCode("telemetry_invalid_addr")

	// Publishing Errors
	ErrInvalidSample = errors.ErrorCode("telemetry_invalid_sample")
	ErrPublish       = errors.ErrorCode("telemetry_publish_failed")

	// Connection Errors
	ErrConnect         = errors.ErrorCode("telemetry_connect_failed")
	ErrServiceShutdown = errors.ErrorCode("telemetry_service_shutdown_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrorCode("telemetry_operation_timeout")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidConfig:    "Invalid telemetry configuration",
		ErrInvalidAddr:      "Telemetry redis address is empty",
		ErrInvalidSample:    "Invalid telemetry sample",
		ErrPublish:          "Failed to publish telemetry sample",
		ErrConnect:          "Failed to connect to telemetry backend",
		ErrServiceShutdown:  "Failed to shut down telemetry",
		ErrOperationTimeout: "Telemetry operation timed out",
	})
}
