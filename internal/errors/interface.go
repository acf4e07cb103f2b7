// Package errors carries coded application errors. Every package declares
// its codes in its own errors.go and registers readable messages for them.
package errors

// ErrorCode identifies a failure kind, e.g. "channel_duplicate_name".
type ErrorCode string

// Error is an error with a code, an optional message override, optional
// structured data and an optional cause.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds Errors.
type Factory interface {
	New(code ErrorCode) Error
	// Wrap records err as the cause.
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
