package export

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	ErrUnknownFormat = errors.ErrorCode("export_unknown_format")
	ErrWrite         = errors.ErrorCode("export_write_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrUnknownFormat: "Unknown export format",
		ErrWrite:         "Failed to write export",
	})
}
