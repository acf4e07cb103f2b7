package channel

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	// Registry Errors
	ErrDuplicateName = errors.ErrorCode("channel_duplicate_name")
	ErrNotFound      = errors.ErrorCode("channel_not_found")
	ErrInvalidConfig = errors.ErrorCode("channel_invalid_config")

	// Storage Errors
	ErrStoreWrite = errors.ErrorCode("channel_store_write_failed")
	ErrStoreLoad  = errors.ErrorCode("channel_store_load_failed")

	// Transfer Errors
	ErrImportFormat = errors.ErrorCode("channel_import_format")
	ErrImportRead   = errors.ErrorCode("channel_import_read_failed")
	ErrExport       = errors.ErrorCode("channel_export_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrDuplicateName: "Channel name already exists",
		ErrNotFound:      "Channel not found",
		ErrInvalidConfig: "Invalid channel configuration",
		ErrStoreWrite:    "Failed to write channel configuration",
		ErrStoreLoad:     "Failed to load channel configurations",
		ErrImportFormat:  "Malformed channel import payload",
		ErrImportRead:    "Failed to read channel import file",
		ErrExport:        "Failed to export channel configurations",
	})
}
