package store

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrSchemaTooNew           = errors.ErrorCode("store_schema_too_new")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("store_storage_access_failed")
	ErrWriteFailed   = errors.ErrorCode("store_write_failed")
	ErrQueryFailed   = errors.ErrorCode("store_query_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed

	ErrConfigNotFound = errors.ErrResourceNotFound
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidDBPath:          "Invalid database path",
		ErrSchemaInitFailed:       "Failed to initialize database schema",
		ErrSchemaValidationFailed: "Failed to validate database schema",
		ErrSchemaMigrationFailed:  "Failed to migrate database schema",
		ErrSchemaTooNew:           "Database schema is newer than supported",
		ErrTransactionFailed:      "Database transaction failed",
		ErrStorageAccess:          "Failed to access storage",
		ErrWriteFailed:            "Failed to write to database",
		ErrQueryFailed:            "Database query failed",
	})
}
