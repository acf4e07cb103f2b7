package history

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	ErrInvalidQuery         = errors.ErrorCode("history_invalid_query")
	ErrConfirmationRequired = errors.ErrorCode("history_confirmation_required")
	ErrQueryFailed          = errors.ErrorCode("history_query_failed")
	ErrDeleteFailed         = errors.ErrorCode("history_delete_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidQuery:         "Invalid history query",
		ErrConfirmationRequired: "Deletion cannot be undone and must be confirmed",
		ErrQueryFailed:          "History query failed",
		ErrDeleteFailed:         "History delete failed",
	})
}
