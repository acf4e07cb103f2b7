package api

import (
	"net/http"

	"codeberg.org/mutker/mbscope/internal/acquisition"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/export"
	"codeberg.org/mutker/mbscope/internal/history"
	"github.com/gin-gonic/gin"
)

const (
	ErrBadRequest = errors.ErrorCode("api_bad_request")
	ErrServe      = errors.ErrorCode("api_serve_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrBadRequest: "Malformed request",
		ErrServe:      "HTTP server failed",
	})
}

// statusCodes maps error codes to HTTP statuses. Codes not listed are 500.
var statusCodes = []struct {
	code   errors.ErrorCode
	status int
}{
	{ErrBadRequest, http.StatusBadRequest},
	{channel.ErrDuplicateName, http.StatusConflict},
	{channel.ErrNotFound, http.StatusNotFound},
	{channel.ErrInvalidConfig, http.StatusBadRequest},
	{channel.ErrImportFormat, http.StatusBadRequest},
	{acquisition.ErrChannelNotActive, http.StatusNotFound},
	{acquisition.ErrNoActiveChannels, http.StatusConflict},
	{acquisition.ErrAlreadyRunning, http.StatusConflict},
	{acquisition.ErrNotRunning, http.StatusConflict},
	{acquisition.ErrInvalidInterval, http.StatusBadRequest},
	{acquisition.ErrTransport, http.StatusBadGateway},
	{history.ErrInvalidQuery, http.StatusBadRequest},
	{history.ErrConfirmationRequired, http.StatusPreconditionRequired},
	{export.ErrUnknownFormat, http.StatusBadRequest},
}

func statusOf(err error) int {
	for _, sc := range statusCodes {
		if errors.HasCode(err, sc.code) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"code":  errors.CodeOf(err),
	})
}

func badRequest(c *gin.Context, err error) {
	fail(c, errors.New().Wrap(ErrBadRequest, err))
}
