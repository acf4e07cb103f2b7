package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"codeberg.org/mutker/mbscope/internal/errors"
	"github.com/stretchr/testify/assert"
)

const errTest = errors.ErrorCode("test_code")

func TestErrorMessageFallsBackToCode(t *testing.T) {
	err := errors.New().New(errTest)
	assert.Equal(t, "test_code", err.Error())
	assert.Equal(t, errTest, err.Code())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := errors.New().Wrap(errors.ErrOperationFailed, cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "Operation failed: boom", err.Error())
}

func TestWithDataAndCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := errors.New().Wrap(errors.ErrOperationFailed, cause).WithData("ctx")

	assert.Equal(t, "Operation failed: ctx: boom", err.Error())
	assert.Equal(t, "ctx", err.GetData())
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := errors.New().New(errTest)
	outer := errors.New().Wrap(errors.ErrOperationFailed, fmt.Errorf("context: %w", inner))

	assert.True(t, errors.HasCode(outer, errTest))
	assert.True(t, errors.HasCode(outer, errors.ErrOperationFailed))
	assert.False(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(nil, errTest))
}

func TestHasCodeJoined(t *testing.T) {
	joined := errors.Join(stderrors.New("plain"), errors.New().New(errTest))
	assert.True(t, errors.HasCode(joined, errTest))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, errTest, errors.CodeOf(fmt.Errorf("x: %w", errors.New().New(errTest))))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(stderrors.New("plain")))
}

func TestRegisterMessages(t *testing.T) {
	code := errors.ErrorCode("registered_code")
	errors.RegisterMessages(map[errors.ErrorCode]string{code: "Registered"})
	assert.Equal(t, "Registered", errors.GetErrorMessage(code))
}

func TestStartupErrorKeepsInnerCode(t *testing.T) {
	inner := errors.New().WithData(errors.ErrAlreadyRunning, "/tmp/mbscope.pid")
	err := errors.New().Wrap(errors.ErrInitApp, inner)

	assert.Equal(t, errors.ErrInitApp, errors.CodeOf(err))
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
	assert.Equal(t, "Failed to initialize application: Another instance is already running: /tmp/mbscope.pid", err.Error())
}
