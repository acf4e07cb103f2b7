// Package pid guards against two instances sharing one device and database.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/mbscope/internal/errors"
)

const defaultName = "mbscope.pid"

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New returns a PID file at path, or in the temp dir when path is empty.
func New(path string) *File {
	if path == "" {
		path = filepath.Join(os.TempDir(), defaultName)
	}
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

// Acquire writes the current process ID. It fails with ErrAlreadyRunning if
// the file names a live process other than this one. Stale files are
// overwritten.
func (f *File) Acquire() error {
	errFactory := errors.New()

	if running, err := f.running(); err != nil {
		return err
	} else if running {
		return errFactory.WithData(errors.ErrAlreadyRunning, f.path)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Release removes the PID file. A missing file is not an error.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

func (f *File) running() (bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.New().Wrap(errors.ErrInternal, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Garbage in the file is treated as stale.
		return false, nil
	}
	if pid == os.Getpid() {
		return false, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}

	return process.Signal(syscall.Signal(0)) == nil, nil
}
