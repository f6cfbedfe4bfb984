package common

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrNotFound indicates a path that does not name any pseudo-file
	ErrNotFound = errors.New("no such pseudo-file")

	// ErrPermissionDenied indicates an open mode the pseudo-file does not allow
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidArgument indicates a malformed or oversized write
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAllocationFailure indicates a handle buffer could not be created
	ErrAllocationFailure = errors.New("handle allocation failed")

	// ErrIO indicates a collaborator (camera, vision, firmware) failed
	ErrIO = errors.New("input/output error")
)

// Error wraps a filesystem error with the operation and path it happened on.
type Error struct {
	Op   string // Operation that failed (e.g., "open", "read")
	Path string // Affected path
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error for the given operation, path and cause
func NewError(op string, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}

// Operation names used in errors and log lines
const (
	OpGetattr  = "getattr"
	OpReaddir  = "readdir"
	OpOpen     = "open"
	OpRead     = "read"
	OpWrite    = "write"
	OpFlush    = "flush"
	OpRelease  = "release"
	OpRename   = "rename"
	OpTruncate = "truncate"
	OpUnlink   = "unlink"
)

// ToErrno converts an error into the errno reported to the kernel.
func ToErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, ErrAllocationFailure):
		return syscall.ENOMEM
	default:
		return syscall.EIO
	}
}
