package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Exit codes for CLI applications.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitUser indicates a user-related error (invalid input, configuration, etc.).
	ExitUser = 1

	// ExitSystem indicates a system-related error (I/O, permissions, corruption, etc.).
	ExitSystem = 2
)

// Kind classifies an engine failure.
type Kind int

// Error kinds. KindIdenticalContent is not a failure; it exists so callers
// that prefer an error value for the no-op outcome have one.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidType
	KindPermissionDenied
	KindDiskFull
	KindDirectoryCreationFailed
	KindIdenticalContent
	KindConfig
	KindCancelled
	KindVerificationFailed
	KindCorruptionInjectionFailed
	KindRenameFailed
	KindIO
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:                   "unknown error",
	KindNotFound:                  "not found",
	KindInvalidType:               "invalid type",
	KindPermissionDenied:          "permission denied",
	KindDiskFull:                  "disk full",
	KindDirectoryCreationFailed:   "directory creation failed",
	KindIdenticalContent:          "identical content",
	KindConfig:                    "configuration error",
	KindCancelled:                 "cancelled",
	KindVerificationFailed:        "verification failed",
	KindCorruptionInjectionFailed: "corruption injection failed",
	KindRenameFailed:              "rename failed",
	KindIO:                        "i/o error",
	KindInternal:                  "internal error",
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors for common failure conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidConfig indicates configuration validation failed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoBaseSnapshot indicates an incremental archive has no full archive to extend.
	ErrNoBaseSnapshot = errors.New("no full archive to extend")
)

// Error is a classified engine error.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op is the operation that failed, e.g. "archive.create".
	Op string

	// Path is the filesystem path involved, if any.
	Path string

	// Err is the underlying cause.
	Err error
}

// E creates a classified error.
func E(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Error formats the error as "op path: kind: cause".
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Path)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify converts err into a classified *Error for op and path.
// Errors that are already classified are returned unchanged so the innermost
// classification wins. A nil err returns nil.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return E(kindFor(err), op, path, err)
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors report KindUnknown and nil reports KindUnknown.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromPanic converts a recovered panic value into a KindInternal error.
func FromPanic(op, path string, v any) *Error {
	if err, ok := v.(error); ok {
		return E(KindInternal, op, path, fmt.Errorf("panic: %w", err))
	}
	return E(KindInternal, op, path, fmt.Errorf("panic: %v", v))
}

func kindFor(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, syscall.EXDEV):
		return KindRenameFailed
	case IsDiskFull(err):
		return KindDiskFull
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	default:
		return KindIO
	}
}

// diskFullPatterns are matched case-insensitively against error text because
// not every platform or filesystem reports a typed out-of-space errno.
var diskFullPatterns = []string{
	"no space left",
	"disk full",
	"device full",
	"not enough space",
	"insufficient space",
	"insufficient disk space",
	"out of space",
	"quota exceeded",
	"disk quota",
	"file too large",
	"exceeds file size limit",
}

// IsDiskFull reports whether err indicates the destination ran out of space.
func IsDiskFull(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) || errors.Is(err, syscall.EFBIG) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range diskFullPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ExitCode maps an error to a process exit code. Nil maps to ExitSuccess.
// An *ExitError keeps its own code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch KindOf(err) {
	case KindIdenticalContent:
		return ExitSuccess
	case KindNotFound, KindInvalidType, KindConfig, KindCancelled:
		return ExitUser
	default:
		return ExitSystem
	}
}

// ExitError wraps an error with an exit code and optional suggestion for CLI applications.
// It implements the error interface and supports unwrapping via errors.Unwrap.
type ExitError struct {
	// Err is the underlying error that caused the exit.
	Err error

	// Code is the exit code to return to the operating system.
	Code int

	// Suggestion is an optional actionable suggestion for the user.
	Suggestion string
}

// NewExitError creates an ExitError with the given underlying error and exit code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{
		Err:  err,
		Code: code,
	}
}

// NewUserError creates an ExitError with ExitUser code and a suggestion.
func NewUserError(err error, suggestion string) *ExitError {
	return &ExitError{
		Err:        err,
		Code:       ExitUser,
		Suggestion: suggestion,
	}
}

// NewConfigError creates an ExitError with ExitUser code and a standard suggestion.
func NewConfigError(err error) *ExitError {
	return &ExitError{
		Err:        E(KindConfig, "config", "", err),
		Code:       ExitUser,
		Suggestion: "Run: snap config init",
	}
}

// Error returns the error message from the underlying error.
// If the underlying error is nil, it returns a generic message with the exit code.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As
// to examine the error chain.
func (e *ExitError) Unwrap() error {
	return e.Err
}
