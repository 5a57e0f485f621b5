// Package errors provides the typed error system shared by all hubfs
// storage components, with error codes and path context.
package errors

import (
	"fmt"
)

// ErrorCode identifies a class of storage error.
type ErrorCode string

const (
	// Filesystem-shaped errors, surfaced across the provider boundary.
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodePermission    ErrorCode = "PERMISSION_DENIED"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeNotADirectory ErrorCode = "NOT_A_DIRECTORY"
	ErrCodeIsADirectory  ErrorCode = "IS_A_DIRECTORY"
	ErrCodeNotASymlink   ErrorCode = "NOT_A_SYMLINK"

	// Operational errors.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeRateLimit   ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal to the cache layer, never surfaced past it.
	ErrCodeCacheMiss ErrorCode = "CACHE_MISS"
)

// StorageError is the error type returned by hubfs components. It carries
// an error code for programmatic matching and the virtual path or key the
// operation was addressing.
type StorageError struct {
	Code    ErrorCode
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessage(e.Code)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %q", e.Code, msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is matches two storage errors by code, for errors.Is compatibility.
func (e *StorageError) Is(target error) bool {
	if t, ok := target.(*StorageError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithCause attaches the underlying cause and returns the error.
func (e *StorageError) WithCause(cause error) *StorageError {
	e.Cause = cause
	return e
}

func defaultMessage(code ErrorCode) string {
	switch code {
	case ErrCodeNotFound:
		return "no such file or directory"
	case ErrCodePermission:
		return "permission denied"
	case ErrCodeAlreadyExists:
		return "file exists"
	case ErrCodeNotADirectory:
		return "not a directory"
	case ErrCodeIsADirectory:
		return "is a directory"
	case ErrCodeNotASymlink:
		return "not a symbolic link"
	case ErrCodeUnsupported:
		return "operation not supported"
	case ErrCodeRateLimit:
		return "API rate limit exceeded"
	case ErrCodeCacheMiss:
		return "no cache entry"
	default:
		return "storage error"
	}
}

// NewNotFound returns a not-found error for the given path.
func NewNotFound(path string) *StorageError {
	return &StorageError{Code: ErrCodeNotFound, Path: path}
}

// NewPermission returns a permission error for the given path.
func NewPermission(path string) *StorageError {
	return &StorageError{Code: ErrCodePermission, Path: path}
}

// NewAlreadyExists returns an already-exists error for the given path.
func NewAlreadyExists(path string) *StorageError {
	return &StorageError{Code: ErrCodeAlreadyExists, Path: path}
}

// NewNotADirectory returns a not-a-directory error for the given path.
func NewNotADirectory(path string) *StorageError {
	return &StorageError{Code: ErrCodeNotADirectory, Path: path}
}

// NewIsADirectory returns an is-a-directory error for the given path.
func NewIsADirectory(path string) *StorageError {
	return &StorageError{Code: ErrCodeIsADirectory, Path: path}
}

// NewNotASymlink returns a not-a-symlink error for the given path.
func NewNotASymlink(path string) *StorageError {
	return &StorageError{Code: ErrCodeNotASymlink, Path: path}
}

// NewUnsupported returns an unsupported-operation error naming the
// operation that was attempted.
func NewUnsupported(op string) *StorageError {
	return &StorageError{Code: ErrCodeUnsupported, Message: fmt.Sprintf("operation %q not supported", op)}
}

// NewRateLimit returns a rate-limit error with the given message.
func NewRateLimit(message string) *StorageError {
	return &StorageError{Code: ErrCodeRateLimit, Message: message}
}

// NewCacheMiss returns a cache-miss error for the given key. Only the
// cache layer returns this; callers translate it before propagating.
func NewCacheMiss(key string) *StorageError {
	return &StorageError{Code: ErrCodeCacheMiss, Path: key}
}

func is(err error, code ErrorCode) bool {
	for err != nil {
		if se, ok := err.(*StorageError); ok && se.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsNotFound reports whether err is a not-found storage error.
func IsNotFound(err error) bool { return is(err, ErrCodeNotFound) }

// IsPermission reports whether err is a permission storage error.
func IsPermission(err error) bool { return is(err, ErrCodePermission) }

// IsAlreadyExists reports whether err is an already-exists storage error.
func IsAlreadyExists(err error) bool { return is(err, ErrCodeAlreadyExists) }

// IsNotADirectory reports whether err is a not-a-directory storage error.
func IsNotADirectory(err error) bool { return is(err, ErrCodeNotADirectory) }

// IsIsADirectory reports whether err is an is-a-directory storage error.
func IsIsADirectory(err error) bool { return is(err, ErrCodeIsADirectory) }

// IsNotASymlink reports whether err is a not-a-symlink storage error.
func IsNotASymlink(err error) bool { return is(err, ErrCodeNotASymlink) }

// IsUnsupported reports whether err is an unsupported-operation error.
func IsUnsupported(err error) bool { return is(err, ErrCodeUnsupported) }

// IsRateLimit reports whether err is a rate-limit storage error.
func IsRateLimit(err error) bool { return is(err, ErrCodeRateLimit) }

// IsCacheMiss reports whether err is a cache-miss storage error.
func IsCacheMiss(err error) bool { return is(err, ErrCodeCacheMiss) }

// statusCodes maps HTTP response statuses to storage error codes. The API
// sometimes answers 422 instead of 404 when a commit hash does not exist.
var statusCodes = map[int]ErrorCode{
	403: ErrCodePermission,
	404: ErrCodeNotFound,
	422: ErrCodeNotFound,
}

// FromStatusCode converts a non-2xx/3xx HTTP status to a storage error.
// Statuses between 200 and 399 return nil. Unmapped statuses produce a
// generic error carrying the status in its message.
func FromStatusCode(status int, path string) error {
	if status >= 200 && status < 400 {
		return nil
	}
	if code, ok := statusCodes[status]; ok {
		return &StorageError{Code: code, Path: path}
	}
	return fmt.Errorf("unexpected HTTP status %d for %q", status, path)
}
