// Package errors defines the error taxonomy returned by every AgentFS core
// operation. Adapters translate these codes into platform error values
// (errno, NTSTATUS); see Errno for the POSIX mapping.
//
// This is a leaf package so graph, access, events and the engine can all
// share it without import cycles.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies the kind of failure.
type ErrorCode int

const (
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates the entry already exists.
	ErrAlreadyExists

	// ErrAccessDenied indicates permission bit violations (POSIX EACCES).
	ErrAccessDenied

	// ErrOperationNotPermitted indicates an operation that is disallowed
	// regardless of permission bits (POSIX EPERM): non-owner chmod/chown,
	// sticky directory removals, explicit timestamps by non-owners.
	ErrOperationNotPermitted

	// ErrNotADirectory indicates an operation that requires a directory.
	ErrNotADirectory

	// ErrIsADirectory indicates an operation not valid on a directory.
	ErrIsADirectory

	// ErrDirectoryNotEmpty indicates the directory still has entries.
	ErrDirectoryNotEmpty

	// ErrNoSpace indicates the storage backend is out of space.
	ErrNoSpace

	// ErrInvalidArgument indicates a malformed name, path or parameter.
	ErrInvalidArgument

	// ErrResourceBusy indicates the target is in use (bound branch, open handles).
	ErrResourceBusy

	// ErrOperationNotSupported indicates the operation is not implemented.
	ErrOperationNotSupported

	// ErrInvalidHandle indicates a closed or unknown handle.
	ErrInvalidHandle

	// ErrEventsDisabled indicates event tracking is turned off.
	ErrEventsDisabled

	// ErrIO indicates a storage backend failure.
	ErrIO

	// ErrBufferTooSmall indicates the caller's buffer cannot hold the
	// result (POSIX ERANGE). FsError.Required carries the needed size.
	ErrBufferTooSmall
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrAccessDenied:
		return "AccessDenied"
	case ErrOperationNotPermitted:
		return "OperationNotPermitted"
	case ErrNotADirectory:
		return "NotADirectory"
	case ErrIsADirectory:
		return "IsADirectory"
	case ErrDirectoryNotEmpty:
		return "DirectoryNotEmpty"
	case ErrNoSpace:
		return "NoSpace"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrResourceBusy:
		return "ResourceBusy"
	case ErrOperationNotSupported:
		return "OperationNotSupported"
	case ErrInvalidHandle:
		return "InvalidHandle"
	case ErrEventsDisabled:
		return "EventsDisabled"
	case ErrIO:
		return "IoError"
	case ErrBufferTooSmall:
		return "BufferTooSmall"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// Detail refines a code where POSIX has a more specific errno than the
// taxonomy distinguishes. It never changes which code an error carries.
type Detail int

const (
	DetailNone Detail = iota

	// DetailLoop marks an InvalidArgument from symlink resolution (ELOOP).
	DetailLoop

	// DetailNameTooLong marks an over-long name or path (ENAMETOOLONG).
	DetailNameTooLong

	// DetailNoAttr marks a NotFound for a missing extended attribute (ENODATA).
	DetailNoAttr

	// DetailFileTooLarge marks a size past the maximum file size (EFBIG).
	DetailFileTooLarge
)

// FsError is the error value returned by core operations.
type FsError struct {
	Code    ErrorCode
	Message string
	Path    string

	// Detail selects a more specific errno for adapters.
	Detail Detail

	// Required is the buffer size needed when Code is ErrBufferTooSmall.
	Required int

	// Err is the underlying cause, if any (backend errors).
	Err error
}

// Error implements the error interface.
func (e *FsError) Error() string {
	msg := e.Message
	if e.Code == ErrBufferTooSmall {
		msg = fmt.Sprintf("%s, required %d", e.Message, e.Required)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path: %s)", e.Code, msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *FsError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an FsError with the same code, so
// errors.Is(err, &FsError{Code: ErrNotFound}) matches any NotFound error.
func (e *FsError) Is(target error) bool {
	t, ok := target.(*FsError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinel values usable with errors.Is.
var (
	NotFound              = &FsError{Code: ErrNotFound}
	AlreadyExists         = &FsError{Code: ErrAlreadyExists}
	AccessDenied          = &FsError{Code: ErrAccessDenied}
	OperationNotPermitted = &FsError{Code: ErrOperationNotPermitted}
	NotADirectory         = &FsError{Code: ErrNotADirectory}
	IsADirectory          = &FsError{Code: ErrIsADirectory}
	DirectoryNotEmpty     = &FsError{Code: ErrDirectoryNotEmpty}
	NoSpace               = &FsError{Code: ErrNoSpace}
	InvalidArgument       = &FsError{Code: ErrInvalidArgument}
	ResourceBusy          = &FsError{Code: ErrResourceBusy}
	OperationNotSupported = &FsError{Code: ErrOperationNotSupported}
	InvalidHandle         = &FsError{Code: ErrInvalidHandle}
	EventsDisabled        = &FsError{Code: ErrEventsDisabled}
	IoError               = &FsError{Code: ErrIO}
	BufferTooSmall        = &FsError{Code: ErrBufferTooSmall}
)

// ============================================================================
// Factory Functions
// ============================================================================

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(path, resourceType string) *FsError {
	return &FsError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resourceType),
		Path:    path,
	}
}

// NewAlreadyExistsError creates an AlreadyExists error.
func NewAlreadyExistsError(path string) *FsError {
	return &FsError{
		Code:    ErrAlreadyExists,
		Message: "already exists",
		Path:    path,
	}
}

// NewAccessDeniedError creates an AccessDenied error.
func NewAccessDeniedError(path, reason string) *FsError {
	return &FsError{
		Code:    ErrAccessDenied,
		Message: reason,
		Path:    path,
	}
}

// NewNotPermittedError creates an OperationNotPermitted error.
func NewNotPermittedError(path, reason string) *FsError {
	return &FsError{
		Code:    ErrOperationNotPermitted,
		Message: reason,
		Path:    path,
	}
}

// NewNotDirectoryError creates a NotADirectory error.
func NewNotDirectoryError(path string) *FsError {
	return &FsError{
		Code:    ErrNotADirectory,
		Message: "not a directory",
		Path:    path,
	}
}

// NewIsDirectoryError creates an IsADirectory error.
func NewIsDirectoryError(path string) *FsError {
	return &FsError{
		Code:    ErrIsADirectory,
		Message: "is a directory",
		Path:    path,
	}
}

// NewNotEmptyError creates a DirectoryNotEmpty error.
func NewNotEmptyError(path string) *FsError {
	return &FsError{
		Code:    ErrDirectoryNotEmpty,
		Message: "directory not empty",
		Path:    path,
	}
}

// NewNoSpaceError creates a NoSpace error.
func NewNoSpaceError(path string, cause error) *FsError {
	return &FsError{
		Code:    ErrNoSpace,
		Message: "no space left on backend",
		Path:    path,
		Err:     cause,
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(path, message string) *FsError {
	return &FsError{
		Code:    ErrInvalidArgument,
		Message: message,
		Path:    path,
	}
}

// NewLoopError creates an InvalidArgument error for a symlink that cannot
// be followed: a loop, or a final symlink under NoFollow.
func NewLoopError(path, message string) *FsError {
	return &FsError{
		Code:    ErrInvalidArgument,
		Message: message,
		Path:    path,
		Detail:  DetailLoop,
	}
}

// NewNameTooLongError creates an InvalidArgument error for a name or path
// over its length limit.
func NewNameTooLongError(path, message string) *FsError {
	return &FsError{
		Code:    ErrInvalidArgument,
		Message: message,
		Path:    path,
		Detail:  DetailNameTooLong,
	}
}

// NewFileTooLargeError creates an InvalidArgument error for an offset or
// size past the maximum file size.
func NewFileTooLargeError(path string) *FsError {
	return &FsError{
		Code:    ErrInvalidArgument,
		Message: "file too large",
		Path:    path,
		Detail:  DetailFileTooLarge,
	}
}

// NewNoAttrError creates a NotFound error for a missing extended attribute.
func NewNoAttrError(path, name string) *FsError {
	return &FsError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("attribute %s not found", name),
		Path:    path,
		Detail:  DetailNoAttr,
	}
}

// NewBusyError creates a ResourceBusy error.
func NewBusyError(resource, reason string) *FsError {
	return &FsError{
		Code:    ErrResourceBusy,
		Message: reason,
		Path:    resource,
	}
}

// NewNotSupportedError creates an OperationNotSupported error.
func NewNotSupportedError(operation string) *FsError {
	return &FsError{
		Code:    ErrOperationNotSupported,
		Message: fmt.Sprintf("%s not supported", operation),
	}
}

// NewInvalidHandleError creates an InvalidHandle error.
func NewInvalidHandleError(reason string) *FsError {
	return &FsError{
		Code:    ErrInvalidHandle,
		Message: reason,
	}
}

// NewEventsDisabledError creates an EventsDisabled error.
func NewEventsDisabledError() *FsError {
	return &FsError{
		Code:    ErrEventsDisabled,
		Message: "event tracking is disabled",
	}
}

// NewIOError creates an IoError wrapping a backend failure.
func NewIOError(path, detail string, cause error) *FsError {
	return &FsError{
		Code:    ErrIO,
		Message: detail,
		Path:    path,
		Err:     cause,
	}
}

// NewBufferTooSmallError creates a BufferTooSmall error carrying the
// size the caller must retry with.
func NewBufferTooSmallError(path string, required int) *FsError {
	return &FsError{
		Code:     ErrBufferTooSmall,
		Message:  "buffer too small",
		Path:     path,
		Required: required,
	}
}

// ============================================================================
// Inspection helpers
// ============================================================================

// CodeOf returns the ErrorCode carried by err, or 0 if err is not an FsError.
func CodeOf(err error) ErrorCode {
	var fe *FsError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return 0
}

// DetailOf returns the Detail carried by err.
func DetailOf(err error) Detail {
	var fe *FsError
	if stderrors.As(err, &fe) {
		return fe.Detail
	}
	return DetailNone
}

// RequiredSize returns the size carried by a BufferTooSmall error.
func RequiredSize(err error) (int, bool) {
	var fe *FsError
	if stderrors.As(err, &fe) && fe.Code == ErrBufferTooSmall {
		return fe.Required, true
	}
	return 0, false
}

// IsNotFoundError reports whether err is a NotFound error.
func IsNotFoundError(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsAccessDeniedError reports whether err is an AccessDenied error.
func IsAccessDeniedError(err error) bool {
	return CodeOf(err) == ErrAccessDenied
}

// IsNotPermittedError reports whether err is an OperationNotPermitted error.
func IsNotPermittedError(err error) bool {
	return CodeOf(err) == ErrOperationNotPermitted
}

// ParseCode maps a code name (as produced by String, case-sensitive) back to
// its ErrorCode. Used by configuration to name injected faults.
func ParseCode(name string) (ErrorCode, bool) {
	for c := ErrNotFound; c <= ErrBufferTooSmall; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// New creates an FsError with the given code and message.
func New(code ErrorCode, message string) *FsError {
	return &FsError{Code: code, Message: message}
}
