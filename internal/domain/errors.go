package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("resource not found")
	ErrUnreachable        = errors.New("participant unreachable")
	ErrAlreadyInProgress  = errors.New("call already in progress")
	ErrInvalidState       = errors.New("invalid call state")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnauthorized       = errors.New("unauthorized access")
)

// ErrorCode maps an error onto the code reported to connected sessions.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return "internal"
}
