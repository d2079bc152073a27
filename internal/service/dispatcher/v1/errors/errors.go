// Package errors provides custom error types.

package errors

import (
	"errors"
	"fmt"
)

// Stable codes carried by service errors.
const (
	CodeAlreadyWaiting      = "ALREADY_WAITING"
	CodeAlreadyServing      = "ALREADY_SERVING"
	CodeRateLimited         = "RATE_LIMITED"
	CodeBlocked             = "BLOCKED"
	CodeDomainNotAllowed    = "DOMAIN_NOT_ALLOWED"
	CodeEmailUnverified     = "EMAIL_UNVERIFIED"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeNotAssignedOperator = "NOT_ASSIGNED_OPERATOR"
	CodeNotAdmin            = "NOT_ADMIN"
	CodeQueueNotFound       = "QUEUE_NOT_FOUND"
	CodeTargetNotFound      = "TARGET_NOT_FOUND"
	CodeNoCurrentEntry      = "NO_CURRENT_ENTRY"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeStoreConflict       = "STORE_CONFLICT"
)

type (
	ServiceFoundNilArgument struct {
		Msg string
	}
	// ValidationError reports missing or malformed input.
	ValidationError struct {
		Code string
		Msg  string
	}
	// PermissionError reports a policy or ownership violation.
	PermissionError struct {
		Code string
		Msg  string
	}
	// ConflictError reports a state conflict; the whole operation may be retried from scratch.
	ConflictError struct {
		Code string
		Msg  string
	}
	NotFoundError struct {
		Code string
		ID   string
	}
	// TransientStoreError reports that storage retries were exhausted.
	TransientStoreError struct {
		Err error
	}
)

func (e *ServiceFoundNilArgument) Error() string {
	return e.Msg
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.ID)
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %s", CodeStoreConflict, e.Err.Error())
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// CodeOf returns the stable code of a service error, or an empty string.
func CodeOf(err error) string {
	var validationError *ValidationError
	var permissionError *PermissionError
	var conflictError *ConflictError
	var notFoundError *NotFoundError
	var transientStoreError *TransientStoreError
	switch {
	case errors.As(err, &validationError):
		return validationError.Code
	case errors.As(err, &permissionError):
		return permissionError.Code
	case errors.As(err, &conflictError):
		return conflictError.Code
	case errors.As(err, &notFoundError):
		return notFoundError.Code
	case errors.As(err, &transientStoreError):
		return CodeStoreConflict
	}
	return ""
}
