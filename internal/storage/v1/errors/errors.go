package errors

import (
	"fmt"
)

// Entities reported by NotFoundError.
const (
	EntityQueue        = "queue"
	EntityWaitingEntry = "waiting entry"
	EntityServingSlot  = "serving slot"
)

type (
	ExecutionPSQLError struct {
		Err error
	}
	ScanningPSQLError struct {
		Err error
	}
	ContextTimeoutExceededError struct {
		Err error
	}
	NotFoundError struct {
		Entity string
		ID     string
	}
	AlreadyExistsError struct {
		Err error
		ID  string
	}
	AlreadyServingError struct {
		ID string
	}
	TransientError struct {
		Err      error
		Attempts int
	}
)

func (e *ExecutionPSQLError) Error() string {
	return fmt.Sprintf("%s: could not execute", e.Err.Error())
}

func (e *ScanningPSQLError) Error() string {
	return fmt.Sprintf("%s: could not scan", e.Err.Error())
}

func (e *ContextTimeoutExceededError) Error() string {
	return fmt.Sprintf("%s: context timeout exceeded", e.Err.Error())
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Entity, e.ID)
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s: already exists", e.ID)
}

func (e *AlreadyServingError) Error() string {
	return fmt.Sprintf("%s: already being served", e.ID)
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transaction aborted after %d attempts", e.Err.Error(), e.Attempts)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *ExecutionPSQLError) Unwrap() error {
	return e.Err
}

func (e *ContextTimeoutExceededError) Unwrap() error {
	return e.Err
}
