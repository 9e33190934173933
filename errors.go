package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("conveyor: no store configured")
	ErrStoreClosed      = errors.New("conveyor: store closed")
	ErrStoreUnavailable = errors.New("conveyor: store unavailable")

	// Not found errors.
	ErrJobNotFound  = errors.New("conveyor: job not found")
	ErrCronNotFound = errors.New("conveyor: cron entry not found")
	ErrDLQNotFound  = errors.New("conveyor: dlq entry not found")

	// Registration errors. Both are fatal at startup and never retried.
	ErrDuplicateDefinition = errors.New("conveyor: duplicate job definition")
	ErrInvalidDefinition   = errors.New("conveyor: invalid job definition")

	// Execution errors.
	ErrUnknownJob       = errors.New("conveyor: no handler registered for job")
	ErrExecutionTimeout = errors.New("conveyor: job execution timed out")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")
	ErrDuplicateCron    = errors.New("conveyor: duplicate cron entry")
)
