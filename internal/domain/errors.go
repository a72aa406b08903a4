package domain

import "errors"

// Domain errors
var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExists   = errors.New("challenge already exists for this period")
	ErrInvalidSeed       = errors.New("seed is not valid")
	ErrPastDate          = errors.New("past or current dates cannot be scheduled")
	ErrInvalidKind       = errors.New("unknown challenge kind")
	ErrMissingFields     = errors.New("required fields are missing")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnauthorized      = errors.New("user could not be authenticated")
	ErrForbidden         = errors.New("operation requires admin privileges")
	ErrInternalError     = errors.New("internal server error")
	ErrCacheMiss         = errors.New("cache entry not found")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrChallengeNotFound)
}

// IsValidationError checks if an error was caused by bad caller input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSeed) ||
		errors.Is(err, ErrPastDate) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrInvalidRequest)
}
