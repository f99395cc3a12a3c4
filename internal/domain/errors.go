package domain

import "errors"

// Domain errors
var (
	ErrNoSpotAvailable   = errors.New("no spot available today")
	ErrNoGuess           = errors.New("no guess placed")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrAlreadyPlayed     = errors.New("already played today")
	ErrResultNotFound    = errors.New("no result recorded for today")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInternalError     = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrResultNotFound)
}

// IsPreconditionError reports errors caused by calling an operation before
// its inputs exist, such as submitting without a pin on the map.
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrNoGuess) || errors.Is(err, ErrInvalidCoordinate)
}
