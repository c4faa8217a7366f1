package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrNicknameEmpty   = errors.New("nickname cannot be empty")
	ErrNicknameTooLong = errors.New("nickname too long (max 64)")
	ErrNicknameTaken   = errors.New("nickname already used in this family")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidImport   = errors.New("invalid import payload")
	ErrUnauthorized    = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInternalError   = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound)
}

// IsValidationError reports errors caused by bad client input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNicknameEmpty) ||
		errors.Is(err, ErrNicknameTooLong) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidImport) ||
		errors.Is(err, ErrInvalidRequest)
}
