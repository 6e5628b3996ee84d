package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrDisplayNameTaken = errors.New("display name already in use")
	ErrInvalidPerk      = errors.New("perk not granted to this profile")
	ErrResetTokenUsed   = errors.New("password reset token invalid or expired")
)

// BannedError is returned by login and refresh when the account is
// banned. Callers surface Status to the user instead of a session;
// a banned user is never left in an authenticated state.
type BannedError struct {
	Status *BanStatus
}

func (e *BannedError) Error() string {
	return "account is banned"
}
