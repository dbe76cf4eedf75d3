package service

import "errors"

var (
	ErrNotFound          = errors.New("tender not found")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrBadCredentials    = errors.New("incorrect username or password")
	ErrTokenInvalid      = errors.New("invalid or expired token")
	ErrForbidden         = errors.New("insufficient role")
)

// ValidationError carries a ledger-side domain rejection (revert reason)
// in a form safe to show the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return "rejected by the ledger"
	}
	return e.Reason
}
