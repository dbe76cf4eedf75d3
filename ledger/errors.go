package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures on the ledger path. Callers branch on the
// code, not on error strings from the node.
type ErrorCode string

const (
	// CodeConnectivity covers transport failures before the network
	// accepted anything. Safe to retry.
	CodeConnectivity ErrorCode = "CONNECTIVITY"
	// CodeSigning means the configured key is unusable. Not retryable.
	CodeSigning ErrorCode = "SIGNING"
	// CodeLedgerCall is a revert during a read call or during gas
	// estimation, before any transaction was broadcast.
	CodeLedgerCall ErrorCode = "LEDGER_CALL"
	// CodeReverted means the transaction was mined and its execution
	// failed. The nonce is consumed.
	CodeReverted ErrorCode = "REVERTED"
	// CodeConfirmationTimeout means the outcome is unknown: the
	// transaction was broadcast but no receipt appeared in time. It may
	// still confirm later.
	CodeConfirmationTimeout ErrorCode = "CONFIRMATION_TIMEOUT"
)

// Error carries a code, the decoded revert reason when the node provided
// one, and the underlying cause.
type Error struct {
	Code   ErrorCode
	Reason string
	cause  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified ledger error. Reason is the decoded revert
// string when one exists.
func NewError(code ErrorCode, reason string, cause error) *Error {
	return &Error{Code: code, Reason: reason, cause: cause}
}

// HasCode reports whether err (or anything it wraps) is a ledger Error
// with the given code.
func HasCode(err error, code ErrorCode) bool {
	var le *Error
	return errors.As(err, &le) && le.Code == code
}

// RevertReason extracts the decoded revert reason from err, if any.
func RevertReason(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}
