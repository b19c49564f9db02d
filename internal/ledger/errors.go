package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means the request carried no resolvable identity.
	ErrNotAuthenticated = errors.New("unauthorized")
	// ErrUserNotFound means the identity is valid but has no local user.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountNotFound means the account does not exist or is not the caller's.
	ErrAccountNotFound = errors.New("account not found")
	// ErrStoreFailure wraps every persistence error, including aborted commits.
	ErrStoreFailure = errors.New("store failure")
)

func storeFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreFailure, err)
}

// Result is what every mutating operation reports to its caller. Failures
// never escape as errors or panics; they are carried in Error.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`

	// Err keeps the underlying error for status mapping and errors.Is.
	Err error `json:"-"`
}

func succeeded(data any) Result {
	return Result{Success: true, Data: data}
}

func failed(err error) Result {
	return Result{Success: false, Error: err.Error(), Err: err}
}
