package gmail

import (
	"errors"
	"fmt"
	"net"

	"google.golang.org/api/googleapi"
)

// ErrAuthRequired is returned by Setup when no cached token exists and the
// interactive consent flow has to run first.
var ErrAuthRequired = errors.New("gmail: authorization required")

// AuthError means credentials are invalid or expired and could not be
// refreshed silently. It aborts the whole run.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("gmail auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers network failures and rate limits. Callers may retry
// a bounded number of times before surfacing it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("gmail transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// classify maps API and network errors onto the run-level taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return &AuthError{Err: err}
		case gerr.Code == 429 || gerr.Code >= 500:
			return &TransientError{Err: err}
		}
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &TransientError{Err: err}
	}
	return &TransientError{Err: err}
}
