package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the store when no active credential exists.
	ErrNotFound = errors.New("no current credential")
	// ErrStaleCredential is returned by Supersede when the base was already replaced.
	ErrStaleCredential = errors.New("credential already superseded")
)

// ValidationError rejects input before anything is written.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid credential: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError wraps a database failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("credential store %s failed: %v", e.Op, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }

// ConflictError is returned when a credential is already bound to another location.
type ConflictError struct {
	Bound     string
	Requested string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("credential already bound to location %q, refusing to rebind to %q", e.Bound, e.Requested)
}

// OAuthExchangeError means the authorization code could not be exchanged.
type OAuthExchangeError struct {
	Err error
}

func (e *OAuthExchangeError) Error() string { return "oauth code exchange failed: " + e.Err.Error() }
func (e *OAuthExchangeError) Unwrap() error { return e.Err }

// MissingTokenError means the token endpoint answered without an access_token.
type MissingTokenError struct {
	Grant string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("token endpoint returned no access_token (grant=%s)", e.Grant)
}

// RefreshError means a refresh attempt failed. The previous credential is left untouched.
type RefreshError struct {
	CredentialID uint
	Err          error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh of credential %d failed: %v", e.CredentialID, e.Err)
}
func (e *RefreshError) Unwrap() error { return e.Err }

// NoCredentialError means there is nothing usable to authenticate with.
type NoCredentialError struct {
	Reason string
}

func (e *NoCredentialError) Error() string { return "no usable credential: " + e.Reason }
