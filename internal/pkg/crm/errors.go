package crm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingAccessToken is returned when a token response carries no access_token.
var ErrMissingAccessToken = errors.New("token endpoint returned empty access_token")

// Kind classifies an upstream failure.
type Kind string

const (
	KindAuth     Kind = "auth"
	KindNotFound Kind = "not_found"
	KindOther    Kind = "other"
)

// UpstreamError is returned by every CRM call that did not succeed.
type UpstreamError struct {
	Op         string
	Kind       Kind
	StatusCode int
	Body       string
	// Transient is set for transport failures, timeouts, 429 and 5xx.
	Transient bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("crm %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crm %s failed: status=%d kind=%s body=%s", e.Op, e.StatusCode, e.Kind, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// TokenError is returned by the OAuth client for transport, status or decode failures.
type TokenError struct {
	Grant      string
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token request (%s) failed: status=%d body=%s", e.Grant, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token request (%s) failed: %v", e.Grant, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

func statusError(op string, status int, body []byte) *UpstreamError {
	e := &UpstreamError{Op: op, StatusCode: status, Body: truncate(string(body), 512), Kind: KindOther}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		e.Transient = true
	}
	return e
}

func transportError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Kind: KindOther, Transient: true, Err: err}
}

// IsKind reports whether err is an UpstreamError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == kind
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Transient
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
