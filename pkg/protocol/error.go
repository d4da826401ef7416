package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// Temporary returns true if the Error might be the result of a transient condition, such as a
	// gateway timeout in front of the vendor's API. Callers that retry Initialize can use this to
	// decide whether a retry is worthwhile.
	Temporary() bool
}

var (
	// ErrUnauthorized indicates the server rejected the bearer token. The token should be
	// refreshed before the next request.
	ErrUnauthorized = errors.New("unauthorized: bearer token rejected")
	// ErrNoData indicates the account's vehicle inventory is empty.
	ErrNoData = errors.New("no vehicles found in account")
	// ErrNoToken indicates authentication completed without producing an access token.
	ErrNoToken = errors.New("no access token available")
	// ErrNoExpiry indicates the token source does not know when the current token expires.
	ErrNoExpiry = errors.New("no token expiry found")
)

// AuthError reports a failed sign-in or token refresh. Code is the HTTP status of the failing
// call, or zero when no call was made.
type AuthError struct {
	Code int
	Err  error
}

func NewAuthError(code int, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

func (e *AuthError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("authentication failed: %s", e.Err)
	}
	return fmt.Sprintf("authentication failed (%d): %s", e.Code, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Temporary() bool {
	return temporaryStatus(e.Code)
}

// APIError reports a non-success response, or a GraphQL error payload, for a named operation.
type APIError struct {
	Operation string
	Code      int
	Message   string
}

func (e *APIError) Error() string {
	message := e.Message
	if message == "" {
		message = http.StatusText(e.Code)
	}
	if e.Operation == "" {
		return fmt.Sprintf("api error %d: %s", e.Code, message)
	}
	return fmt.Sprintf("%s failed (%d): %s", e.Operation, e.Code, message)
}

func (e *APIError) Temporary() bool {
	return temporaryStatus(e.Code)
}

func temporaryStatus(code int) bool {
	return code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout ||
		code == http.StatusBadGateway ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}

// Temporary returns true if err is an Error that indicates the call failed due to possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Temporary()
	}
	return false
}

// IsUnauthorized returns true if err (or an error it wraps) is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsAuthError returns true if err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
