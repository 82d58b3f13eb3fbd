package botcha

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken is returned by Refresh when the session holds no refresh token
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrInvalidBaseURL is returned by New when the issuer URL is not absolute http(s)
	ErrInvalidBaseURL = errors.New("base url must be an absolute http or https url")

	// ErrNotVerified is returned when the issuer answers an exchange with verified=false
	ErrNotVerified = errors.New("challenge solution was not verified")

	// ErrMalformedResponse is returned when an issuer response lacks required fields
	ErrMalformedResponse = errors.New("malformed issuer response")
)

// HTTPError is returned for non-2xx issuer responses
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// URL is the requested URL.
	URL string

	// Message is a preview of the response body.
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// IsHTTPError reports whether err is an HTTPError with the given status code.
// A statusCode of 0 matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return statusCode == 0 || httpErr.StatusCode == statusCode
}
