// Package kiroku provides a Go client for the Kiroku living-report API.
package kiroku

import "fmt"

// Error represents an error from the Kiroku API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kiroku: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 404
	}
	return false
}

// IsAmbiguous returns true if the error is an ambiguous-selector conflict.
func IsAmbiguous(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == "AMBIGUOUS_SELECTOR"
	}
	return false
}

// IsValidation returns true if the error is a validation rejection (422).
func IsValidation(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 422
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 401
	}
	return false
}
