package sailthru

import (
	"errors"
	"fmt"
)

// Error codes returned by Sailthru that the worker treats specially. Sailthru
// reports application errors in a 200-level envelope, so these arrive as
// numeric codes in the response body rather than HTTP statuses.
// See https://getstarted.sailthru.com/developers/api-basics/responses/
const (
	// ErrCodeInternalError means Sailthru had a transient internal problem
	// and asks the caller to retry the request later.
	ErrCodeInternalError = 9

	// ErrCodeRateLimit means the account exceeded its request rate limit.
	ErrCodeRateLimit = 43
)

// retryableCodes is the single place deciding which Sailthru error codes are
// worth retrying. Every code not listed here is terminal: validation and
// not-found classes included, and unknown codes fail closed so we never retry
// indefinitely on failures we do not recognise.
var retryableCodes = map[int]bool{
	ErrCodeInternalError: true,
	ErrCodeRateLimit:     true,
}

// APIError is an application error reported by Sailthru in its response
// envelope. Transport failures are not APIErrors; they surface as ordinary
// errors from the HTTP client.
type APIError struct {
	Action string
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sailthru %s error %d: %s", e.Action, e.Code, e.Msg)
}

// Retryable reports whether the error code indicates a transient platform
// condition.
func (e *APIError) Retryable() bool {
	return retryableCodes[e.Code]
}

// AsAPIError unwraps err into an APIError if it carries one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsRetryableError reports whether err is a Sailthru application error with a
// retryable code. Transport errors are not classified here; the caller decides
// what to do with those.
func IsRetryableError(err error) bool {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Retryable()
	}
	return false
}
