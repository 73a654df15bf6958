package internal

import "net/http"

const (
	// ErrCodeUnknown is the error code for unknown errors
	ErrCodeUnknown = "UNKNOWN_ERROR"
	// ErrCodeRepoError is returned when the request to a repo fails with an error
	ErrCodeRepoError = "STORAGE_QUERY_FAILED"
	// ErrCodeRequiredFieldMissing is returned when at least one required field has not been populated on an incoming
	// request
	ErrCodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	// ErrCodeIllegalJSON is returned when the request did not contain a valid JSON body
	ErrCodeIllegalJSON = "ILLEGAL_JSON_REQUEST"
	// ErrCodeIllegalValue is returned when any field in the transferred data does not validate for some reason
	ErrCodeIllegalValue = "ILLEGAL_VALUE"
	// ErrCodeVisitorRequired is returned when a call needs a known visitor ID, but none or an unknown one was sent
	ErrCodeVisitorRequired = "VISITOR_REQUIRED"
	// ErrCodeBookmarkNotFound is returned when an operation works on an asset that has not been bookmarked
	ErrCodeBookmarkNotFound = "BOOKMARK_NOT_FOUND"
	// ErrCodeSectionTimeout is returned when the sections of a page did not finish loading in time
	ErrCodeSectionTimeout = "SECTION_TIMEOUT"
	// ErrCodeShuttingDown is returned for calls arriving while the service stops
	ErrCodeShuttingDown = "SHUTTING_DOWN"
)

var (
	// ErrVisitorRequired is returned when a call needs a known visitor, but none has been identified
	ErrVisitorRequired = MakeError(
		http.StatusUnauthorized,
		ErrCodeVisitorRequired,
		"This function needs a registered visitor ID in the X-Visitor-ID header",
	)
	// ErrSectionTimeout is returned when waiting for the sections of a page took too long
	ErrSectionTimeout = MakeError(
		http.StatusGatewayTimeout,
		ErrCodeSectionTimeout,
		"The search backend did not answer in time",
	)
	// ErrShuttingDown is returned when sections are requested while the service shuts down
	ErrShuttingDown = MakeError(
		http.StatusServiceUnavailable,
		ErrCodeShuttingDown,
		"The service is shutting down",
	)
)

// HTTPError is an error that contains information about the error message to return to the client
type HTTPError struct {
	message string
	code    string
	status  int
	data    interface{}
}

// MakeError creates a new HTTPError with the given contents
func MakeError(status int, code, message string) *HTTPError {
	return MakeErrorWithData(status, code, message, nil)
}

// MakeErrorWithData creates a new HTTPError with the given contents and an additional data element
func MakeErrorWithData(status int, code, message string, data interface{}) *HTTPError {
	return &HTTPError{message, code, status, data}
}

// Error implements the errorer interface
func (e *HTTPError) Error() string {
	return e.message
}

// Status returns the HTTP status that should be returned
func (e *HTTPError) Status() int {
	return e.status
}

// ErrorCode returns the machine-readable error code
func (e *HTTPError) ErrorCode() string {
	return e.code
}

// Data returns additional data about the error
func (e *HTTPError) Data() interface{} {
	return e.data
}
