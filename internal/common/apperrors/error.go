// Package apperrors defines the error type used across fenceline services.
// Errors carry an HTTP status code and may wrap other errors while staying
// compatible with errors.Is and errors.As.
package apperrors

// Error is the interface implemented by all fenceline service errors.
// New errors are derived from a base error so that errors.Is can match
// against the whole family.
type Error interface {
	error
	// ErrorAll returns the message including all wrapped errors when
	// expansion is enabled.
	ErrorAll() string
	// Unwrap returns the base error.
	Unwrap() error
	// UnwrapAll returns every wrapped error.
	UnwrapAll() []error
	// Msg derives a new error with the given message, wrapping the receiver.
	Msg(msg string) Error
	// New derives a fresh error from the receiver as template.
	New(msg string) Error
	// MsgErr derives a new error with a message and additional wrapped errors.
	MsgErr(msg string, errs ...error) Error
	// Err derives a new error that wraps additional errors.
	Err(errs ...error) Error
	// SetExpandError controls whether ErrorAll includes wrapped errors.
	SetExpandError(flag bool) Error
	// SetStatusCode sets the HTTP status code for the error.
	SetStatusCode(code int) Error
	// StatusCode returns the HTTP status code for the error.
	StatusCode() int
}
