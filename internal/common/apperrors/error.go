// Package apperrors defines the layered application error type used across
// the server. Errors derived with New inherit the status code of their base
// and satisfy Is against every ancestor, so packages can export sentinel
// errors and callers can match on the family.
package apperrors

type Error interface {
	Error() string
	ErrorAll() string
	New(msg string) Error
	Msg(msg string) Error
	MsgErr(msg string, err ...error) Error
	Err(err ...error) Error
	Unwrap() []error
	Is(target error) bool
	SetExpandError(expand bool) Error
	SetStatusCode(code int) Error
	StatusCode() int
}
