package protocol

import "fmt"

// Categorizes why an inbound frame was rejected
type ErrorCode string

const (
	// The frame is not a JSON envelope or its data has the wrong shape.
	CodeMalformed ErrorCode = "malformed"

	// The envelope type is not in the message catalog.
	CodeUnknownType ErrorCode = "unknown_type"

	// A required field such as an object id is absent.
	CodeMissingField ErrorCode = "missing_field"

	// A client sent a type only the server may emit.
	CodeServerOnly ErrorCode = "server_only"
)

// A protocol error. The offending frame is dropped and the connection stays up.
type Error struct {
	Code   ErrorCode
	Type   MessageType
	Detail string
}

var (
	ErrMalformed    = &Error{Code: CodeMalformed}
	ErrUnknownType  = &Error{Code: CodeUnknownType}
	ErrMissingField = &Error{Code: CodeMissingField}
	ErrServerOnly   = &Error{Code: CodeServerOnly}
)

func (e *Error) Error() string {
	switch {
	case e.Detail == "":
		return string(e.Code)
	case e.Type != "":
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Detail, e.Type)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
}

// Matches any *Error with the same code, so errors.Is(err, ErrMalformed) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code ErrorCode, t MessageType, format string, args ...any) *Error {
	return &Error{Code: code, Type: t, Detail: fmt.Sprintf(format, args...)}
}
