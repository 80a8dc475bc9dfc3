package harvest

import "errors"

// ErrorKind classifies failures raised while processing a run
type ErrorKind string

const (
	KindFormat        ErrorKind = "FORMAT_ERROR"
	KindAmbiguousFile ErrorKind = "AMBIGUOUS_FILE"
	KindIncompleteRun ErrorKind = "INCOMPLETE_RUN"
	KindEmptyWindow   ErrorKind = "EMPTY_WINDOW"
	KindInvalidInput  ErrorKind = "INVALID_INPUT"
)

// Sentinels for errors.Is matching on kind
var (
	ErrFormat        = &Error{Kind: KindFormat, Message: "malformed input"}
	ErrAmbiguousFile = &Error{Kind: KindAmbiguousFile, Message: "more than one file matches role"}
	ErrIncompleteRun = &Error{Kind: KindIncompleteRun, Message: "run is incomplete"}
	ErrEmptyWindow   = &Error{Kind: KindEmptyWindow, Message: "statistics window is empty"}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// Error represents a run processing failure
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Path    string    `json:"path,omitempty"`
	Role    string    `json:"role,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Role != "" {
		msg += " (role " + e.Role + ")"
	}
	if e.Path != "" {
		msg += " [" + e.Path + "]"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports a match when target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a new run processing error
func NewError(kind ErrorKind, path, role, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Path:    path,
		Role:    role,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
