package types

import "fmt"

// Code tags a ContainerError with one of the error kinds spec'd for callers
// of install/update/uninstall/resolve.
type Code string

const (
	CodeStateChange    Code = "STATE_CHANGE_ERROR"
	CodeRejectedByHook Code = "REJECTED_BY_HOOK"
	CodeDuplicateBundle Code = "DUPLICATE_BUNDLE_ERROR"
	CodeResolution     Code = "RESOLUTION_ERROR"
	CodePermission     Code = "PERMISSION_ERROR"
	CodeIllegalState   Code = "ILLEGAL_STATE_ERROR"
)

// ContainerError is a tagged failure surfaced to callers. Two ContainerErrors
// are errors.Is-equal iff they carry the same Code, regardless of the
// wrapped cause — callers match on Code, not on message text.
type ContainerError struct {
	Code Code
	// Msg, if set, overrides the default "<code>" message text.
	Msg string
	Err error
}

func (e *ContainerError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ContainerError) Unwrap() error { return e.Err }

// Is implements errors.Is by Code, ignoring Msg/Err — so errors.Is(err,
// ErrStateChange) matches any ContainerError carrying CodeStateChange.
func (e *ContainerError) Is(target error) bool {
	t, ok := target.(*ContainerError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors for errors.Is comparisons. Construct a contextualised copy
// with WithCause or WithMessage rather than returning these directly.
var (
	ErrStateChange     = &ContainerError{Code: CodeStateChange}
	ErrRejectedByHook  = &ContainerError{Code: CodeRejectedByHook}
	ErrDuplicateBundle = &ContainerError{Code: CodeDuplicateBundle}
	ErrResolution      = &ContainerError{Code: CodeResolution}
	ErrPermission      = &ContainerError{Code: CodePermission}
	ErrIllegalState    = &ContainerError{Code: CodeIllegalState}
)

// WithCause returns a copy of base wrapping cause.
func WithCause(base *ContainerError, cause error) *ContainerError {
	return &ContainerError{Code: base.Code, Msg: base.Msg, Err: cause}
}

// WithMessage returns a copy of base with Msg set, optionally wrapping cause.
func WithMessage(base *ContainerError, msg string, cause error) *ContainerError {
	return &ContainerError{Code: base.Code, Msg: msg, Err: cause}
}
