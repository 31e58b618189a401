package session

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal session outcome.
type Kind string

const (
	KindGate       Kind = "gate"
	KindStabilize  Kind = "stabilize"
	KindBudget     Kind = "budget"
	KindStopped    Kind = "stopped"
	KindPackage    Kind = "package"
	KindDependency Kind = "dependency"
	KindLoad       Kind = "load"
)

// User-facing messages.
const (
	MsgEndless       = "This page appears endless (infinite feed). Try a page that has a clear end."
	MsgTooLong       = "Page took too long; likely endless."
	MsgZipTooLarge   = "ZIP too large. Try limiting the page."
	MsgTooManyAssets = "Too many assets. Try limiting the page."
	MsgStopped       = "Stopped by user."
	MsgMissingDep    = "Internal error: ZIP library missing."
)

var (
	ErrAlreadyRunning    = errors.New("session: capture already running for target")
	ErrAtCapacity        = errors.New("session: too many active sessions")
	ErrInvalidTransition = errors.New("session: invalid transition")
	ErrTerminated        = errors.New("session: already terminated")
)

// Error is the single terminal error of a session.
type Error struct {
	Kind    Kind
	Reason  string // machine-readable cause, e.g. "asset-cap", "denylist"
	Message string // surfaced on the status channel
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s/%s: %s: %v", e.Kind, e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("session: %s/%s: %s", e.Kind, e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// GateError is returned when the target matches the denylist.
func GateError() *Error {
	return &Error{Kind: KindGate, Reason: "denylist", Message: MsgEndless}
}

// StabilizeError wraps a stabilizer failure; reason is "timeout" or "error".
func StabilizeError(reason string, err error) *Error {
	return &Error{Kind: KindStabilize, Reason: reason, Message: MsgTooLong, Err: err}
}

// BudgetError maps a downloader stop reason to its terminal error.
func BudgetError(reason string) *Error {
	switch reason {
	case "stopped":
		return StoppedError()
	case "asset-cap":
		return &Error{Kind: KindBudget, Reason: reason, Message: MsgTooManyAssets}
	case "zip-too-large":
		return &Error{Kind: KindBudget, Reason: reason, Message: MsgZipTooLarge}
	case "timeout":
		return &Error{Kind: KindBudget, Reason: reason, Message: MsgTooLong}
	}
	return &Error{Kind: KindBudget, Reason: reason, Message: "Capture stopped."}
}

// StoppedError is the user cancellation outcome.
func StoppedError() *Error {
	return &Error{Kind: KindStopped, Reason: "stopped", Message: MsgStopped}
}

// PackageError is returned when the archive exceeds the size cap.
func PackageError(err error) *Error {
	return &Error{Kind: KindPackage, Reason: "zip-too-large", Message: MsgZipTooLarge, Err: err}
}

// DependencyError is returned when a required capability is missing.
func DependencyError(what string) *Error {
	return &Error{Kind: KindDependency, Reason: what, Message: MsgMissingDep}
}

// LoadError wraps a failure to open or read the target document.
func LoadError(err error) *Error {
	return &Error{Kind: KindLoad, Reason: "load", Message: "Could not load the page.", Err: err}
}

// AsError converts err to *Error, wrapping unknown errors as load failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return LoadError(err)
}
