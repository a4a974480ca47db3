// Package errors provides the storage error taxonomy for the code-push
// persistence layer. Backend-specific failures are translated exactly once
// into a small set of kinds; callers never observe raw backend error shapes.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a storage error for handling purposes.
type Kind int

const (
	// Other is the default for unclassified failures.
	Other Kind = iota
	// NotFound means the entity is absent, or absent within the caller's
	// authorization scope. Authorization failures deliberately surface as
	// NotFound to avoid confirming resource existence.
	NotFound
	// AlreadyExists means a uniqueness constraint was violated
	// (duplicate email, app name, collaborator, deployment key).
	AlreadyExists
	// Invalid means the caller violated an operation precondition.
	Invalid
	// TooLarge means the backend rejected a value for its size.
	TooLarge
	// Expired means an access key is past its expiry.
	Expired
	// ConnectionFailed means the backend is unreachable or timed out.
	ConnectionFailed
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case Invalid:
		return "invalid"
	case TooLarge:
		return "too_large"
	case Expired:
		return "expired"
	case ConnectionFailed:
		return "connection_failed"
	default:
		return "other"
	}
}

// Error is a kinded storage error with component/operation context.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error without an underlying cause, following the
// pattern "component.operation: message".
func New(kind Kind, component, operation, message string) error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   fmt.Sprintf("%s.%s: %s", component, operation, message),
	}
}

// Wrap attaches a kind and context to a backend error. If err already
// carries a kind it passes through unchanged, so an error is never
// double-wrapped on its way up through the repositories.
func Wrap(kind Kind, err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   fmt.Sprintf("%s.%s: %s failed: %v", component, operation, action, err),
		Err:       err,
	}
}

// Reclassify forces a kind onto an error, keeping the cause in the
// chain. Unlike Wrap it does not pass kinded errors through; boundary
// probes that must surface one kind regardless of the cause use it.
func Reclassify(kind Kind, err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   fmt.Sprintf("%s.%s: %s failed: %v", component, operation, action, err),
		Err:       err,
	}
}

// KindOf returns the kind carried by err, or Other for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return Other
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Other
}

// IsNotFound reports whether err carries NotFound.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// IsAlreadyExists reports whether err carries AlreadyExists.
func IsAlreadyExists(err error) bool { return KindOf(err) == AlreadyExists }

// IsInvalid reports whether err carries Invalid.
func IsInvalid(err error) bool { return KindOf(err) == Invalid }

// IsTooLarge reports whether err carries TooLarge.
func IsTooLarge(err error) bool { return KindOf(err) == TooLarge }

// IsExpired reports whether err carries Expired.
func IsExpired(err error) bool { return KindOf(err) == Expired }

// IsConnectionFailed reports whether err carries ConnectionFailed.
func IsConnectionFailed(err error) bool { return KindOf(err) == ConnectionFailed }
