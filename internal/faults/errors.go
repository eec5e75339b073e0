package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed or inconsistent configuration.
	ErrValidation = errors.New("validation error")
	// ErrProtocol marks a command issued in the wrong session state or naming an unknown descriptor.
	ErrProtocol = errors.New("protocol error")
	// ErrNotFound marks a missing label or port file.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported marks a capability the hardware layer does not provide.
	ErrUnsupported = errors.New("unsupported operation")
)

// Kinds reported by Kind and used as the wire prefix of remote faults.
const (
	KindValidation  = "validation"
	KindProtocol    = "protocol"
	KindNotFound    = "not_found"
	KindUnsupported = "unsupported"
	KindInternal    = "internal"
)

var markers = map[string]error{
	KindValidation:  ErrValidation,
	KindProtocol:    ErrProtocol,
	KindNotFound:    ErrNotFound,
	KindUnsupported: ErrUnsupported,
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker. The marker should be one of the exported
// sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Protocol is shorthand for Wrap(ErrProtocol, ...) without a cause.
func Protocol(component, operation, message string) error {
	return Wrap(ErrProtocol, component, operation, message, nil)
}

// Validation is shorthand for Wrap(ErrValidation, ...) without a cause.
func Validation(component, operation, message string) error {
	return Wrap(ErrValidation, component, operation, message, nil)
}

// Kind classifies err. Errors carrying none of the sentinels are internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	default:
		return KindInternal
	}
}

// Encode renders err as the wire form "<kind>: <message>".
func Encode(err error) string {
	if err == nil {
		return ""
	}
	return Kind(err) + ": " + err.Error()
}

// RemoteError is a fault reported by the server.
type RemoteError struct {
	kind    string
	message string
}

func (e *RemoteError) Error() string { return e.message }

// Kind returns the fault kind reported by the server.
func (e *RemoteError) Kind() string { return e.kind }

// Is reports whether target is the sentinel for this fault's kind.
func (e *RemoteError) Is(target error) bool {
	marker, ok := markers[e.kind]
	return ok && marker == target
}

// FromRemote parses a fault string produced by Encode. Strings without a
// recognised kind prefix become internal faults carrying the full text.
func FromRemote(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	kind, message, ok := strings.Cut(text, ": ")
	if !ok {
		return &RemoteError{kind: KindInternal, message: text}
	}
	if _, known := markers[kind]; !known && kind != KindInternal {
		return &RemoteError{kind: KindInternal, message: text}
	}
	return &RemoteError{kind: kind, message: message}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "daq server failure"
	}
	return strings.Join(parts, ": ")
}
