package correlator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Correlator errors.
var (
	// ErrTimeout is returned when no frame for a call arrives within its
	// idle timeout.
	ErrTimeout = errors.New("call timed out")

	// ErrAbandoned is returned when the caller gives up on a call.
	ErrAbandoned = errors.New("call abandoned")
)

// ValidationError is a failed response carrying field-level errors.
type ValidationError struct {
	Type    string
	Message string
	Errors  []wire.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Location() + ": " + fe.Message
	}
	msg := e.Message
	if msg == "" {
		msg = "validation failed"
	}
	if len(parts) == 0 {
		return e.Type + ": " + msg
	}
	return fmt.Sprintf("%s: %s (%s)", e.Type, msg, strings.Join(parts, "; "))
}

// Fields maps each dotted field location to its messages.
func (e *ValidationError) Fields() map[string][]string {
	out := make(map[string][]string, len(e.Errors))
	for _, fe := range e.Errors {
		loc := fe.Location()
		out[loc] = append(out[loc], fe.Message)
	}
	return out
}

// FailureError is a failed response without field-level detail.
type FailureError struct {
	Type    string
	Message string
}

func (e *FailureError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: request failed", e.Type)
}

// ProtocolError is a correlated frame whose state the protocol does not
// define.
type ProtocolError struct {
	Type  string
	State wire.State
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected response state %q", e.Type, string(e.State))
}
