package wire

// Outcome is the interpretation of a correlated frame.
// It is one of Succeeded, InProgress, Failed, Invalid or Violation.
type Outcome interface {
	outcome()
}

// Succeeded is a terminal success; Frame is the full response.
type Succeeded struct {
	Frame *Frame
}

// InProgress is a Queued or Running update. Payload may be nil.
type InProgress struct {
	State   State
	Payload any
}

// Failed is a terminal failure without field-level detail.
type Failed struct {
	Message string
}

// Invalid is a terminal failure whose payload carries an errors list.
// The list may be empty.
type Invalid struct {
	Message string
	Errors  []FieldError
}

// Violation is a correlated frame whose state is not part of the protocol.
type Violation struct {
	State State
}

func (Succeeded) outcome()  {}
func (InProgress) outcome() {}
func (Failed) outcome()     {}
func (Invalid) outcome()    {}
func (Violation) outcome()  {}

// Interpret classifies a correlated frame.
func Interpret(c Codec, f *Frame) Outcome {
	switch f.State {
	case StateSuccess:
		return Succeeded{Frame: f}
	case StateQueued, StateRunning:
		return InProgress{State: f.State, Payload: f.Payload}
	case StateFailed:
		var fp FailurePayload
		if err := DecodePayload(c, f.Payload, &fp); err != nil {
			// A failure with an unreadable payload is still a failure.
			if s, ok := f.Payload.(string); ok {
				return Failed{Message: s}
			}
			return Failed{}
		}
		if fp.Errors != nil {
			return Invalid{Message: fp.Message, Errors: fp.Errors}
		}
		return Failed{Message: fp.Message}
	default:
		return Violation{State: f.State}
	}
}
