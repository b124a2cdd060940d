package connection

import "errors"

// Connection errors.
var (
	// ErrNotOpen is returned by Call, Send and Respond when the connection
	// is not open.
	ErrNotOpen = errors.New("connection not open")

	// ErrReconnectorStopped is returned when starting a stopped Reconnector.
	ErrReconnectorStopped = errors.New("reconnector stopped")
)
