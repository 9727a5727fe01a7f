package peer

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotOpen    = errors.New("channel is not open")
	ErrAlreadyRegistered = errors.New("endpoint already registered")
	ErrEndpointClosed    = errors.New("endpoint closed")
)

// RegistrationError means the directory refused or could not be asked to
// register an id. The caller retries with a new id or later.
type RegistrationError struct {
	ID  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering %q: %v", e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// NotReadyError means an operation needed a registered endpoint.
type NotReadyError struct {
	Op    string
	State RegistrationState
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: endpoint not ready (%s)", e.Op, e.State)
}

// ConnectionError means a channel failed, closed or timed out before it
// opened.
type ConnectionError struct {
	PeerID string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %q: %v", e.PeerID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
