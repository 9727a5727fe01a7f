// Package transport defines the channel and directory abstractions the
// connection manager is built on.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	ErrIDTaken      = errors.New("peer id is already registered")
	ErrUnreachable  = errors.New("directory service unreachable")
	ErrPeerNotFound = errors.New("peer not found")
	ErrNotOpen      = errors.New("channel not open")
	ErrClosed       = errors.New("channel closed")
)

// Transport registers the local identity with a directory service and
// produces channels to remote peers.
type Transport interface {
	// Register claims localID. An empty id asks the directory to assign one;
	// the id in effect is returned.
	Register(ctx context.Context, localID string) (string, error)
	// Dial starts negotiating a channel to peerID and returns it while it is
	// still connecting. The conn reports EventOpen once usable.
	Dial(ctx context.Context, peerID string) (Conn, error)
	// Accept yields channels initiated by remote peers.
	Accept() <-chan Conn
	// Close releases the registration and every conn it produced.
	Close() error
}

// Conn is one bidirectional, ordered, reliable message pipe.
type Conn interface {
	PeerID() string
	// Events is closed when the conn is closed; Err then reports why.
	Events() <-chan Event
	Send(data []byte) error
	SendText(text string) error
	Err() error
	io.Closer
}

// Drainer is implemented by conns that can report send-buffer occupancy.
type Drainer interface {
	BufferedAmount() uint64
	// OnDrain registers f to run when the buffered amount falls to or below
	// threshold.
	OnDrain(threshold uint64, f func())
}

type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification from a Conn.
type Event struct {
	Kind   EventKind
	Data   []byte
	IsText bool
	Err    error
}

// Signaler carries connection offers and answers through the directory.
type Signaler interface {
	Register(ctx context.Context, localID string) (string, error)
	SendSignal(ctx context.Context, signal Signal) error
	RecvSignal() <-chan Signal
	io.Closer
}

type SignalKind int

const (
	SignalOffer SignalKind = iota
	SignalAnswer
	SignalReject
)

// Signal is relayed negotiation data. PeerID is the target when sending and
// the source when receiving; ConnID tells concurrent attempts to the same
// peer apart.
type Signal struct {
	Kind    SignalKind
	PeerID  string
	ConnID  string
	Payload []byte
	Err     error
}
