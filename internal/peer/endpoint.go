// Package peer manages the local endpoint: its registration with the
// directory service and the channels it holds to remote peers.
package peer

import (
	"context"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout bounds ConnectTo when Config leaves it unset.
const DefaultConnectTimeout = 30 * time.Second

// RegistrationState tracks an Endpoint's standing with the directory.
type RegistrationState int

const (
	Unregistered RegistrationState = iota
	Registering
	Registered
	Failed
)

func (s RegistrationState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Config struct {
	Transport transport.Transport
	Logger    *logrus.Logger
	// OnFrame receives frames from every channel, outbound ones included.
	OnFrame        Handler
	ConnectTimeout time.Duration
}

// Endpoint is the local participant. It is created per session and torn
// down with Close.
type Endpoint struct {
	transport      transport.Transport
	log            *logrus.Logger
	handler        Handler
	connectTimeout time.Duration

	mu       sync.Mutex
	id       string
	state    RegistrationState
	channels map[string][]*Channel
	closed   bool
}

// New returns an unregistered Endpoint. Call Register before ConnectTo.
func New(cfg Config) *Endpoint {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	return &Endpoint{
		transport:      cfg.Transport,
		log:            log,
		handler:        cfg.OnFrame,
		connectTimeout: timeout,
		channels:       make(map[string][]*Channel),
	}
}

func (e *Endpoint) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Endpoint) State() RegistrationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Register claims localID with the directory service. An empty id lets the
// directory assign one; ID reports it afterwards. Once registered, inbound
// channels are accepted automatically and announced to the handler with a
// NewConnection frame.
func (e *Endpoint) Register(ctx context.Context, localID string) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return &RegistrationError{ID: localID, Err: ErrEndpointClosed}
	case e.state == Registering || e.state == Registered:
		e.mu.Unlock()
		return &RegistrationError{ID: localID, Err: ErrAlreadyRegistered}
	}
	e.state = Registering
	e.mu.Unlock()

	e.log.WithField("peer", localID).Debug("Registering with directory")

	id, err := e.transport.Register(ctx, localID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.log.WithField("peer", localID).Warn("Endpoint closed during registration")
		return &RegistrationError{ID: localID, Err: ErrEndpointClosed}
	}
	if err != nil {
		e.state = Failed
		e.mu.Unlock()
		e.log.WithField("peer", localID).Errorf("Registration failed: %v", err)
		return &RegistrationError{ID: localID, Err: err}
	}
	e.id = id
	e.state = Registered
	e.mu.Unlock()

	e.log.WithField("peer", id).Info("Registered with directory")

	go e.acceptLoop()
	return nil
}

func (e *Endpoint) acceptLoop() {
	for conn := range e.transport.Accept() {
		ch := e.track(conn, true)
		if ch == nil {
			_ = conn.Close()
			continue
		}

		e.log.WithField("remote", ch.PeerID()).Info("New connection")
		e.dispatch(ch, &protocol.NewConnection{PeerID: ch.PeerID()})

		go e.serve(ch)
	}
}

// ConnectTo opens a new channel to remoteID and waits for it to open. It
// does not reuse existing channels; see FindOpenChannel.
func (e *Endpoint) ConnectTo(ctx context.Context, remoteID string) (*Channel, error) {
	if state := e.State(); state != Registered {
		return nil, &NotReadyError{Op: "connect", State: state}
	}

	ctx, cancel := context.WithTimeout(ctx, e.connectTimeout)
	defer cancel()

	conn, err := e.transport.Dial(ctx, remoteID)
	if err != nil {
		return nil, &ConnectionError{PeerID: remoteID, Err: err}
	}

	ch := e.track(conn, false)
	if ch == nil {
		_ = conn.Close()
		return nil, &ConnectionError{PeerID: remoteID, Err: ErrEndpointClosed}
	}
	go e.serve(ch)

	if err := ch.waitOpen(ctx); err != nil {
		e.log.WithField("remote", remoteID).Warnf("Channel failed to open: %v", err)
		return nil, &ConnectionError{PeerID: remoteID, Err: err}
	}
	return ch, nil
}

// FindOpenChannel returns the earliest-opened channel to remoteID that is
// still open, or nil.
func (e *Endpoint) FindOpenChannel(remoteID string) *Channel {
	e.mu.Lock()
	chans := append([]*Channel(nil), e.channels[remoteID]...)
	e.mu.Unlock()

	var found *Channel
	for _, ch := range chans {
		if ch.State() != StateOpen {
			continue
		}
		if found == nil || ch.openedBefore(found) {
			found = ch
		}
	}
	return found
}

// Channels lists the tracked channels to remoteID in creation order.
func (e *Endpoint) Channels(remoteID string) []*Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Channel(nil), e.channels[remoteID]...)
}

// Close closes every channel that is still live and releases the
// registration. It is safe to call more than once.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	registered := e.state == Registered
	e.state = Unregistered

	var all []*Channel
	for _, chans := range e.channels {
		all = append(all, chans...)
	}
	e.channels = make(map[string][]*Channel)
	e.mu.Unlock()

	for _, ch := range all {
		if err := ch.Close(); err != nil {
			e.log.WithField("remote", ch.PeerID()).Warnf("Closing channel: %v", err)
		}
	}

	if e.transport == nil {
		return nil
	}
	if registered {
		e.log.WithField("peer", e.ID()).Info("Releasing registration")
	}
	return e.transport.Close()
}

func (e *Endpoint) track(conn transport.Conn, inbound bool) *Channel {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	ch := newChannel(conn, inbound, e.log.WithField("peer", e.id))
	e.channels[ch.PeerID()] = append(e.channels[ch.PeerID()], ch)
	return ch
}

func (e *Endpoint) untrack(ch *Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chans := e.channels[ch.PeerID()]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(e.channels, ch.PeerID())
		return
	}
	e.channels[ch.PeerID()] = chans
}

func (e *Endpoint) serve(ch *Channel) {
	ch.run(e.dispatch)
	e.untrack(ch)
}

func (e *Endpoint) dispatch(ch *Channel, frame protocol.Frame) {
	if e.handler == nil {
		e.log.WithField("remote", ch.PeerID()).Debugf("No handler for %s frame", frame.Type())
		return
	}
	e.handler(ch, frame)
}
