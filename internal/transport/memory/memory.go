// Package memory is an in-process directory and channel network. Peers
// registered on the same Network can dial each other without sockets.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
)

const (
	eventBuffer   = 256
	acceptBacklog = 16
)

// ErrBacklogFull is returned by Dial when the remote has acceptBacklog
// channels queued that it has not accepted.
var ErrBacklogFull = errors.New("accept backlog full")

type Option func(*Network)

// WithManualOpen leaves dialed pairs connecting until Conn.Open is called.
// Dialer-side conns are published on Network.Pending.
func WithManualOpen() Option {
	return func(n *Network) {
		n.manualOpen = true
	}
}

type Network struct {
	mu          sync.Mutex
	peers       map[string]*Transport
	manualOpen  bool
	unreachable bool
	pending     chan *Conn
	dials       atomic.Int64
}

func NewNetwork(opts ...Option) *Network {
	n := &Network{
		peers:   make(map[string]*Transport),
		pending: make(chan *Conn, 64),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetUnreachable makes every Register and Dial fail with ErrUnreachable.
func (n *Network) SetUnreachable(v bool) {
	n.mu.Lock()
	n.unreachable = v
	n.mu.Unlock()
}

// Dials counts Dial calls that reached the network.
func (n *Network) Dials() int {
	return int(n.dials.Load())
}

func (n *Network) Pending() <-chan *Conn {
	return n.pending
}

func (n *Network) Transport() *Transport {
	return &Transport{
		network:  n,
		incoming: make(chan transport.Conn, acceptBacklog),
	}
}

func (n *Network) lookup(id string) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.unreachable {
		return nil, transport.ErrUnreachable
	}
	t, ok := n.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerNotFound, id)
	}
	return t, nil
}

type Transport struct {
	network  *Network
	incoming chan transport.Conn

	mu     sync.Mutex
	id     string
	conns  []*Conn
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Register(ctx context.Context, localID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.unreachable {
		return "", transport.ErrUnreachable
	}
	if localID == "" {
		localID = uuid.NewString()
	}
	if _, taken := n.peers[localID]; taken {
		return "", fmt.Errorf("%w: %s", transport.ErrIDTaken, localID)
	}
	n.peers[localID] = t

	t.mu.Lock()
	t.id = localID
	t.mu.Unlock()

	return localID, nil
}

func (t *Transport) Dial(ctx context.Context, peerID string) (transport.Conn, error) {
	t.network.dials.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	remote, err := t.network.lookup(peerID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	localID := t.id
	t.mu.Unlock()

	local := newConn(peerID)
	far := newConn(localID)
	local.peer, far.peer = far, local

	t.track(local)
	if err := remote.deliver(far); err != nil {
		local.finish(err)
		return nil, fmt.Errorf("%w: %s", err, peerID)
	}

	if t.network.manualOpen {
		t.network.pending <- local
	} else {
		local.Open()
	}
	return local, nil
}

func (t *Transport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = nil
	id := t.id
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	n := t.network
	n.mu.Lock()
	if n.peers[id] == t {
		delete(n.peers, id)
	}
	n.mu.Unlock()

	close(t.incoming)
	return nil
}

func (t *Transport) track(c *Conn) {
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
}

func (t *Transport) deliver(c *Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrPeerNotFound
	}

	select {
	case t.incoming <- c:
		t.conns = append(t.conns, c)
		return nil
	default:
		return ErrBacklogFull
	}
}

// Conn is one end of an in-memory pipe.
type Conn struct {
	peerID  string
	emitter *transport.Emitter
	peer    *Conn

	mu   sync.Mutex
	open bool
}

var _ transport.Conn = (*Conn)(nil)

func newConn(peerID string) *Conn {
	return &Conn{
		peerID:  peerID,
		emitter: transport.NewEmitter(eventBuffer),
	}
}

// Open moves both ends of the pipe to open.
func (c *Conn) Open() {
	c.setOpen()
	c.peer.setOpen()
}

func (c *Conn) setOpen() {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.mu.Unlock()

	c.emitter.Emit(transport.Event{Kind: transport.EventOpen})
}

// Fail reports err on both ends and closes the pipe.
func (c *Conn) Fail(err error) {
	c.emitter.Emit(transport.Event{Kind: transport.EventError, Err: err})
	c.finish(err)
	c.peer.finish(transport.ErrClosed)
}

func (c *Conn) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Conn) PeerID() string {
	return c.peerID
}

func (c *Conn) Events() <-chan transport.Event {
	return c.emitter.Events()
}

func (c *Conn) Send(data []byte) error {
	return c.deliver(data, false)
}

func (c *Conn) SendText(text string) error {
	return c.deliver([]byte(text), true)
}

func (c *Conn) deliver(data []byte, isText bool) error {
	select {
	case <-c.emitter.Done():
		return transport.ErrClosed
	default:
	}
	if !c.isOpen() {
		return transport.ErrNotOpen
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	if !c.peer.emitter.Emit(transport.Event{Kind: transport.EventMessage, Data: buf, IsText: isText}) {
		return transport.ErrClosed
	}
	return nil
}

func (c *Conn) Err() error {
	return c.emitter.Err()
}

func (c *Conn) Close() error {
	c.finish(nil)
	c.peer.finish(transport.ErrClosed)
	return nil
}

func (c *Conn) finish(err error) {
	c.emitter.Close(err)
}
