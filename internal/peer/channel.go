package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	// HighWaterMark is the send-buffer level above which WaitDrained blocks.
	HighWaterMark = 2 * 1024 * 1024
	// LowWaterMark is the level at which a blocked sender resumes.
	LowWaterMark = 512 * 1024

	flushInterval = 20 * time.Millisecond
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Handler receives every frame of every channel of an Endpoint. Frames of
// one channel arrive in order from a single goroutine; different channels
// call it concurrently.
type Handler func(ch *Channel, frame protocol.Frame)

var openSeq atomic.Uint64

// Channel is a handle to one bidirectional pipe to a remote peer.
type Channel struct {
	peerID  string
	inbound bool
	conn    transport.Conn
	codec   *protocol.Codec
	log     *logrus.Entry

	mu      sync.Mutex
	state   State
	seq     uint64
	err     error
	settled chan struct{}
	done    chan struct{}
	drained chan struct{}
	sendMu  sync.Mutex
}

func newChannel(conn transport.Conn, inbound bool, log *logrus.Entry) *Channel {
	c := &Channel{
		peerID:  conn.PeerID(),
		inbound: inbound,
		conn:    conn,
		codec:   protocol.NewCodec(),
		log:     log.WithField("remote", conn.PeerID()),
		state:   StateConnecting,
		settled: make(chan struct{}),
		done:    make(chan struct{}),
		drained: make(chan struct{}, 1),
	}

	if d, ok := conn.(transport.Drainer); ok {
		d.OnDrain(LowWaterMark, func() {
			select {
			case c.drained <- struct{}{}:
			default:
			}
		})
	}
	return c
}

func (c *Channel) PeerID() string {
	return c.peerID
}

// Inbound reports whether the remote peer initiated the channel.
func (c *Channel) Inbound() bool {
	return c.inbound
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports why the channel left the connecting or open state.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the channel's event stream has ended.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// SendFrame writes one frame. Control frames go out as text messages and
// chunks as binary messages.
func (c *Channel) SendFrame(f protocol.Frame) error {
	if c.State() != StateOpen {
		return ErrChannelNotOpen
	}

	data, isText, err := c.codec.Encode(f)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if isText {
		err = c.conn.SendText(string(data))
	} else {
		err = c.conn.Send(data)
	}
	if err != nil {
		return fmt.Errorf("sending %s frame: %w", f.Type(), err)
	}
	return nil
}

// CanDrain reports whether the underlying pipe exposes its send buffer.
func (c *Channel) CanDrain() bool {
	_, ok := c.conn.(transport.Drainer)
	return ok
}

// WaitDrained blocks while more than HighWaterMark bytes are queued for
// sending, resuming on the pipe's low-buffer signal.
func (c *Channel) WaitDrained(ctx context.Context) error {
	d, ok := c.conn.(transport.Drainer)
	if !ok {
		return nil
	}

	for d.BufferedAmount() > HighWaterMark {
		select {
		case <-c.drained:
		case <-c.done:
			return ErrChannelNotOpen
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Flush waits until everything queued has left the send buffer.
func (c *Channel) Flush(ctx context.Context) error {
	d, ok := c.conn.(transport.Drainer)
	if !ok {
		return nil
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for d.BufferedAmount() > 0 {
		select {
		case <-ticker.C:
		case <-c.done:
			return ErrChannelNotOpen
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close closes the channel. Closing a channel that is already closed or
// failed does nothing.
func (c *Channel) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed, StateError:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.settle()
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.log.Debug("Closing channel")
	return c.conn.Close()
}

func (c *Channel) run(handler Handler) {
	defer close(c.done)

	for ev := range c.conn.Events() {
		switch ev.Kind {
		case transport.EventOpen:
			c.markOpen()

		case transport.EventMessage:
			frame, err := c.codec.Decode(ev.Data, ev.IsText)
			if err != nil {
				c.log.Warnf("Dropping undecodable frame: %v", err)
				continue
			}
			if handler != nil {
				handler(c, frame)
			}

		case transport.EventError:
			c.log.Errorf("Channel error: %v", ev.Err)
			c.fail(ev.Err)
		}
	}

	c.markClosed(c.conn.Err())
}

func (c *Channel) markOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		return
	}
	c.state = StateOpen
	c.seq = openSeq.Add(1)
	c.settle()
	c.log.Info("Channel open")
}

// fail moves a connecting channel to error. Errors on an open channel are
// only logged; the close that follows ends it.
func (c *Channel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		return
	}
	if err == nil {
		err = transport.ErrClosed
	}
	c.state = StateError
	c.err = err
	c.settle()
}

func (c *Channel) markClosed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting:
		if err == nil {
			err = transport.ErrClosed
		}
		c.state = StateError
		c.err = err
		c.settle()
	case StateOpen:
		c.state = StateClosed
		c.err = err
		c.log.Info("Channel closed")
	}
}

// settle must be called with mu held, once, when leaving connecting.
func (c *Channel) settle() {
	select {
	case <-c.settled:
	default:
		close(c.settled)
	}
}

func (c *Channel) waitOpen(ctx context.Context) error {
	select {
	case <-c.settled:
	case <-ctx.Done():
		c.fail(ctx.Err())
		_ = c.conn.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrChannelNotOpen
	default:
		return c.err
	}
}

func (c *Channel) openedBefore(o *Channel) bool {
	return c.seq < o.seq
}
