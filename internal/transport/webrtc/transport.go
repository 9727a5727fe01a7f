// Package webrtc implements transport.Transport with pion data channels
// negotiated through a transport.Signaler.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const incomingBuffer = 16

var ErrNoSignaler = errors.New("no signaler configured")

// Transport keeps one PeerConnection per channel attempt, keyed by a
// connection id so several channels to the same peer can coexist.
type Transport struct {
	config   webrtc.Configuration
	signaler transport.Signaler
	log      *logrus.Logger

	mu          sync.Mutex
	connections map[string]*connection
	incoming    chan transport.Conn
	closed      bool
	loopOnce    sync.Once
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) *Transport {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Transport{
		config:      PeerConnectionConfig(cfg.ICEServers),
		signaler:    cfg.Signaler,
		log:         log,
		connections: make(map[string]*connection),
		incoming:    make(chan transport.Conn, incomingBuffer),
	}
}

func (t *Transport) Register(ctx context.Context, localID string) (string, error) {
	if t.signaler == nil {
		return "", fmt.Errorf("%w: %v", transport.ErrUnreachable, ErrNoSignaler)
	}

	id, err := t.signaler.Register(ctx, localID)
	if err != nil {
		return "", err
	}

	t.loopOnce.Do(func() {
		go t.signalLoop()
	})
	return id, nil
}

// Dial creates the data channel, gathers every ICE candidate and sends the
// complete offer. The returned conn opens once the answer arrives.
func (t *Transport) Dial(ctx context.Context, peerID string) (transport.Conn, error) {
	if t.signaler == nil {
		return nil, ErrNoSignaler
	}

	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(uuid.NewString(), peerID, false, pc, t.log.WithField("direction", "outbound"))
	if err := t.track(conn); err != nil {
		_ = pc.Close()
		return nil, err
	}

	if err := conn.createDataChannel(); err != nil {
		conn.finish(err)
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		conn.finish(err)
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	sdp, err := t.setLocal(ctx, pc, offer)
	if err != nil {
		conn.finish(err)
		return nil, err
	}

	err = t.signaler.SendSignal(ctx, transport.Signal{
		Kind:    transport.SignalOffer,
		PeerID:  peerID,
		ConnID:  conn.id,
		Payload: []byte(sdp),
	})
	if err != nil {
		conn.finish(err)
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	conn.log.Debug("Offer sent")
	return conn, nil
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
	conns := make([]*connection, 0, len(t.connections))
	for _, c := range t.connections {
		conns = append(conns, c)
	}
	t.connections = make(map[string]*connection)
	close(t.incoming)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if t.signaler != nil {
		return t.signaler.Close()
	}
	return nil
}

func (t *Transport) signalLoop() {
	for sig := range t.signaler.RecvSignal() {
		if err := t.handleSignal(sig); err != nil {
			t.log.WithFields(logrus.Fields{"remote": sig.PeerID, "conn": sig.ConnID}).Warnf("Handling signal: %v", err)
		}
	}
	t.log.Debug("Signal stream ended")
}

func (t *Transport) handleSignal(sig transport.Signal) error {
	switch sig.Kind {
	case transport.SignalOffer:
		return t.answer(sig)

	case transport.SignalAnswer:
		conn := t.lookup(sig.ConnID)
		if conn == nil {
			return fmt.Errorf("answer for unknown connection %s", sig.ConnID)
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(sig.Payload)}
		if err := conn.pc.SetRemoteDescription(desc); err != nil {
			conn.emitter.Emit(transport.Event{Kind: transport.EventError, Err: err})
			conn.finish(err)
			return fmt.Errorf("failed to set remote description: %w", err)
		}
		return nil

	case transport.SignalReject:
		conn := t.lookup(sig.ConnID)
		if conn == nil {
			return nil
		}
		err := sig.Err
		if err == nil {
			err = transport.ErrPeerNotFound
		}
		conn.emitter.Emit(transport.Event{Kind: transport.EventError, Err: err})
		conn.finish(err)
		return nil

	default:
		return fmt.Errorf("unknown signal kind %d", sig.Kind)
	}
}

func (t *Transport) answer(sig transport.Signal) error {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(sig.ConnID, sig.PeerID, true, pc, t.log.WithField("direction", "inbound"))
	conn.onOpen = func() { t.deliver(conn) }
	if err := t.track(conn); err != nil {
		_ = pc.Close()
		return err
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(sig.Payload)}
	if err := pc.SetRemoteDescription(offer); err != nil {
		conn.finish(err)
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		conn.finish(err)
		return fmt.Errorf("failed to create answer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatherTimeout)
	defer cancel()

	sdp, err := t.setLocal(ctx, pc, answer)
	if err != nil {
		conn.finish(err)
		return err
	}

	err = t.signaler.SendSignal(ctx, transport.Signal{
		Kind:    transport.SignalAnswer,
		PeerID:  sig.PeerID,
		ConnID:  sig.ConnID,
		Payload: []byte(sdp),
	})
	if err != nil {
		conn.finish(err)
		return fmt.Errorf("failed to send answer: %w", err)
	}

	conn.log.Debug("Answer sent")
	return nil
}

// setLocal applies desc and waits for ICE gathering so the description
// sent to the peer carries every candidate.
func (t *Transport) setLocal(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("gathering ice candidates: %w", ctx.Err())
	}
	return pc.LocalDescription().SDP, nil
}

func (t *Transport) track(c *connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}
	t.connections[c.id] = c
	c.onFinish = func() { t.untrack(c) }
	return nil
}

func (t *Transport) untrack(c *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connections[c.id] == c {
		delete(t.connections, c.id)
	}
}

func (t *Transport) lookup(id string) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connections[id]
}

func (t *Transport) deliver(c *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		go c.Close()
		return
	}

	select {
	case t.incoming <- c:
	default:
		c.log.Warn("Accept queue full, dropping inbound connection")
		go c.Close()
	}
}
