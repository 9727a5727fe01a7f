package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const eventBuffer = 256

var ErrICEFailed = errors.New("ice connection failed")

// connection is one PeerConnection carrying one data channel.
type connection struct {
	id       string
	peerID   string
	inbound  bool
	pc       *webrtc.PeerConnection
	emitter  *transport.Emitter
	log      *logrus.Entry
	onOpen   func()
	onFinish func()

	mu             sync.Mutex
	dc             *webrtc.DataChannel
	drainThreshold uint64
	drainFunc      func()
	closeOnce      sync.Once
}

func newConnection(id, peerID string, inbound bool, pc *webrtc.PeerConnection, log *logrus.Entry) *connection {
	c := &connection{
		id:      id,
		peerID:  peerID,
		inbound: inbound,
		pc:      pc,
		emitter: transport.NewEmitter(eventBuffer),
		log:     log.WithFields(logrus.Fields{"remote": peerID, "conn": id}),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debugf("Peer connection state changed: %s", s)
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.emitter.Emit(transport.Event{Kind: transport.EventError, Err: ErrICEFailed})
			c.finish(ErrICEFailed)
		case webrtc.PeerConnectionStateClosed:
			c.finish(transport.ErrClosed)
		}
	})

	if inbound {
		pc.OnDataChannel(c.attach)
	}
	return c
}

func (c *connection) createDataChannel() error {
	dc, err := c.pc.CreateDataChannel(channelLabel, DataChannelConfig())
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.attach(dc)
	return nil
}

func (c *connection) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	if c.drainFunc != nil {
		dc.SetBufferedAmountLowThreshold(c.drainThreshold)
		dc.OnBufferedAmountLow(c.drainFunc)
	}
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.log.Debugf("Data channel '%s'-'%d' open", dc.Label(), dc.ID())
		c.emitter.Emit(transport.Event{Kind: transport.EventOpen})
		if c.onOpen != nil {
			c.onOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.emitter.Emit(transport.Event{Kind: transport.EventMessage, Data: msg.Data, IsText: msg.IsString})
	})

	dc.OnError(func(err error) {
		c.log.Errorf("Data channel error: %v", err)
		c.emitter.Emit(transport.Event{Kind: transport.EventError, Err: err})
	})

	dc.OnClose(func() {
		c.log.Debugf("Data channel '%s'-'%d' closed", dc.Label(), dc.ID())
		c.finish(transport.ErrClosed)
	})
}

func (c *connection) PeerID() string {
	return c.peerID
}

func (c *connection) Events() <-chan transport.Event {
	return c.emitter.Events()
}

func (c *connection) Err() error {
	return c.emitter.Err()
}

func (c *connection) openChannel() (*webrtc.DataChannel, error) {
	select {
	case <-c.emitter.Done():
		return nil, transport.ErrClosed
	default:
	}

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil, transport.ErrNotOpen
	}
	return dc, nil
}

func (c *connection) Send(data []byte) error {
	dc, err := c.openChannel()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

func (c *connection) SendText(text string) error {
	dc, err := c.openChannel()
	if err != nil {
		return err
	}
	return dc.SendText(text)
}

func (c *connection) BufferedAmount() uint64 {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return 0
	}
	return dc.BufferedAmount()
}

func (c *connection) OnDrain(threshold uint64, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drainThreshold = threshold
	c.drainFunc = f
	if c.dc != nil {
		c.dc.SetBufferedAmountLowThreshold(threshold)
		c.dc.OnBufferedAmountLow(f)
	}
}

// Close tears down the peer connection. The local stream ends with a nil
// error; the remote side sees its channel close.
func (c *connection) Close() error {
	c.finish(nil)
	return nil
}

// finish ends the event stream and releases the peer connection once.
func (c *connection) finish(err error) {
	c.closeOnce.Do(func() {
		c.emitter.Close(err)
		if c.onFinish != nil {
			c.onFinish()
		}

		// closing from inside a pion callback must not block it
		go func() {
			c.mu.Lock()
			dc := c.dc
			c.mu.Unlock()
			if dc != nil {
				_ = dc.Close()
			}
			if err := c.pc.Close(); err != nil {
				c.log.Debugf("Closing peer connection: %v", err)
			}
		}()
	})
}
