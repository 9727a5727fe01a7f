package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

// Client is a transport.Signaler speaking to a Server. The websocket is
// dialed on the first Register.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    *logrus.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	replies chan Message
	signals chan transport.Signal
	done    chan struct{}
	once    sync.Once
}

var _ transport.Signaler = (*Client)(nil)

func NewClient(url string, log *logrus.Logger) *Client {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		log:     log,
		replies: make(chan Message, 1),
		signals: make(chan transport.Signal, 32),
		done:    make(chan struct{}),
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil, transport.ErrClosed
	default:
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnreachable, err)
	}
	c.conn = conn
	c.log.WithField("url", c.url).Debug("Connected to signaling server")

	go c.readLoop(conn)
	return conn, nil
}

// Register claims id, or asks for one when id is empty.
func (c *Client) Register(ctx context.Context, id string) (string, error) {
	if _, err := c.connect(ctx); err != nil {
		return "", err
	}
	if err := c.write(Message{Type: MsgRegister, ID: id}); err != nil {
		return "", fmt.Errorf("%w: %v", transport.ErrUnreachable, err)
	}

	select {
	case reply, ok := <-c.replies:
		if !ok {
			return "", fmt.Errorf("%w: connection lost", transport.ErrUnreachable)
		}
		if reply.Type == MsgError {
			return "", codeError(reply.Code, reply.Message)
		}
		return reply.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) SendSignal(_ context.Context, sig transport.Signal) error {
	msg := Message{To: sig.PeerID, ConnID: sig.ConnID, SDP: string(sig.Payload)}
	switch sig.Kind {
	case transport.SignalOffer:
		msg.Type = MsgOffer
	case transport.SignalAnswer:
		msg.Type = MsgAnswer
	default:
		return fmt.Errorf("cannot send signal kind %d", sig.Kind)
	}
	return c.write(msg)
}

// RecvSignal yields relayed offers and answers, and rejections of signals
// this client sent. It is closed when the connection ends.
func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		close(c.done)
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			close(c.signals)
			return
		}

		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (c *Client) write(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.signals)
	defer close(c.replies)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.log.Warnf("Signaling connection lost: %v", err)
				}
			}
			return
		}

		switch msg.Type {
		case MsgRegistered:
			c.reply(msg)
		case MsgOffer:
			c.deliver(transport.Signal{Kind: transport.SignalOffer, PeerID: msg.From, ConnID: msg.ConnID, Payload: []byte(msg.SDP)})
		case MsgAnswer:
			c.deliver(transport.Signal{Kind: transport.SignalAnswer, PeerID: msg.From, ConnID: msg.ConnID, Payload: []byte(msg.SDP)})
		case MsgError:
			if msg.ConnID != "" {
				c.deliver(transport.Signal{Kind: transport.SignalReject, PeerID: msg.To, ConnID: msg.ConnID, Err: codeError(msg.Code, msg.Message)})
				continue
			}
			c.reply(msg)
		default:
			c.log.WithField("type", msg.Type).Debug("Ignoring signaling message")
		}
	}
}

func (c *Client) reply(msg Message) {
	select {
	case c.replies <- msg:
	default:
		c.log.WithFields(logrus.Fields{"type": msg.Type, "code": msg.Code}).Warnf("Unexpected signaling reply: %s", msg.Message)
	}
}

func (c *Client) deliver(sig transport.Signal) {
	select {
	case c.signals <- sig:
	case <-c.done:
	}
}
