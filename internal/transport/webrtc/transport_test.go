package webrtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()

	srv, err := signaling.NewServer(signaling.Config{Addr: "127.0.0.1:0", Logger: logger.Discard()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Start(ctx) }()
	t.Cleanup(cancel)

	newTransport := func() *Transport {
		tr := New(Config{
			Signaler:   signaling.NewClient(srv.URL(), logger.Discard()),
			ICEServers: []string{},
			Logger:     logger.Discard(),
		})
		t.Cleanup(func() { _ = tr.Close() })
		return tr
	}
	return newTransport(), newTransport()
}

func waitEvent(t *testing.T, c transport.Conn, kind transport.EventKind) transport.Event {
	t.Helper()
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("Timeout waiting for %s event", kind)
		}
	}
}

func TestLoopbackDataChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping webrtc loopback in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice, bob := setupPair(t)
	_, err := alice.Register(ctx, "alice")
	require.NoError(t, err)
	_, err = bob.Register(ctx, "bob")
	require.NoError(t, err)

	out, err := alice.Dial(ctx, "bob")
	require.NoError(t, err)
	waitEvent(t, out, transport.EventOpen)

	var in transport.Conn
	select {
	case in = <-bob.Accept():
	case <-ctx.Done():
		t.Fatal("Timeout waiting for inbound conn")
	}
	assert.Equal(t, "alice", in.PeerID())
	waitEvent(t, in, transport.EventOpen)

	require.NoError(t, out.SendText(`{"type":"DONE"}`))
	require.NoError(t, out.Send([]byte{1, 2, 3}))

	ev := waitEvent(t, in, transport.EventMessage)
	assert.True(t, ev.IsText)
	assert.Equal(t, `{"type":"DONE"}`, string(ev.Data))

	ev = waitEvent(t, in, transport.EventMessage)
	assert.False(t, ev.IsText)
	assert.Equal(t, []byte{1, 2, 3}, ev.Data)

	_, ok := out.(transport.Drainer)
	assert.True(t, ok, "webrtc conns report their send buffer")

	require.NoError(t, out.Close())
}

func TestDialUnknownPeerIsRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping webrtc dial in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice, _ := setupPair(t)
	_, err := alice.Register(ctx, "alice")
	require.NoError(t, err)

	conn, err := alice.Dial(ctx, "ghost")
	require.NoError(t, err)

	ev := waitEvent(t, conn, transport.EventError)
	assert.True(t, errors.Is(ev.Err, transport.ErrPeerNotFound))
}

func TestRegisterWithoutSignaler(t *testing.T) {
	tr := New(Config{Logger: logger.Discard()})
	_, err := tr.Register(context.Background(), "alice")
	assert.ErrorIs(t, err, transport.ErrUnreachable)
	assert.NoError(t, tr.Close())
}
