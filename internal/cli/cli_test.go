package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func memoryTransports(n *memory.Network) TransportFunc {
	return func(string, *logrus.Logger) transport.Transport {
		return n.Transport()
	}
}

func startReceiver(t *testing.T, n *memory.Network, id, dir string) <-chan error {
	t.Helper()

	a := &app{log: logger.Discard(), newTransport: memoryTransports(n)}
	ready := make(chan struct{})
	errCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		errCh <- a.runReceive(ctx, &syncBuffer{}, receiveOptions{id: id, out: dir, once: true}, func(string) {
			close(ready)
		})
	}()

	select {
	case <-ready:
	case err := <-errCh:
		t.Fatalf("receiver exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for receiver to register")
	}
	return errCh
}

func TestSendAndReceiveFile(t *testing.T) {
	n := memory.NewNetwork()
	srcDir, outDir := t.TempDir(), t.TempDir()

	payload := make([]byte, 1_000_000)
	for i := range payload {
		payload[i] = byte(i % 253)
	}
	src := filepath.Join(srcDir, "big.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	received := startReceiver(t, n, "bob", outDir)

	out := &syncBuffer{}
	root := NewRootCmd(out, memoryTransports(n))
	root.SetArgs([]string{"send", src, "--to", "bob", "--id", "alice", "--pace", "fixed", "--delay", "1ms", "--log-level", "error"})
	require.NoError(t, root.Execute())

	select {
	case err := <-received:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for file to be saved")
	}

	got, err := os.ReadFile(filepath.Join(outDir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSendEmptyFile(t *testing.T) {
	n := memory.NewNetwork()
	srcDir, outDir := t.TempDir(), t.TempDir()

	src := filepath.Join(srcDir, "empty.txt")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	received := startReceiver(t, n, "bob", outDir)

	root := NewRootCmd(&syncBuffer{}, memoryTransports(n))
	root.SetArgs([]string{"send", src, "--to", "bob", "--log-level", "error"})
	require.NoError(t, root.Execute())

	select {
	case err := <-received:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for file to be saved")
	}

	info, err := os.Stat(filepath.Join(outDir, "empty.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestSendToUnknownPeer(t *testing.T) {
	n := memory.NewNetwork()
	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))

	root := NewRootCmd(&syncBuffer{}, memoryTransports(n))
	root.SetArgs([]string{"send", src, "--to", "ghost", "--log-level", "error"})

	err := root.Execute()
	assert.ErrorIs(t, err, transport.ErrPeerNotFound)
}

func TestSendRequiresTarget(t *testing.T) {
	root := NewRootCmd(&syncBuffer{}, memoryTransports(memory.NewNetwork()))
	root.SetArgs([]string{"send", "whatever.txt"})
	assert.Error(t, root.Execute())
}

func TestSendRejectsUnknownPacing(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))

	root := NewRootCmd(&syncBuffer{}, memoryTransports(memory.NewNetwork()))
	root.SetArgs([]string{"send", src, "--to", "bob", "--pace", "turbo"})
	assert.Error(t, root.Execute())
}

func TestEnvFallback(t *testing.T) {
	t.Setenv(envSignal, "ws://example.test/ws")

	root := NewRootCmd(&syncBuffer{}, nil)
	flag := root.PersistentFlags().Lookup("signal")
	require.NotNil(t, flag)
	assert.Equal(t, "ws://example.test/ws", flag.DefValue)
}
