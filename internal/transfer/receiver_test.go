package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	files map[string][]byte
	err   error
}

func (p *memPersister) Persist(_ context.Context, r io.Reader, _ int64, name string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if p.files == nil {
		p.files = make(map[string][]byte)
	}
	p.files[name] = data
	return "/downloads/" + name, nil
}

func newTestReceiver(p Persister, sessions *[]Session) *Receiver {
	return NewReceiver(ReceiverOptions{
		Spool:      memfs.New(),
		Persister:  p,
		OnProgress: func(s Session) { *sessions = append(*sessions, s) },
		Logger:     logger.Discard(),
	})
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	payload := make([]byte, 1_000_000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	w := &frameLog{}
	s := newTestSender(t, Options{})
	require.NoError(t, s.Send(ctx, w, NewSource("big.bin", int64(len(payload)), bytes.NewReader(payload))))

	p := &memPersister{}
	var sessions []Session
	var savedAs string
	r := newTestReceiver(p, &sessions)
	r.onComplete = func(_ Session, path string) { savedAs = path }

	for _, f := range w.frames {
		require.NoError(t, r.Handle(ctx, f))
	}

	assert.Equal(t, payload, p.files["big.bin"])
	assert.Equal(t, "/downloads/big.bin", savedAs)

	var percents []float64
	for _, sess := range sessions {
		percents = append(percents, sess.Percent)
	}
	assert.Equal(t, []float64{0, 52.4, 100, 100}, percents)
	assert.Equal(t, Done, sessions[len(sessions)-1].State)

	_, active := r.Current()
	assert.False(t, active)
}

func TestReceiveEmptyFile(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	var sessions []Session
	r := newTestReceiver(p, &sessions)

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("empty", 0)))
	require.NoError(t, r.Handle(ctx, protocol.NewDone("empty", 0)))

	data, ok := p.files["empty"]
	require.True(t, ok)
	assert.Empty(t, data)
}

func TestReceiveShortTransferIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	var sessions []Session
	r := newTestReceiver(p, &sessions)

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("a.txt", 10)))
	require.NoError(t, r.Handle(ctx, &protocol.Chunk{Data: []byte("abcd")}))
	require.NoError(t, r.Handle(ctx, protocol.NewProgress("a.txt", 10, 40)))

	err := r.Handle(ctx, protocol.NewDone("a.txt", 10))

	var short *ShortTransferError
	require.ErrorAs(t, err, &short)
	assert.EqualValues(t, 10, short.Declared)
	assert.EqualValues(t, 4, short.Received)
	assert.Empty(t, p.files)

	last := sessions[len(sessions)-1]
	assert.Equal(t, Failed, last.State)
	assert.ErrorAs(t, last.Err, &short)
}

func TestReceiveChunkBeforeMetadata(t *testing.T) {
	var sessions []Session
	r := newTestReceiver(&memPersister{}, &sessions)

	err := r.Handle(context.Background(), &protocol.Chunk{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestReceiveDoneForUnknownFile(t *testing.T) {
	ctx := context.Background()
	var sessions []Session
	r := newTestReceiver(&memPersister{}, &sessions)

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("a.txt", 1)))
	err := r.Handle(ctx, protocol.NewDone("b.txt", 1))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestReceiveAbortDiscardsPartialFile(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	var sessions []Session
	r := newTestReceiver(p, &sessions)

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("a.txt", 10)))
	require.NoError(t, r.Handle(ctx, &protocol.Chunk{Data: []byte("abc")}))

	cause := errors.New("channel closed")
	r.Abort(cause)
	r.Abort(cause)

	_, active := r.Current()
	assert.False(t, active)
	assert.Empty(t, p.files)

	last := sessions[len(sessions)-1]
	assert.Equal(t, Aborted, last.State)
	assert.ErrorIs(t, last.Err, cause)
	assert.EqualValues(t, 3, last.Transferred)
}

func TestReceiveNewMetadataSupersedesIncomplete(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	var sessions []Session
	r := newTestReceiver(p, &sessions)

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("old", 10)))
	require.NoError(t, r.Handle(ctx, &protocol.Chunk{Data: []byte("abc")}))

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("new", 2)))
	require.NoError(t, r.Handle(ctx, &protocol.Chunk{Data: []byte("hi")}))
	require.NoError(t, r.Handle(ctx, protocol.NewProgress("new", 2, 100)))
	require.NoError(t, r.Handle(ctx, protocol.NewDone("new", 2)))

	assert.Equal(t, []byte("hi"), p.files["new"])
	_, ok := p.files["old"]
	assert.False(t, ok)
}

func TestReceivePersistFailure(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("disk full")
	var sessions []Session
	r := newTestReceiver(&memPersister{err: diskFull}, &sessions)

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("a", 1)))
	require.NoError(t, r.Handle(ctx, &protocol.Chunk{Data: []byte("a")}))
	err := r.Handle(ctx, protocol.NewDone("a", 1))

	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, Failed, sessions[len(sessions)-1].State)
}

func TestReceiveIgnoresNewConnection(t *testing.T) {
	var sessions []Session
	r := newTestReceiver(&memPersister{}, &sessions)

	assert.NoError(t, r.Handle(context.Background(), &protocol.NewConnection{PeerID: "alice"}))
	assert.Empty(t, sessions)
}

func TestReceiveRejectsBytesBeyondAnnouncedSize(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	var sessions []Session
	r := newTestReceiver(p, &sessions)

	require.NoError(t, r.Handle(ctx, protocol.NewMetadata("a.txt", 4)))
	require.NoError(t, r.Handle(ctx, &protocol.Chunk{Data: []byte("ab")}))

	err := r.Handle(ctx, &protocol.Chunk{Data: make([]byte, 1<<20)})
	require.ErrorIs(t, err, ErrOversized)

	_, active := r.Current()
	assert.False(t, active)

	last := sessions[len(sessions)-1]
	assert.Equal(t, Failed, last.State)
	assert.ErrorIs(t, last.Err, ErrOversized)
	assert.EqualValues(t, 2, last.Transferred)

	err = r.Handle(ctx, &protocol.Chunk{Data: []byte("c")})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, p.files)
}

func TestReceiveCallbacksMayQueryReceiver(t *testing.T) {
	ctx := context.Background()
	var r *Receiver
	var seen []bool
	completed := false
	r = NewReceiver(ReceiverOptions{
		Spool:     memfs.New(),
		Persister: &memPersister{},
		OnProgress: func(Session) {
			_, active := r.Current()
			seen = append(seen, active)
		},
		OnComplete: func(Session, string) {
			_, active := r.Current()
			completed = !active
			r.Abort(errors.New("after done"))
		},
		Logger: logger.Discard(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, r.Handle(ctx, protocol.NewMetadata("a", 1)))
		assert.NoError(t, r.Handle(ctx, &protocol.Chunk{Data: []byte("a")}))
		assert.NoError(t, r.Handle(ctx, protocol.NewProgress("a", 1, 100)))
		assert.NoError(t, r.Handle(ctx, protocol.NewDone("a", 1)))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver callbacks blocked on the receiver")
	}

	assert.Equal(t, []bool{true, true, false}, seen)
	assert.True(t, completed)
}
