package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/sirupsen/logrus"
)

const spoolDir = ".peerdrop-spool"

// Persister hands a completed file to its final destination and returns
// where it ended up.
type Persister interface {
	Persist(ctx context.Context, r io.Reader, size int64, name string) (string, error)
}

type CompleteFunc func(s Session, savedAs string)

type ReceiverOptions struct {
	// Spool holds chunks until DONE. Defaults to an in-memory filesystem.
	Spool      billy.Filesystem
	Persister  Persister
	OnProgress ProgressFunc
	OnComplete CompleteFunc
	Logger     *logrus.Logger
}

// notice is a callback invocation deferred until mu is released, so
// callbacks may call back into the Receiver.
type notice struct {
	sess     Session
	savedAs  string
	complete bool
}

type incoming struct {
	sess  Session
	spool billy.File
	log   *logrus.Entry
}

// Receiver reassembles files from the frames of one channel.
type Receiver struct {
	spool      billy.Filesystem
	persister  Persister
	onProgress ProgressFunc
	onComplete CompleteFunc
	log        *logrus.Logger

	mu               sync.Mutex
	current          *incoming
	awaitingProgress bool
	pending          []notice
}

func NewReceiver(opts ReceiverOptions) *Receiver {
	spool := opts.Spool
	if spool == nil {
		spool = memfs.New()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Receiver{
		spool:      spool,
		persister:  opts.Persister,
		onProgress: opts.OnProgress,
		onComplete: opts.OnComplete,
		log:        log,
	}
}

// Current reports the session being received, if any.
func (r *Receiver) Current() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return Session{}, false
	}
	return r.current.sess, true
}

// Handle applies one frame. Frames must come from a single channel in
// arrival order.
func (r *Receiver) Handle(ctx context.Context, f protocol.Frame) error {
	r.mu.Lock()
	err := r.apply(ctx, f)
	pending := r.takePending()
	r.mu.Unlock()

	r.dispatch(pending)
	return err
}

func (r *Receiver) apply(ctx context.Context, f protocol.Frame) error {
	switch f := f.(type) {
	case *protocol.NewConnection:
		r.log.WithField("remote", f.PeerID).Debug("Peer connected")
		return nil
	case *protocol.Metadata:
		return r.begin(f.FileInfo)
	case *protocol.Chunk:
		return r.write(f.Data)
	case *protocol.Progress:
		return r.progress(f.FileInfo)
	case *protocol.Done:
		return r.finish(ctx, f.FileInfo)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownFrame, f.Type())
	}
}

// Abort abandons the session in progress, typically because its channel
// closed before DONE. Nothing is persisted.
func (r *Receiver) Abort(reason error) {
	r.mu.Lock()
	if r.current != nil {
		r.current.log.WithField("received", r.current.sess.Transferred).Warnf("Transfer abandoned: %v", reason)
		r.end(Aborted, reason)
	}
	pending := r.takePending()
	r.mu.Unlock()

	r.dispatch(pending)
}

func (r *Receiver) begin(info protocol.FileInfo) error {
	if r.current != nil {
		if r.current.sess.key() == (sessionKey{name: info.Name, size: info.Size}) {
			r.current.log.Warn("Metadata repeated, restarting transfer")
		} else {
			r.current.log.Warn("New metadata before done, abandoning transfer")
		}
		r.end(Aborted, fmt.Errorf("superseded by %q", info.Name))
	}

	if err := r.spool.MkdirAll(spoolDir, 0o755); err != nil {
		return fmt.Errorf("creating spool: %w", err)
	}
	f, err := util.TempFile(r.spool, spoolDir, "recv-")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}

	r.current = &incoming{
		sess: Session{
			Name:      info.Name,
			Size:      info.Size,
			Direction: Receiving,
			State:     Active,
		},
		spool: f,
		log:   r.log.WithFields(logrus.Fields{"file": info.Name, "size": info.Size}),
	}
	r.awaitingProgress = false

	r.current.log.Info("Receiving file")
	r.report(r.current.sess)
	return nil
}

func (r *Receiver) write(data []byte) error {
	if r.current == nil {
		return fmt.Errorf("%w: chunk before metadata", ErrNoSession)
	}
	if r.awaitingProgress {
		r.current.log.Warn("Chunk arrived without a progress frame for the previous one")
	}
	if got := r.current.sess.Transferred + int64(len(data)); got > r.current.sess.Size {
		err := fmt.Errorf("%w: %q announced %d bytes, got at least %d", ErrOversized, r.current.sess.Name, r.current.sess.Size, got)
		r.current.log.Error(err.Error())
		r.end(Failed, err)
		return err
	}

	if _, err := r.current.spool.Write(data); err != nil {
		err = fmt.Errorf("spooling chunk: %w", err)
		r.end(Failed, err)
		return err
	}
	r.current.sess.Transferred += int64(len(data))
	r.awaitingProgress = true
	return nil
}

func (r *Receiver) progress(info protocol.FileInfo) error {
	if r.current == nil || r.current.sess.key() != (sessionKey{name: info.Name, size: info.Size}) {
		return fmt.Errorf("%w: progress for %q", ErrNoSession, info.Name)
	}
	if !r.awaitingProgress {
		r.current.log.Warn("Progress frame without a preceding chunk")
	}
	r.awaitingProgress = false

	r.current.sess.Percent = info.Progress
	r.report(r.current.sess)
	return nil
}

func (r *Receiver) finish(ctx context.Context, info protocol.FileInfo) error {
	if r.current == nil || r.current.sess.key() != (sessionKey{name: info.Name, size: info.Size}) {
		return fmt.Errorf("%w: done for %q", ErrNoSession, info.Name)
	}
	in := r.current

	if in.sess.Transferred != in.sess.Size {
		err := &ShortTransferError{Name: in.sess.Name, Declared: in.sess.Size, Received: in.sess.Transferred}
		in.log.Error(err.Error())
		r.end(Failed, err)
		return err
	}

	path := in.spool.Name()
	if err := in.spool.Close(); err != nil {
		r.end(Failed, err)
		return fmt.Errorf("closing spool: %w", err)
	}

	savedAs, err := r.persist(ctx, path, in.sess)
	if err != nil {
		in.log.Errorf("Saving failed: %v", err)
		r.end(Failed, err)
		return err
	}

	in.sess.State = Done
	in.sess.Percent = 100
	r.current = nil
	r.awaitingProgress = false
	_ = r.spool.Remove(path)

	in.log.WithField("saved", savedAs).Info("File received")
	r.report(in.sess)
	r.pending = append(r.pending, notice{sess: in.sess, savedAs: savedAs, complete: true})
	return nil
}

func (r *Receiver) persist(ctx context.Context, path string, sess Session) (string, error) {
	if r.persister == nil {
		return "", nil
	}

	f, err := r.spool.Open(path)
	if err != nil {
		return "", fmt.Errorf("reopening spool: %w", err)
	}
	defer f.Close()

	return r.persister.Persist(ctx, f, sess.Size, sess.Name)
}

// end must be called with mu held.
func (r *Receiver) end(state SessionState, err error) {
	in := r.current
	r.current = nil
	r.awaitingProgress = false

	path := in.spool.Name()
	_ = in.spool.Close()
	_ = r.spool.Remove(path)

	in.sess.State = state
	in.sess.Err = err
	r.report(in.sess)
}

func (r *Receiver) report(sess Session) {
	r.pending = append(r.pending, notice{sess: sess})
}

func (r *Receiver) takePending() []notice {
	pending := r.pending
	r.pending = nil
	return pending
}

// dispatch runs callbacks without mu held.
func (r *Receiver) dispatch(pending []notice) {
	for _, n := range pending {
		switch {
		case n.complete && r.onComplete != nil:
			r.onComplete(n.sess, n.savedAs)
		case !n.complete && r.onProgress != nil:
			r.onProgress(n.sess)
		}
	}
}
