// Package transfer moves one file over a channel as METADATA, alternating
// binary chunks and PROGRESS frames, then DONE.
package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/sirupsen/logrus"
)

// FrameWriter is the sending side of a channel.
type FrameWriter interface {
	SendFrame(f protocol.Frame) error
}

type ProgressFunc func(s Session)

type Options struct {
	ChunkSize  int
	Pacing     Pacing
	Delay      time.Duration
	OnProgress ProgressFunc
	Logger     *logrus.Logger
}

type Sender struct {
	chunkSize  int
	pacing     Pacing
	delay      time.Duration
	onProgress ProgressFunc
	log        *logrus.Logger
}

func NewSender(opts Options) (*Sender, error) {
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = protocol.DefaultChunkSize
	}
	if chunkSize < 0 || chunkSize > protocol.MaxChunkSize {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidChunkSize, chunkSize, protocol.MaxChunkSize)
	}

	pacing := opts.Pacing
	if pacing == "" {
		pacing = PaceAuto
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Sender{
		chunkSize:  chunkSize,
		pacing:     pacing,
		delay:      delay,
		onProgress: opts.OnProgress,
		log:        log,
	}, nil
}

// Send streams src over w. Exactly one METADATA and, on success, exactly
// one DONE are sent. A failure stops the session; the error is reported
// once to the progress callback and returned.
func (s *Sender) Send(ctx context.Context, w FrameWriter, src Source) error {
	total := src.Size()
	sess := Session{
		Name:      src.Name(),
		Size:      total,
		Direction: Sending,
		State:     Active,
	}
	log := s.log.WithFields(logrus.Fields{"file": sess.Name, "size": total})

	if err := w.SendFrame(protocol.NewMetadata(sess.Name, total)); err != nil {
		return s.abort(log, sess, fmt.Errorf("sending metadata: %w", err))
	}
	s.report(sess)

	pacer := pacerFor(w, s.pacing, s.delay)
	log.WithField("chunks", TotalChunks(total, s.chunkSize)).Info("Sending file")

	var offset int64
	for offset < total {
		if err := ctx.Err(); err != nil {
			return s.abort(log, sess, err)
		}

		data := make([]byte, ChunkLen(offset, total, s.chunkSize))
		if _, err := io.ReadFull(src, data); err != nil {
			return s.abort(log, sess, fmt.Errorf("reading at offset %d: %w", offset, err))
		}

		if err := pacer.Wait(ctx); err != nil {
			return s.abort(log, sess, err)
		}
		if err := w.SendFrame(&protocol.Chunk{Data: data}); err != nil {
			return s.abort(log, sess, err)
		}

		offset += int64(len(data))
		sess.Transferred = offset
		sess.Percent = Percent(offset, total)

		if err := w.SendFrame(protocol.NewProgress(sess.Name, total, sess.Percent)); err != nil {
			return s.abort(log, sess, err)
		}
		s.report(sess)
	}

	if err := w.SendFrame(protocol.NewDone(sess.Name, total)); err != nil {
		return s.abort(log, sess, fmt.Errorf("sending done: %w", err))
	}

	sess.State = Done
	sess.Percent = 100
	s.report(sess)
	log.Info("File sent")
	return nil
}

func (s *Sender) abort(log *logrus.Entry, sess Session, err error) error {
	sess.State = Aborted
	sess.Err = err
	log.WithField("sent", sess.Transferred).Errorf("Transfer aborted: %v", err)
	s.report(sess)
	return err
}

func (s *Sender) report(sess Session) {
	if s.onProgress != nil {
		s.onProgress(sess)
	}
}
