package transfer

import (
	"context"
	"fmt"
	"time"
)

// DefaultDelay is the fixed inter-chunk pause used when a channel cannot
// report its send buffer.
const DefaultDelay = 50 * time.Millisecond

// Pacer decides when the next chunk may be sent.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Drainer is a writer that can block until its send buffer has room.
type Drainer interface {
	CanDrain() bool
	WaitDrained(ctx context.Context) error
}

type Pacing string

const (
	PaceAuto  Pacing = "auto"
	PaceDrain Pacing = "drain"
	PaceFixed Pacing = "fixed"
)

func ParsePacing(s string) (Pacing, error) {
	switch p := Pacing(s); p {
	case PaceAuto, PaceDrain, PaceFixed:
		return p, nil
	case "":
		return PaceAuto, nil
	default:
		return "", fmt.Errorf("unknown pacing %q (want auto, drain or fixed)", s)
	}
}

// FixedDelay sleeps a constant duration before every chunk. It stands in
// for flow control on channels without a buffer signal.
type FixedDelay time.Duration

func (d FixedDelay) Wait(ctx context.Context) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(time.Duration(d))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainPacer waits for the channel's buffered amount to fall under its high
// water mark.
type DrainPacer struct {
	Channel Drainer
}

func (p DrainPacer) Wait(ctx context.Context) error {
	return p.Channel.WaitDrained(ctx)
}

func pacerFor(w FrameWriter, pacing Pacing, delay time.Duration) Pacer {
	d, ok := w.(Drainer)
	canDrain := ok && d.CanDrain()

	switch {
	case pacing == PaceFixed:
		return FixedDelay(delay)
	case canDrain:
		return DrainPacer{Channel: d}
	default:
		return FixedDelay(delay)
	}
}
