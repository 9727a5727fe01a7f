package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
	"github.com/schollz/progressbar/v3"
)

// progressView renders transfer sessions as byte progress bars.
type progressView struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func newProgressView(out io.Writer) *progressView {
	return &progressView{out: out}
}

func (v *progressView) update(s transfer.Session) {
	if s.Size == 0 {
		if s.State != transfer.Active {
			fmt.Fprintf(v.out, "%s (empty) %s\n", s.Name, s.State)
		}
		return
	}

	switch s.State {
	case transfer.Active:
		if v.bar == nil {
			v.bar = v.newBar(s)
		}
		_ = v.bar.Set64(s.Transferred)
	case transfer.Done:
		if v.bar == nil {
			v.bar = v.newBar(s)
		}
		_ = v.bar.Set64(s.Size)
		_ = v.bar.Finish()
		v.bar = nil
	default:
		if v.bar != nil {
			_ = v.bar.Exit()
			v.bar = nil
		}
		fmt.Fprintf(v.out, "%s %s: %v\n", s.Name, s.State, s.Err)
	}
}

func (v *progressView) newBar(s transfer.Session) *progressbar.ProgressBar {
	verb := "sending"
	if s.Direction == transfer.Receiving {
		verb = "receiving"
	}

	return progressbar.NewOptions64(s.Size,
		progressbar.OptionSetWriter(v.out),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", verb, s.Name)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(v.out, "\n")
		}),
	)
}
