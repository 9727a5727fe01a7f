package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession        = errors.New("no transfer in progress")
	ErrInvalidChunkSize = errors.New("invalid chunk size")
	// ErrOversized means a peer sent more bytes than its METADATA announced.
	ErrOversized = errors.New("transfer exceeds announced size")
)

// ShortTransferError means the bytes received when DONE arrived differ from
// the size announced by METADATA. Nothing is persisted.
type ShortTransferError struct {
	Name     string
	Declared int64
	Received int64
}

func (e *ShortTransferError) Error() string {
	return fmt.Sprintf("transfer of %q incomplete: received %d of %d bytes", e.Name, e.Received, e.Declared)
}
