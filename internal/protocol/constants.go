package protocol

const (
	// DefaultChunkSize is the slice length used to segment a file (512 KiB).
	DefaultChunkSize = 512 * 1024
	// MaxChunkSize bounds what a sender may configure; larger messages are
	// rejected by most SCTP stacks.
	MaxChunkSize = 1024 * 1024
)

type FrameType string

const (
	TypeChunk         FrameType = "CHUNK"
	TypeDone          FrameType = "DONE"
	TypeMetadata      FrameType = "METADATA"
	TypeNewConnection FrameType = "NEW_CONNECTION"
	TypeProgress      FrameType = "PROGRESS"
)

func (t FrameType) String() string {
	switch t {
	case TypeChunk, TypeDone, TypeMetadata, TypeNewConnection, TypeProgress:
		return string(t)
	default:
		return "UNKNOWN"
	}
}

// IsControl reports whether frames of this type travel as JSON text.
func (t FrameType) IsControl() bool {
	return t != TypeChunk
}
