package protocol

// Frame is one unit on the wire. The concrete types form a closed set:
// *Metadata, *Progress, *Done, *NewConnection and *Chunk.
type Frame interface {
	Type() FrameType
}

// FileInfo is the payload shared by every file control frame.
type FileInfo struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
}

// Metadata opens a transfer. Progress is always 0.
type Metadata struct {
	FileInfo
}

func (Metadata) Type() FrameType { return TypeMetadata }

// Progress follows every chunk and carries the sender's running percentage.
type Progress struct {
	FileInfo
}

func (Progress) Type() FrameType { return TypeProgress }

// Done closes a transfer. Progress is always 100.
type Done struct {
	FileInfo
}

func (Done) Type() FrameType { return TypeDone }

// NewConnection is raised locally when a remote peer first reaches us. It
// is never sent by a peer.
type NewConnection struct {
	PeerID string
}

func (NewConnection) Type() FrameType { return TypeNewConnection }

// Chunk is a raw slice of file bytes with no envelope.
type Chunk struct {
	Data []byte
}

func (Chunk) Type() FrameType { return TypeChunk }

func NewMetadata(name string, size int64) *Metadata {
	return &Metadata{FileInfo{Name: name, Size: size, Progress: 0}}
}

func NewProgress(name string, size int64, progress float64) *Progress {
	return &Progress{FileInfo{Name: name, Size: size, Progress: progress}}
}

func NewDone(name string, size int64) *Done {
	return &Done{FileInfo{Name: name, Size: size, Progress: 100}}
}
