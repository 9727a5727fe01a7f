package transfer

type Direction int

const (
	Sending Direction = iota
	Receiving
)

func (d Direction) String() string {
	if d == Sending {
		return "send"
	}
	return "receive"
}

type SessionState int

const (
	Active SessionState = iota
	Done
	Failed
	Aborted
)

func (s SessionState) String() string {
	switch s {
	case Active:
		return "active"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Session is the in-memory state of one file moving in one direction.
// Callbacks receive copies.
type Session struct {
	Name        string
	Size        int64
	Transferred int64
	Percent     float64
	Direction   Direction
	State       SessionState
	Err         error
}

func (s Session) key() sessionKey {
	return sessionKey{name: s.Name, size: s.Size}
}

type sessionKey struct {
	name string
	size int64
}
