package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownFrame = errors.New("unknown frame type")
	ErrEmptyFrame   = errors.New("empty frame")
)

type envelope struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Codec maps frames to data channel messages. Control frames become JSON
// text messages, chunks become binary messages carrying the bytes as is.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Encode returns the message payload and whether it must be sent as text.
func (c *Codec) Encode(f Frame) ([]byte, bool, error) {
	if f == nil {
		return nil, false, ErrEmptyFrame
	}

	var payload any
	switch m := f.(type) {
	case *Chunk:
		return m.Data, false, nil
	case *Metadata:
		payload = m.FileInfo
	case *Progress:
		payload = m.FileInfo
	case *Done:
		payload = m.FileInfo
	case *NewConnection:
		payload = m.PeerID
	default:
		return nil, false, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encoding %s data: %w", f.Type(), err)
	}

	out, err := json.Marshal(envelope{Type: f.Type(), Data: data})
	if err != nil {
		return nil, false, fmt.Errorf("encoding %s frame: %w", f.Type(), err)
	}
	return out, true, nil
}

// Decode turns a received message back into a frame. Binary messages are
// always chunks; the receiver knows which file they belong to from the
// preceding metadata frame.
func (c *Codec) Decode(data []byte, isText bool) (Frame, error) {
	if !isText {
		buf := make([]byte, len(data))
		copy(buf, data)
		return &Chunk{Data: buf}, nil
	}

	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding control frame: %w", err)
	}

	switch env.Type {
	case TypeMetadata:
		m := &Metadata{}
		if err := c.decodeInfo(env, &m.FileInfo); err != nil {
			return nil, err
		}
		return m, nil
	case TypeProgress:
		m := &Progress{}
		if err := c.decodeInfo(env, &m.FileInfo); err != nil {
			return nil, err
		}
		return m, nil
	case TypeDone:
		m := &Done{}
		if err := c.decodeInfo(env, &m.FileInfo); err != nil {
			return nil, err
		}
		return m, nil
	case TypeNewConnection:
		m := &NewConnection{}
		if err := json.Unmarshal(env.Data, &m.PeerID); err != nil {
			return nil, fmt.Errorf("decoding %s data: %w", env.Type, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, string(env.Type))
	}
}

func (c *Codec) decodeInfo(env envelope, info *FileInfo) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decoding %s data: %w", env.Type, ErrEmptyFrame)
	}
	if err := json.Unmarshal(env.Data, info); err != nil {
		return fmt.Errorf("decoding %s data: %w", env.Type, err)
	}
	return nil
}
