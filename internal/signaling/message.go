// Package signaling is the directory service peers register with and the
// relay that carries their connection offers and answers.
package signaling

import (
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
)

type MessageType string

const (
	MsgRegister   MessageType = "register"
	MsgRegistered MessageType = "registered"
	MsgOffer      MessageType = "offer"
	MsgAnswer     MessageType = "answer"
	MsgError      MessageType = "error"
)

// Error codes carried by MsgError.
const (
	CodeIDTaken           = "id-taken"
	CodePeerNotFound      = "peer-not-found"
	CodeNotRegistered     = "not-registered"
	CodeAlreadyRegistered = "already-registered"
	CodeBadRequest        = "bad-request"
)

// Message is the single JSON shape exchanged over the websocket. From is
// filled in by the server on relayed messages; To is the relay target.
type Message struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	From    string      `json:"from,omitempty"`
	To      string      `json:"to,omitempty"`
	ConnID  string      `json:"conn_id,omitempty"`
	SDP     string      `json:"sdp,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

var ErrServer = errors.New("signaling server error")

// codeError maps an error code to the transport sentinel it stands for.
func codeError(code, msg string) error {
	switch code {
	case CodeIDTaken:
		return transport.ErrIDTaken
	case CodePeerNotFound:
		return transport.ErrPeerNotFound
	default:
		return fmt.Errorf("%w: %s: %s", ErrServer, code, msg)
	}
}

func errorMessage(code, msg string) Message {
	return Message{Type: MsgError, Code: code, Message: msg}
}
