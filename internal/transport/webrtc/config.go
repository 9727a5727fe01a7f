package webrtc

import (
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	channelLabel = "data"
	protocolName = "file-transfer"
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

type Config struct {
	Signaler transport.Signaler
	// ICEServers defaults to DefaultSTUNServers when nil. An empty,
	// non-nil slice gathers host candidates only.
	ICEServers []string
	Logger     *logrus.Logger
}

func PeerConnectionConfig(servers []string) webrtc.Configuration {
	if servers == nil {
		servers = DefaultSTUNServers
	}

	cfg := webrtc.Configuration{
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	if len(servers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}
	return cfg
}

// DataChannelConfig is an ordered channel with unlimited retransmits.
func DataChannelConfig() *webrtc.DataChannelInit {
	name := protocolName
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &name,
	}
}

const gatherTimeout = 30 * time.Second
