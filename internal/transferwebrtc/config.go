package transferwebrtc

import (
	"github.com/pion/webrtc/v4"
)

// ChannelLabel is the label of the data channel carrying frames.
const ChannelLabel = "dcfile"

// PeerConnectionConfig returns a WebRTC configuration with the given STUN servers.
func PeerConnectionConfig(stunServers []string) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if len(stunServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: stunServers,
		})
	}
	return webrtc.Configuration{
		ICEServers: iceServers,
	}
}

// DefaultSettingEngine returns the SettingEngine used for frame channels.
// Channels are not detached: frames arrive through OnMessage, one message
// per frame.
func DefaultSettingEngine() webrtc.SettingEngine {
	return webrtc.SettingEngine{}
}

// NewPeerConnection creates a new PeerConnection with default settings.
func NewPeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, error) {
	api := webrtc.NewAPI(webrtc.WithSettingEngine(DefaultSettingEngine()))
	return api.NewPeerConnection(config)
}

// channelInit returns the options for the frame data channel: reliable and
// ordered, so frames arrive exactly once and in send order.
func channelInit() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered: &ordered,
	}
}
