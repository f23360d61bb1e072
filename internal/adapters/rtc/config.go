package rtc

import "github.com/pion/webrtc/v4"

const defaultSTUN = "stun:stun.l.google.com:19302"

type ICEConfig struct {
	STUN     []string
	TURN     []string
	TURNUser string
	TURNPass string
}

// WebRTCConfig turns ICE settings into a pion configuration. With nothing
// configured it falls back to a public STUN server.
func WebRTCConfig(ice ICEConfig) webrtc.Configuration {
	var servers []webrtc.ICEServer
	stun := ice.STUN
	if len(stun) == 0 && len(ice.TURN) == 0 {
		stun = []string{defaultSTUN}
	}
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(ice.TURN) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       ice.TURN,
			Username:   ice.TURNUser,
			Credential: ice.TURNPass,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}
