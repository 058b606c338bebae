package transport

import (
	"github.com/pion/webrtc/v3"
)

// ICEConfig holds ICE server configuration for a peer connection.
// An empty config gathers host candidates only, which is enough on a LAN
// but degrades connectivity behind restrictive NATs.
type ICEConfig struct {
	STUNServers []string // tried in order
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool // force TURN relay (no direct P2P)
}

// Servers builds the ordered ICE server list
func (c ICEConfig) Servers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.STUNServers)+1)

	if !c.ForceRelay {
		for _, url := range c.STUNServers {
			servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
		}
	}

	if c.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs: []string{c.TURNServer},
		}
		if c.TURNUser != "" {
			turnServer.Username = c.TURNUser
			turnServer.Credential = c.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, turnServer)
	}

	return servers
}

// Configuration returns the pion configuration for this ICE setup
func (c ICEConfig) Configuration() webrtc.Configuration {
	policy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         c.Servers(),
		ICETransportPolicy: policy,
	}
}

// LoopbackAPI returns a pion API whose agents also gather loopback
// candidates, for peers on the same machine
func LoopbackAPI() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}
