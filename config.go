package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/tomaslejdung/rovlink/pkg/session"
	"github.com/tomaslejdung/rovlink/pkg/settings"
	"github.com/tomaslejdung/rovlink/pkg/transport"
)

// Config holds runtime configuration
type Config struct {
	OfferURL  string
	SocketURL string
	Kind      transport.Kind

	// ICE configuration
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	Loopback    bool // gather loopback candidates (same-machine testing)

	HandshakeTimeout time.Duration
	ChannelTimeout   time.Duration
	SocketTimeout    time.Duration

	LogLevel string
	LogFile  string
	Port     int
}

// flagValues are the raw command line values; only flags the user set
// override the settings file
type flagValues struct {
	offerURL   string
	socketURL  string
	kind       string
	turnServer string
	turnUser   string
	turnPass   string
	forceRelay bool
	loopback   bool
	timeout    time.Duration
	logLevel   string
	logFile    string
	port       int
}

func (v *flagValues) register(flags *pflag.FlagSet) {
	flags.StringVar(&v.offerURL, "offer-url", "", "signaling endpoint for WebRTC offers (default "+session.DefaultOfferURL+")")
	flags.StringVar(&v.socketURL, "socket-url", "", "WebSocket fallback endpoint (default "+session.DefaultSocketURL+")")
	flags.StringVarP(&v.kind, "kind", "k", "", "preferred transport: peer or socket")

	flags.StringVar(&v.turnServer, "turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	flags.StringVar(&v.turnUser, "turn-user", "", "TURN server username")
	flags.StringVar(&v.turnPass, "turn-pass", "", "TURN server password")
	flags.BoolVar(&v.forceRelay, "force-relay", false, "force TURN relay (disable direct P2P)")
	flags.BoolVar(&v.loopback, "loopback", false, "include loopback ICE candidates")
	flags.DurationVar(&v.timeout, "timeout", 0, "deadline for each connect step (handshake, channel, socket)")

	flags.StringVar(&v.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	flags.StringVar(&v.logFile, "log-file", "", `log file path, or "console" for stderr`)
}

// buildConfig layers the settings file and the flags that were set on top
// of the session defaults
func buildConfig(s settings.UserSettings, flags *pflag.FlagSet, v flagValues) (Config, error) {
	defaults := session.DefaultConfig()
	config := Config{
		OfferURL:         defaults.OfferURL,
		SocketURL:        defaults.SocketURL,
		Kind:             transport.KindPeer,
		STUNServers:      defaults.ICE.STUNServers,
		HandshakeTimeout: defaults.HandshakeTimeout,
		ChannelTimeout:   defaults.ChannelTimeout,
		SocketTimeout:    defaults.SocketTimeout,
		LogLevel:         v.logLevel,
		LogFile:          v.logFile,
		Port:             v.port,
	}

	if s.OfferURL != "" {
		config.OfferURL = s.OfferURL
	}
	if s.SocketURL != "" {
		config.SocketURL = s.SocketURL
	}
	if s.Kind != "" {
		kind, err := transport.ParseKind(s.Kind)
		if err != nil {
			return config, fmt.Errorf("settings: %w", err)
		}
		config.Kind = kind
	}
	if len(s.STUNServers) > 0 {
		config.STUNServers = s.STUNServers
	}
	config.TURNServer = s.TURNServer
	config.TURNUser = s.TURNUser
	config.TURNPass = s.TURNPass
	config.ForceRelay = s.ForceRelay
	if s.HandshakeTimeout > 0 {
		config.HandshakeTimeout = time.Duration(s.HandshakeTimeout) * time.Second
	}
	if s.ChannelTimeout > 0 {
		config.ChannelTimeout = time.Duration(s.ChannelTimeout) * time.Second
	}
	if s.SocketTimeout > 0 {
		config.SocketTimeout = time.Duration(s.SocketTimeout) * time.Second
	}

	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("offer-url") {
		config.OfferURL = v.offerURL
	}
	if changed("socket-url") {
		config.SocketURL = v.socketURL
	}
	if changed("kind") {
		kind, err := transport.ParseKind(v.kind)
		if err != nil {
			return config, err
		}
		config.Kind = kind
	}
	if changed("turn") {
		config.TURNServer = v.turnServer
	}
	if changed("turn-user") {
		config.TURNUser = v.turnUser
	}
	if changed("turn-pass") {
		config.TURNPass = v.turnPass
	}
	if changed("force-relay") {
		config.ForceRelay = v.forceRelay
	}
	if changed("loopback") {
		config.Loopback = v.loopback
	}
	if changed("timeout") {
		config.HandshakeTimeout = v.timeout
		config.ChannelTimeout = v.timeout
		config.SocketTimeout = v.timeout
	}

	if config.ForceRelay && config.TURNServer == "" {
		return config, fmt.Errorf("--force-relay needs a TURN server")
	}
	return config, nil
}

// ICE returns the ICE part of the configuration
func (c Config) ICE() transport.ICEConfig {
	return transport.ICEConfig{
		STUNServers: c.STUNServers,
		TURNServer:  c.TURNServer,
		TURNUser:    c.TURNUser,
		TURNPass:    c.TURNPass,
		ForceRelay:  c.ForceRelay,
	}
}

// Session builds the session configuration. Callbacks are left to the caller.
func (c Config) Session() session.Config {
	cfg := session.DefaultConfig()
	cfg.OfferURL = c.OfferURL
	cfg.SocketURL = c.SocketURL
	cfg.ICE = c.ICE()
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.ChannelTimeout = c.ChannelTimeout
	cfg.SocketTimeout = c.SocketTimeout
	if c.Loopback {
		cfg.API = transport.LoopbackAPI()
	}
	return cfg
}

// Settings returns the persistable part of the configuration
func (c Config) Settings() settings.UserSettings {
	return settings.UserSettings{
		OfferURL:         c.OfferURL,
		SocketURL:        c.SocketURL,
		Kind:             c.Kind.String(),
		STUNServers:      c.STUNServers,
		TURNServer:       c.TURNServer,
		TURNUser:         c.TURNUser,
		TURNPass:         c.TURNPass,
		ForceRelay:       c.ForceRelay,
		HandshakeTimeout: int(c.HandshakeTimeout / time.Second),
		ChannelTimeout:   int(c.ChannelTimeout / time.Second),
		SocketTimeout:    int(c.SocketTimeout / time.Second),
	}
}
