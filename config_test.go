package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/rovlink/pkg/session"
	"github.com/tomaslejdung/rovlink/pkg/settings"
	"github.com/tomaslejdung/rovlink/pkg/transport"
)

func parse(t *testing.T, args ...string) (*pflag.FlagSet, flagValues) {
	t.Helper()
	var v flagValues
	fs := pflag.NewFlagSet("rovlink", pflag.ContinueOnError)
	v.register(fs)
	require.NoError(t, fs.Parse(args))
	return fs, v
}

func TestBuildConfigDefaults(t *testing.T) {
	fs, v := parse(t)
	config, err := buildConfig(settings.DefaultSettings(), fs, v)
	require.NoError(t, err)

	assert.Equal(t, session.DefaultOfferURL, config.OfferURL)
	assert.Equal(t, session.DefaultSocketURL, config.SocketURL)
	assert.Equal(t, transport.KindPeer, config.Kind)
	assert.Len(t, config.STUNServers, 3)
	assert.Equal(t, 10*time.Second, config.HandshakeTimeout)
	assert.Equal(t, "info", config.LogLevel)
}

func TestBuildConfigSettingsThenFlags(t *testing.T) {
	s := settings.DefaultSettings()
	s.OfferURL = "http://rov.local:8080/offer_command"
	s.SocketURL = "ws://rov.local:8080/ws"
	s.Kind = "socket"
	s.TURNServer = "turn:turn.example.com:3478"
	s.SocketTimeout = 3

	fs, v := parse(t, "--offer-url", "http://10.0.0.2:8080/offer_command", "--kind", "webrtc", "--timeout", "2s")
	config, err := buildConfig(s, fs, v)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:8080/offer_command", config.OfferURL)
	assert.Equal(t, "ws://rov.local:8080/ws", config.SocketURL)
	assert.Equal(t, transport.KindPeer, config.Kind)
	assert.Equal(t, "turn:turn.example.com:3478", config.TURNServer)
	assert.Equal(t, 2*time.Second, config.HandshakeTimeout)
	assert.Equal(t, 2*time.Second, config.SocketTimeout)
}

func TestBuildConfigRejects(t *testing.T) {
	fs, v := parse(t, "--kind", "carrier-pigeon")
	_, err := buildConfig(settings.DefaultSettings(), fs, v)
	assert.Error(t, err)

	fs, v = parse(t, "--force-relay")
	_, err = buildConfig(settings.DefaultSettings(), fs, v)
	assert.Error(t, err)

	s := settings.DefaultSettings()
	s.Kind = "bogus"
	fs, v = parse(t)
	_, err = buildConfig(s, fs, v)
	assert.Error(t, err)
}

func TestConfigSession(t *testing.T) {
	fs, v := parse(t, "--turn", "turn:turn.example.com:3478", "--turn-user", "rov", "--turn-pass", "secret", "--force-relay", "--loopback")
	config, err := buildConfig(settings.DefaultSettings(), fs, v)
	require.NoError(t, err)

	cfg := config.Session()
	assert.Equal(t, config.OfferURL, cfg.OfferURL)
	assert.True(t, cfg.ICE.ForceRelay)
	assert.Equal(t, "rov", cfg.ICE.TURNUser)
	assert.NotNil(t, cfg.API)
	require.Len(t, cfg.ICE.Servers(), 1)
}

func TestConfigSettingsRoundTrip(t *testing.T) {
	fs, v := parse(t, "--socket-url", "ws://rov.local/ws", "--kind", "socket")
	config, err := buildConfig(settings.DefaultSettings(), fs, v)
	require.NoError(t, err)

	s := config.Settings()
	assert.Equal(t, "ws://rov.local/ws", s.SocketURL)
	assert.Equal(t, "socket", s.Kind)
	assert.Equal(t, 10, s.HandshakeTimeout)

	fs, v = parse(t)
	again, err := buildConfig(s, fs, v)
	require.NoError(t, err)
	assert.Equal(t, config, again)
}
