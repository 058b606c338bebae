package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := DefaultSettings()
	want.OfferURL = "http://rov.local:8080/offer_command"
	want.Kind = "socket"
	want.TURNServer = "turn:turn.example.com:3478"
	want.TURNUser = "rov"
	want.TURNPass = "secret"
	want.ForceRelay = true
	require.NoError(t, Save(want))

	path, err := Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rovlink", "config.json"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rovlink"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rovlink", "config.json"), []byte(`{"socketUrl":"ws://rov.local/ws"}`), 0644))

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://rov.local/ws", got.SocketURL)
	assert.Equal(t, "peer", got.Kind)
	assert.Equal(t, 10, got.HandshakeTimeout)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rovlink"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rovlink", "config.json"), []byte(`{not json`), 0644))

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
}
