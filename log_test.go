package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rovlink.log")
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	require.NoError(t, InitLog("debug", path))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	log.Debug("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestInitLogBadLevel(t *testing.T) {
	assert.Error(t, InitLog("loud", ""))
}
