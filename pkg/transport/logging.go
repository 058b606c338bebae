package transport

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// newLogger returns an entry tagged with the transport kind and a fresh instance id
func newLogger(kind Kind) (*log.Entry, string) {
	id := uuid.NewString()[:8]
	return log.WithFields(log.Fields{
		"transport": kind.String(),
		"id":        id,
	}), id
}

// callHandler runs a user callback and logs a recovered panic
func callHandler(entry *log.Entry, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			entry.Warnf("%s handler panicked: %v", name, r)
		}
	}()
	fn()
}
