package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/transport"
)

// DefaultBackOff is the retry policy Reconnect uses when given none
func DefaultBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          1.5,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// Reconnect calls Create until it returns a handle, sleeping between tries
// as b dictates. Every try builds new transports; a closed or failed one is
// never reused. It gives up when b stops or ctx ends.
func Reconnect(ctx context.Context, cfg Config, kind transport.Kind, b backoff.BackOff) (transport.Handle, error) {
	if b == nil {
		b = DefaultBackOff()
	}
	b.Reset()

	kind, err := transport.ParseKind(string(kind))
	if err != nil {
		return nil, err
	}

	var handle transport.Handle
	operation := func() error {
		h, err := Create(ctx, cfg, kind)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warnf("session failed, retrying in %v: %v", next, err)
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}
