package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/remote"
)

const pgPingInterval = 90 * time.Second

// PGFeed listens for the insert trigger's NOTIFY on a dedicated Postgres
// connection. Reconnection is left to the [Bridge]: a lost connection ends
// the stream.
type PGFeed struct {
	DSN string
	// Channel defaults to [remote.NotifyChannel].
	Channel string
}

// Connect opens a listener and blocks until LISTEN is acknowledged, the first
// connection attempt fails or ctx is done.
func (f *PGFeed) Connect(ctx context.Context) (Stream, error) {
	channel := f.Channel
	if channel == "" {
		channel = remote.NotifyChannel
	}

	s := &pgStream{
		events: make(chan model.Notification, 32),
		errs:   make(chan error, 8),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	var listening atomic.Bool
	attemptFailed := make(chan error, 1)

	l := pq.NewListener(f.DSN, time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			if !listening.Load() {
				select {
				case attemptFailed <- err:
				default:
				}
			}
		case pq.ListenerEventDisconnected:
			s.markLost()
		}
	})

	listened := make(chan error, 1)
	go func() { listened <- l.Listen(channel) }()

	select {
	case err := <-listened:
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("listen on %s: %w", channel, err)
		}
	case err := <-attemptFailed:
		_ = l.Close()
		return nil, fmt.Errorf("connect listener: %w", err)
	case <-ctx.Done():
		_ = l.Close()
		return nil, ctx.Err()
	}
	listening.Store(true)

	go s.forward(l)
	return s, nil
}

type pgStream struct {
	events chan model.Notification
	errs   chan error

	done      chan struct{}
	closeOnce sync.Once
	lost      chan struct{}
	lostOnce  sync.Once
}

func (s *pgStream) Events() <-chan model.Notification { return s.events }
func (s *pgStream) Errors() <-chan error              { return s.errs }

func (s *pgStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *pgStream) markLost() {
	s.lostOnce.Do(func() { close(s.lost) })
}

func (s *pgStream) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *pgStream) forward(l *pq.Listener) {
	defer close(s.events)
	defer func() { _ = l.Close() }()

	ping := time.NewTicker(pgPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.lost:
			return
		case <-ping.C:
			if err := l.Ping(); err != nil {
				s.report(fmt.Errorf("listener ping: %w", err))
			}
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after it silently reconnected; events may
				// have been missed, so end the stream.
				return
			}
			ev, err := DecodeNotification([]byte(n.Extra))
			if err != nil {
				s.report(err)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}
