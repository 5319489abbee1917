package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/push"
)

// --- Fake Feed ---------------------------------------------------------------

type fakeStream struct {
	events chan model.Notification
	errs   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan model.Notification, 16),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan model.Notification { return s.events }
func (s *fakeStream) Errors() <-chan error              { return s.errs }
func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeFeed fails the first failures connects, then hands out streams that
// tests drive through the streams channel.
type fakeFeed struct {
	mu       sync.Mutex
	failures int
	attempts int
	streams  chan *fakeStream
}

func newFakeFeed(failures int) *fakeFeed {
	return &fakeFeed{failures: failures, streams: make(chan *fakeStream, 4)}
}

func (f *fakeFeed) Connect(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := newFakeStream()
	f.streams <- s
	return s, nil
}

func (f *fakeFeed) connectAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// flappingFeed hands out streams that have already ended, optionally after
// one buffered event.
type flappingFeed struct {
	mu        sync.Mutex
	connects  int
	withEvent bool
}

func (f *flappingFeed) Connect(context.Context) (Stream, error) {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()

	s := newFakeStream()
	if f.withEvent {
		s.events <- model.Notification{ID: "N1", StationID: "S1"}
	}
	close(s.events)
	return s, nil
}

func (f *flappingFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// --- Mock Resolver -----------------------------------------------------------

type mockResolver struct {
	tokens map[string][]string
	err    error
}

func (m *mockResolver) ActiveTokensForStation(_ context.Context, stationID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tokens[stationID], nil
}

// --- Mock Sender -------------------------------------------------------------

type mockSender struct {
	mu      sync.Mutex
	batches [][]push.Message
	failOn  map[int]bool // 1-based batch numbers that fail
	sent    chan struct{}
}

func newMockSender() *mockSender {
	return &mockSender{failOn: map[int]bool{}, sent: make(chan struct{}, 64)}
}

func (m *mockSender) Send(_ context.Context, msgs []push.Message) ([]push.Ticket, error) {
	m.mu.Lock()
	m.batches = append(m.batches, msgs)
	n := len(m.batches)
	m.mu.Unlock()
	defer func() { m.sent <- struct{}{} }()

	if m.failOn[n] {
		return nil, errors.New("expo unavailable")
	}
	tickets := make([]push.Ticket, len(msgs))
	for i := range tickets {
		tickets[i] = push.Ticket{Status: "ok"}
	}
	return tickets, nil
}

func (m *mockSender) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
