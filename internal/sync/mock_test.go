package sync

import (
	"context"
	"sync"
	"time"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/model"
)

// --- Mock Source -------------------------------------------------------------

type mockSource struct {
	mu sync.Mutex

	stations      []model.Station
	profiles      map[string]*model.UserProfile
	subscriptions map[string][]model.Subscription
	notifications map[string][]model.Notification
	managed       map[string][]model.Station
	err           error
	calls         int
}

func newMockSource() *mockSource {
	return &mockSource{
		profiles:      make(map[string]*model.UserProfile),
		subscriptions: make(map[string][]model.Subscription),
		notifications: make(map[string][]model.Notification),
		managed:       make(map[string][]model.Station),
	}
}

func (m *mockSource) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockSource) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *mockSource) ListStations(context.Context) ([]model.Station, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	return m.stations, nil
}

func (m *mockSource) GetStation(_ context.Context, id string) (*model.Station, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	for i := range m.stations {
		if m.stations[i].ID == id {
			st := m.stations[i]
			return &st, nil
		}
	}
	return nil, apperr.NotFound("station " + id)
}

func (m *mockSource) GetProfile(_ context.Context, userID string) (*model.UserProfile, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("profile " + userID)
	}
	return p, nil
}

func (m *mockSource) ListSubscriptions(_ context.Context, userID string) ([]model.Subscription, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	return m.subscriptions[userID], nil
}

func (m *mockSource) ListNotifications(_ context.Context, stationID string, limit int) ([]model.Notification, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	ns := m.notifications[stationID]
	return ns[:min(limit, len(ns))], nil
}

func (m *mockSource) ListManagedStations(_ context.Context, userID string) ([]model.Station, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	return m.managed[userID], nil
}

// --- Mock Pruner -------------------------------------------------------------

type mockPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	pruned  int64
	err     error
}

func (m *mockPruner) PruneNotifications(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.pruned, m.err
}

func (m *mockPruner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cutoffs)
}

// --- Mock Sweeper ------------------------------------------------------------

type mockSweeper struct {
	mu      sync.Mutex
	sweeps  int
	evicted int
}

func (m *mockSweeper) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	return m.evicted
}

func (m *mockSweeper) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweeps
}

// --- Mock Bridge -------------------------------------------------------------

type mockBridge struct {
	started chan struct{}
}

func (m *mockBridge) Run(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return ctx.Err()
}
