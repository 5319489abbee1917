package mutation

import (
	"context"
	"fmt"
	"sync"

	"github.com/njoerd114/fuelrelay/internal/model"
)

// --- Mock Writer -------------------------------------------------------------

type fuelWrite struct {
	stationID string
	fuel      model.FuelType
	status    model.FuelStatus
	by        string
}

type mockWriter struct {
	mu sync.Mutex

	err error // returned by every write when set

	subscriptions []*model.Subscription
	deleted       []string // "user/station"
	fuelWrites    []fuelWrite
	notifications []*model.Notification
	profiles      map[string]model.ProfileUpdate
	assigned      []string // "user/station"
	removed       []string // "user/station"
	tokens        []string // "user/token/platform"

	// called runs inside each write, before it is recorded.
	called func()
}

func newMockWriter() *mockWriter {
	return &mockWriter{profiles: make(map[string]model.ProfileUpdate)}
}

func (m *mockWriter) write() error {
	if m.called != nil {
		m.called()
	}
	return m.err
}

func (m *mockWriter) InsertSubscription(_ context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	sub.ID = fmt.Sprintf("sub-%d", len(m.subscriptions)+1)
	m.subscriptions = append(m.subscriptions, sub)
	return nil
}

func (m *mockWriter) DeleteSubscription(_ context.Context, userID, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.deleted = append(m.deleted, userID+"/"+stationID)
	return nil
}

func (m *mockWriter) UpdateFuel(_ context.Context, stationID string, fuel model.FuelType, st model.FuelStatus, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.fuelWrites = append(m.fuelWrites, fuelWrite{stationID, fuel, st, updatedBy})
	return nil
}

func (m *mockWriter) InsertNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	n.ID = fmt.Sprintf("n-%d", len(m.notifications)+1)
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *mockWriter) UpdateProfile(_ context.Context, userID string, upd model.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.profiles[userID] = upd
	return nil
}

func (m *mockWriter) AssignStationManager(_ context.Context, userID, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.assigned = append(m.assigned, userID+"/"+stationID)
	return nil
}

func (m *mockWriter) RemoveStationManager(_ context.Context, userID, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.removed = append(m.removed, userID+"/"+stationID)
	return nil
}

func (m *mockWriter) SavePushToken(_ context.Context, userID, token, platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.tokens = append(m.tokens, userID+"/"+token+"/"+platform)
	return nil
}

func (m *mockWriter) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions) + len(m.deleted) + len(m.fuelWrites) + len(m.notifications) +
		len(m.profiles) + len(m.assigned) + len(m.removed) + len(m.tokens)
}

// --- Mock Announcer ----------------------------------------------------------

type mockAnnouncer struct {
	mu        sync.Mutex
	announced []string
	err       error
}

func (m *mockAnnouncer) Announce(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announced = append(m.announced, n.ID)
	return m.err
}
