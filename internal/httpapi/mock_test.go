package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/mutation"
)

// --- Mock Reader -------------------------------------------------------------

type mockReader struct {
	stations      []model.Station
	profiles      map[string]*model.UserProfile
	subscriptions map[string][]model.Subscription
	notifications map[string][]model.Notification
	managed       map[string][]model.Station
	// err is returned alongside whatever data is held.
	err error
}

func (m *mockReader) Stations(context.Context) ([]model.Station, error) {
	return m.stations, m.err
}

func (m *mockReader) Station(_ context.Context, id string) (*model.Station, error) {
	for i := range m.stations {
		if m.stations[i].ID == id {
			st := m.stations[i]
			return &st, m.err
		}
	}
	return nil, m.err
}

func (m *mockReader) Notifications(_ context.Context, stationID string) ([]model.Notification, error) {
	return m.notifications[stationID], m.err
}

func (m *mockReader) Profile(_ context.Context, userID string) (*model.UserProfile, error) {
	return m.profiles[userID], m.err
}

func (m *mockReader) Subscriptions(_ context.Context, userID string) ([]model.Subscription, error) {
	return m.subscriptions[userID], m.err
}

func (m *mockReader) ManagedStations(_ context.Context, userID string) ([]model.Station, error) {
	return m.managed[userID], m.err
}

// --- Mock Writer -------------------------------------------------------------

type mockWriter struct {
	mu sync.Mutex

	calls   []string
	actors  []mutation.Actor
	flags   model.SubscriptionFlags
	fuel    model.FuelStatus
	sent    *model.Notification
	profile model.ProfileUpdate
	err     error
}

func (m *mockWriter) record(call string, a *mutation.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if a != nil {
		m.actors = append(m.actors, *a)
	}
	return m.err
}

func (m *mockWriter) Subscribe(_ context.Context, userID, stationID string, flags model.SubscriptionFlags) (*model.Subscription, error) {
	m.flags = flags
	if err := m.record("subscribe "+userID+" "+stationID, nil); err != nil {
		return nil, err
	}
	return &model.Subscription{ID: "sub1", UserID: userID, StationID: stationID}, nil
}

func (m *mockWriter) Unsubscribe(_ context.Context, userID, stationID string) error {
	return m.record("unsubscribe "+userID+" "+stationID, nil)
}

func (m *mockWriter) UpdateFuel(_ context.Context, a mutation.Actor, stationID string, fuel model.FuelType, st model.FuelStatus) (*model.Notification, error) {
	m.fuel = st
	if err := m.record("fuel "+stationID+" "+string(fuel), &a); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *mockWriter) SendNotification(_ context.Context, a mutation.Actor, n *model.Notification) error {
	m.sent = n
	if err := m.record("notify "+n.StationID, &a); err != nil {
		return err
	}
	n.ID = "N1"
	return nil
}

func (m *mockWriter) UpdateProfile(_ context.Context, userID string, upd model.ProfileUpdate) error {
	m.profile = upd
	return m.record("profile "+userID, nil)
}

func (m *mockWriter) AssignStationManager(_ context.Context, a mutation.Actor, userID, stationID string) error {
	return m.record("assign "+userID+" "+stationID, &a)
}

func (m *mockWriter) RemoveStationManager(_ context.Context, a mutation.Actor, userID, stationID string) error {
	return m.record("remove "+userID+" "+stationID, &a)
}

func (m *mockWriter) RegisterPushToken(_ context.Context, userID, token, platform string) error {
	return m.record("token "+userID+" "+token+" "+platform, nil)
}

// --- Mock Directory ----------------------------------------------------------

type mockDirectory struct {
	managed map[string][]string
	stats   model.NotificationStats
	since   time.Time
}

func (m *mockDirectory) ManagedStationIDs(_ context.Context, userID string) ([]string, error) {
	return m.managed[userID], nil
}

func (m *mockDirectory) NotificationStats(_ context.Context, _ string, since time.Time) (model.NotificationStats, error) {
	m.since = since
	return m.stats, nil
}
