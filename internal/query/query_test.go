package query

import (
	"context"
	"errors"
	"testing"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/cache"
	"github.com/njoerd114/fuelrelay/internal/model"
)

// --- Mock Source ---------------------------------------------------------------

type mockSource struct {
	stations      []model.Station
	profiles      map[string]*model.UserProfile
	subscriptions map[string][]model.Subscription
	notifications map[string][]model.Notification
	managed       map[string][]model.Station
	err           error

	calls     int
	lastLimit int
}

func (m *mockSource) ListStations(context.Context) ([]model.Station, error) {
	m.calls++
	return m.stations, m.err
}

func (m *mockSource) GetStation(_ context.Context, id string) (*model.Station, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.stations {
		if m.stations[i].ID == id {
			return &m.stations[i], nil
		}
	}
	return nil, apperr.NotFound("station " + id)
}

func (m *mockSource) GetProfile(_ context.Context, userID string) (*model.UserProfile, error) {
	m.calls++
	if p, ok := m.profiles[userID]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("profile " + userID)
}

func (m *mockSource) ListSubscriptions(_ context.Context, userID string) ([]model.Subscription, error) {
	m.calls++
	return m.subscriptions[userID], m.err
}

func (m *mockSource) ListNotifications(_ context.Context, stationID string, limit int) ([]model.Notification, error) {
	m.calls++
	m.lastLimit = limit
	return m.notifications[stationID], m.err
}

func (m *mockSource) ListManagedStations(_ context.Context, userID string) ([]model.Station, error) {
	m.calls++
	return m.managed[userID], m.err
}

// --- Tests ---------------------------------------------------------------------

func TestKeys(t *testing.T) {
	tests := []struct {
		key  cache.Key
		want string
	}{
		{StationsKey(), "stations"},
		{StationKey("S1"), "station:S1"},
		{ProfileKey("U1"), "user-profile:U1"},
		{SubscriptionsKey("U1"), "user-subscriptions:U1"},
		{NotificationsKey("S1"), "notifications:S1"},
		{ManagedStationsKey("U1"), "managed-stations:U1"},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("key = %q, want %q", got, tt.want)
		}
	}
}

func TestFetchers_Enabled(t *testing.T) {
	f := Fetchers{Source: &mockSource{}}
	if !f.Stations().Enabled {
		t.Error("stations query should always be enabled")
	}
	for name, q := range map[string]cache.Query{
		"station":       f.Station(""),
		"profile":       f.Profile(""),
		"subscriptions": f.Subscriptions(""),
		"notifications": f.Notifications(""),
		"managed":       f.ManagedStations(""),
	} {
		if q.Enabled {
			t.Errorf("%s query enabled without an id", name)
		}
	}
	if !f.Profile("U1").Enabled {
		t.Error("profile query should be enabled with a user")
	}
}

func TestStations_OneReadAndValidates(t *testing.T) {
	src := &mockSource{stations: []model.Station{
		{ID: "S1", Name: "NNPC Mega", Latitude: 9.05, Longitude: 7.49},
	}}
	f := Fetchers{Source: src}

	data, err := f.Stations().Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("remote calls = %d, want 1", src.calls)
	}
	if got := data.([]model.Station); len(got) != 1 || got[0].ID != "S1" {
		t.Errorf("data = %+v", got)
	}
}

func TestStations_SchemaMismatchIsTransient(t *testing.T) {
	src := &mockSource{stations: []model.Station{{ID: "S1", Name: ""}}}
	_, err := Fetchers{Source: src}.Stations().Fetch(context.Background())
	if err == nil {
		t.Fatal("expected schema error")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindTransient || ae.Code != apperr.CodeSchema {
		t.Errorf("err = %v, want transient schema error", err)
	}
}

func TestStation_NotFoundPassesThrough(t *testing.T) {
	_, err := Fetchers{Source: &mockSource{}}.Station("missing").Fetch(context.Background())
	if !apperr.IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
}

func TestNotifications_UsesLimit(t *testing.T) {
	src := &mockSource{notifications: map[string][]model.Notification{
		"S1": {{ID: "N1", StationID: "S1", Title: "t", Message: "m", NotificationType: model.NotificationGeneral}},
	}}
	data, err := Fetchers{Source: src}.Notifications("S1").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if src.lastLimit != NotificationLimit {
		t.Errorf("limit = %d, want %d", src.lastLimit, NotificationLimit)
	}
	if got := data.([]model.Notification); len(got) != 1 {
		t.Errorf("got %d notifications", len(got))
	}
}

func TestSubscriptions_RemoteErrorWrapped(t *testing.T) {
	sentinel := apperr.Auth("jwt expired")
	src := &mockSource{err: sentinel}
	_, err := Fetchers{Source: src}.Subscriptions("U1").Fetch(context.Background())
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel in chain", err)
	}
}

func TestProfile_ThroughCache(t *testing.T) {
	src := &mockSource{profiles: map[string]*model.UserProfile{
		"U1": {ID: "U1", FullName: "Chidi", Role: model.RoleUser},
	}}
	c := cache.New(cache.Options{})
	f := Fetchers{Source: src}

	e, err := c.Fetch(context.Background(), f.Profile("U1"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p := e.Data.(*model.UserProfile); p.FullName != "Chidi" {
		t.Errorf("profile = %+v", p)
	}

	e, err = c.Fetch(context.Background(), f.Profile("U2"))
	if err != nil || e.Data != nil || e.Status != cache.StatusSuccess {
		t.Errorf("absent profile = %+v, %v", e, err)
	}
}
