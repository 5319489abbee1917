package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/cache"
	"github.com/njoerd114/fuelrelay/internal/localstore"
	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/query"
	"github.com/njoerd114/fuelrelay/internal/retry"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestClient(t *testing.T, src *mockSource) (*Client, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.New(cache.Options{
		StaleTime:  time.Minute,
		ExpireTime: time.Hour,
		Retry:      retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Now:        clock.Now,
		Logger:     testLogger,
	})
	return &Client{Cache: c, Fetchers: query.Fetchers{Source: src}, Logger: testLogger}, clock
}

func station(id, name string) model.Station {
	return model.Station{ID: id, Name: name, Latitude: 6.5, Longitude: 3.4}
}

func TestClient_Stations(t *testing.T) {
	src := newMockSource()
	src.stations = []model.Station{station("S1", "Total Ikeja"), station("S2", "Conoil Yaba")}
	c, _ := newTestClient(t, src)
	ctx := context.Background()

	got, err := c.Stations(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("Stations = %v, %v", got, err)
	}
	// Fresh data is served from the cache.
	if _, err := c.Stations(ctx); err != nil || src.calls != 1 {
		t.Errorf("calls = %d, err = %v", src.calls, err)
	}
}

func TestClient_StaleDataWithError(t *testing.T) {
	src := newMockSource()
	src.stations = []model.Station{station("S1", "Total Ikeja")}
	c, clock := newTestClient(t, src)
	ctx := context.Background()

	if _, err := c.Stations(ctx); err != nil {
		t.Fatalf("first read: %v", err)
	}
	clock.now = clock.now.Add(2 * time.Minute)
	src.setErr(apperr.Transient("network", errors.New("offline")))

	got, err := c.Stations(ctx)
	if !apperr.Is(err, apperr.KindTransient) {
		t.Errorf("err = %v, want transient", err)
	}
	if len(got) != 1 || got[0].ID != "S1" {
		t.Errorf("stale data = %v", got)
	}
}

func TestClient_StationMissing(t *testing.T) {
	c, _ := newTestClient(t, newMockSource())
	st, err := c.Station(context.Background(), "S404")
	if st != nil || err != nil {
		t.Errorf("Station(missing) = %v, %v; want nil, nil", st, err)
	}
}

func TestClient_DisabledQueries(t *testing.T) {
	src := newMockSource()
	c, _ := newTestClient(t, src)
	ctx := context.Background()

	if p, err := c.Profile(ctx, ""); p != nil || err != nil {
		t.Errorf("Profile(\"\") = %v, %v", p, err)
	}
	if subs, err := c.Subscriptions(ctx, ""); subs != nil || err != nil {
		t.Errorf("Subscriptions(\"\") = %v, %v", subs, err)
	}
	if src.calls != 0 {
		t.Errorf("calls = %d, want 0", src.calls)
	}
}

func TestClient_IsSubscribed(t *testing.T) {
	src := newMockSource()
	src.subscriptions["U1"] = []model.Subscription{{ID: "sub1", UserID: "U1", StationID: "S2"}}
	c, _ := newTestClient(t, src)
	ctx := context.Background()

	tests := []struct {
		station string
		want    bool
	}{
		{"S2", true},
		{"S1", false},
	}
	for _, tt := range tests {
		got, err := c.IsSubscribed(ctx, "U1", tt.station)
		if err != nil || got != tt.want {
			t.Errorf("IsSubscribed(%s) = %v, %v; want %v", tt.station, got, err, tt.want)
		}
	}
}

func TestClient_NotificationsAndManaged(t *testing.T) {
	src := newMockSource()
	src.notifications["S1"] = []model.Notification{
		{ID: "N2", StationID: "S1", Title: "t", Message: "m", NotificationType: model.NotificationGeneral},
		{ID: "N1", StationID: "S1", Title: "t", Message: "m", NotificationType: model.NotificationGeneral},
	}
	src.managed["M1"] = []model.Station{station("S1", "Total Ikeja")}
	c, _ := newTestClient(t, src)
	ctx := context.Background()

	ns, err := c.Notifications(ctx, "S1")
	if err != nil || len(ns) != 2 || ns[0].ID != "N2" {
		t.Errorf("Notifications = %v, %v", ns, err)
	}
	managed, err := c.ManagedStations(ctx, "M1")
	if err != nil || len(managed) != 1 {
		t.Errorf("ManagedStations = %v, %v", managed, err)
	}
}

func TestClient_ProfileMirroredAndServedOffline(t *testing.T) {
	kv, err := localstore.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	profiles := &localstore.ProfileStore{KV: kv}

	src := newMockSource()
	src.profiles["U1"] = &model.UserProfile{ID: "U1", FullName: "Ada Obi", Email: "ada@example.com", Role: model.RoleUser}

	online, _ := newTestClient(t, src)
	online.Profiles = profiles
	if _, err := online.Profile(context.Background(), "U1"); err != nil {
		t.Fatalf("online Profile: %v", err)
	}
	stored, _ := profiles.Load(context.Background())
	if stored == nil || stored.FullName != "Ada Obi" {
		t.Fatalf("mirrored profile = %+v", stored)
	}

	// A fresh client with an empty cache and an unreachable backend.
	src.setErr(apperr.Transient("network", errors.New("offline")))
	offline, _ := newTestClient(t, src)
	offline.Profiles = profiles

	p, err := offline.Profile(context.Background(), "U1")
	if err == nil {
		t.Error("expected the remote error alongside the local copy")
	}
	if p == nil || p.FullName != "Ada Obi" {
		t.Errorf("offline profile = %+v", p)
	}

	// The local copy belongs to U1 only.
	if p, _ := offline.Profile(context.Background(), "U2"); p != nil {
		t.Errorf("U2 got %+v", p)
	}
}
