// Package query defines the cache key schema and one fetch function per
// remote resource. Fetch functions perform exactly one read, validate the
// returned rows, and hold no caching logic of their own.
package query

import (
	"context"
	"fmt"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/cache"
	"github.com/njoerd114/fuelrelay/internal/model"
)

// Key roots.
const (
	rootStations        = "stations"
	rootStation         = "station"
	rootProfile         = "user-profile"
	rootSubscriptions   = "user-subscriptions"
	rootNotifications   = "notifications"
	rootManagedStations = "managed-stations"
)

// NotificationLimit is the number of notifications fetched per station.
const NotificationLimit = 20

// StationsKey identifies the full station list.
func StationsKey() cache.Key { return cache.Key{rootStations} }

// StationKey identifies a single station.
func StationKey(id string) cache.Key { return cache.Key{rootStation, id} }

// ProfileKey identifies a user's profile.
func ProfileKey(userID string) cache.Key { return cache.Key{rootProfile, userID} }

// SubscriptionsKey identifies a user's subscriptions.
func SubscriptionsKey(userID string) cache.Key { return cache.Key{rootSubscriptions, userID} }

// NotificationsKey identifies a station's recent notifications.
func NotificationsKey(stationID string) cache.Key { return cache.Key{rootNotifications, stationID} }

// ManagedStationsKey identifies the stations a manager is assigned to.
func ManagedStationsKey(userID string) cache.Key { return cache.Key{rootManagedStations, userID} }

// Source is the read side of the remote data source.
// Implemented by [remote.Store].
type Source interface {
	ListStations(ctx context.Context) ([]model.Station, error)
	GetStation(ctx context.Context, id string) (*model.Station, error)
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	ListNotifications(ctx context.Context, stationID string, limit int) ([]model.Notification, error)
	ListManagedStations(ctx context.Context, userID string) ([]model.Station, error)
}

// Fetchers builds cache queries backed by a Source.
type Fetchers struct {
	Source Source
}

// Stations returns the query for every station.
func (f Fetchers) Stations() cache.Query {
	return cache.Query{
		Key:     StationsKey(),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			stations, err := f.Source.ListStations(ctx)
			if err != nil {
				return nil, fmt.Errorf("fetching stations: %w", err)
			}
			for i := range stations {
				if err := stations[i].Validate(); err != nil {
					return nil, schemaError(err)
				}
			}
			return stations, nil
		},
	}
}

// Station returns the query for one station. A missing station is cached
// as nil.
func (f Fetchers) Station(id string) cache.Query {
	return cache.Query{
		Key:     StationKey(id),
		Enabled: id != "",
		Fetch: func(ctx context.Context) (any, error) {
			st, err := f.Source.GetStation(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("fetching station %s: %w", id, err)
			}
			if err := st.Validate(); err != nil {
				return nil, schemaError(err)
			}
			return st, nil
		},
	}
}

// Profile returns the query for a user's profile. It stays disabled until a
// user is known.
func (f Fetchers) Profile(userID string) cache.Query {
	return cache.Query{
		Key:     ProfileKey(userID),
		Enabled: userID != "",
		Fetch: func(ctx context.Context) (any, error) {
			p, err := f.Source.GetProfile(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("fetching profile %s: %w", userID, err)
			}
			if err := p.Validate(); err != nil {
				return nil, schemaError(err)
			}
			return p, nil
		},
	}
}

// Subscriptions returns the query for a user's subscriptions, each carrying
// the station's name and address.
func (f Fetchers) Subscriptions(userID string) cache.Query {
	return cache.Query{
		Key:     SubscriptionsKey(userID),
		Enabled: userID != "",
		Fetch: func(ctx context.Context) (any, error) {
			subs, err := f.Source.ListSubscriptions(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("fetching subscriptions for %s: %w", userID, err)
			}
			for i := range subs {
				if err := subs[i].Validate(); err != nil {
					return nil, schemaError(err)
				}
			}
			return subs, nil
		},
	}
}

// Notifications returns the query for a station's latest notifications,
// newest first.
func (f Fetchers) Notifications(stationID string) cache.Query {
	return cache.Query{
		Key:     NotificationsKey(stationID),
		Enabled: stationID != "",
		Fetch: func(ctx context.Context) (any, error) {
			ns, err := f.Source.ListNotifications(ctx, stationID, NotificationLimit)
			if err != nil {
				return nil, fmt.Errorf("fetching notifications for %s: %w", stationID, err)
			}
			for i := range ns {
				if err := ns[i].Validate(); err != nil {
					return nil, schemaError(err)
				}
			}
			return ns, nil
		},
	}
}

// ManagedStations returns the query for the stations a manager is actively
// assigned to.
func (f Fetchers) ManagedStations(userID string) cache.Query {
	return cache.Query{
		Key:     ManagedStationsKey(userID),
		Enabled: userID != "",
		Fetch: func(ctx context.Context) (any, error) {
			stations, err := f.Source.ListManagedStations(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("fetching managed stations for %s: %w", userID, err)
			}
			for i := range stations {
				if err := stations[i].Validate(); err != nil {
					return nil, schemaError(err)
				}
			}
			return stations, nil
		},
	}
}

func schemaError(err error) error {
	return apperr.Transient(apperr.CodeSchema, fmt.Errorf("unexpected row shape: %w", err))
}
