package sync

import (
	"context"
	"log/slog"

	"github.com/njoerd114/fuelrelay/internal/cache"
	"github.com/njoerd114/fuelrelay/internal/localstore"
	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/query"
)

// Client reads through the query cache. When a refresh fails but older data
// is held, reads return that data together with the error so callers can
// show stale values and a warning. Reads of a disabled query (an empty id)
// return the zero value and no error.
type Client struct {
	Cache    *cache.Cache
	Fetchers query.Fetchers
	// Profiles, when set, mirrors every profile read so it is available
	// offline.
	Profiles *localstore.ProfileStore
	Logger   *slog.Logger
}

func (c *Client) log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func read[T any](ctx context.Context, c *cache.Cache, q cache.Query) (T, error) {
	e, err := c.Fetch(ctx, q)
	v, _ := e.Data.(T)
	return v, err
}

// Stations returns every station.
func (c *Client) Stations(ctx context.Context) ([]model.Station, error) {
	return read[[]model.Station](ctx, c.Cache, c.Fetchers.Stations())
}

// Station returns one station, or nil when it does not exist.
func (c *Client) Station(ctx context.Context, id string) (*model.Station, error) {
	return read[*model.Station](ctx, c.Cache, c.Fetchers.Station(id))
}

// Subscriptions returns the user's subscriptions, newest first.
func (c *Client) Subscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	return read[[]model.Subscription](ctx, c.Cache, c.Fetchers.Subscriptions(userID))
}

// Notifications returns a station's latest notifications, newest first.
func (c *Client) Notifications(ctx context.Context, stationID string) ([]model.Notification, error) {
	return read[[]model.Notification](ctx, c.Cache, c.Fetchers.Notifications(stationID))
}

// ManagedStations returns the stations the user actively manages.
func (c *Client) ManagedStations(ctx context.Context, userID string) ([]model.Station, error) {
	return read[[]model.Station](ctx, c.Cache, c.Fetchers.ManagedStations(userID))
}

// IsSubscribed reports whether the user subscribes to stationID.
func (c *Client) IsSubscribed(ctx context.Context, userID, stationID string) (bool, error) {
	subs, err := c.Subscriptions(ctx, userID)
	return model.ContainsStation(subs, stationID), err
}

// Profile returns the user's profile. A fresh read is mirrored to Profiles;
// when the remote read fails with nothing cached, the mirrored copy of the
// same user is returned alongside the error.
func (c *Client) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	p, err := read[*model.UserProfile](ctx, c.Cache, c.Fetchers.Profile(userID))
	if c.Profiles == nil || userID == "" {
		return p, err
	}

	if err == nil && p != nil {
		if serr := c.Profiles.Save(ctx, p); serr != nil {
			c.log().Warn("mirroring profile locally", "user", userID, "error", serr)
		}
		return p, nil
	}
	if err != nil && p == nil {
		stored, lerr := c.Profiles.Load(ctx)
		if lerr != nil {
			c.log().Warn("loading local profile", "user", userID, "error", lerr)
		}
		if stored != nil && stored.ID == userID {
			c.log().Info("serving profile from local store", "user", userID)
			return stored, err
		}
	}
	return p, err
}
