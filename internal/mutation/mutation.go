// Package mutation implements the write operations of fuelrelay. Each
// mutation validates its input, writes through the remote store and, only
// once the write is acknowledged, invalidates the cache keys it declares.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/njoerd114/fuelrelay/internal/access"
	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/cache"
	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/query"
)

// Writer is the write side of the remote data source.
// Implemented by [remote.Store].
type Writer interface {
	InsertSubscription(ctx context.Context, sub *model.Subscription) error
	DeleteSubscription(ctx context.Context, userID, stationID string) error
	UpdateFuel(ctx context.Context, stationID string, fuel model.FuelType, st model.FuelStatus, updatedBy string) error
	InsertNotification(ctx context.Context, n *model.Notification) error
	UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) error
	AssignStationManager(ctx context.Context, userID, stationID string) error
	RemoveStationManager(ctx context.Context, userID, stationID string) error
	SavePushToken(ctx context.Context, userID, token, platform string) error
}

// Announcer forwards an inserted notification to a message broker so a
// broker-fed realtime bridge sees it.
// Implemented by [realtime.AMQPPublisher].
type Announcer interface {
	Announce(ctx context.Context, n *model.Notification) error
}

// Name identifies a mutation.
type Name string

const (
	Subscribe            Name = "subscribe"
	Unsubscribe          Name = "unsubscribe"
	UpdateFuel           Name = "update_fuel"
	SendNotification     Name = "send_notification"
	UpdateProfile        Name = "update_profile"
	AssignStationManager Name = "assign_station_manager"
	RemoveStationManager Name = "remove_station_manager"
	RegisterPushToken    Name = "register_push_token"
)

// Default texts for manually sent notifications.
const DefaultNotificationTitle = "Station Update"

var pushPlatforms = map[string]bool{"ios": true, "android": true, "web": true}

// Declares returns the cache keys mutation m invalidates for the given user
// and station.
func Declares(m Name, userID, stationID string) []cache.Key {
	switch m {
	case Subscribe, Unsubscribe:
		return []cache.Key{query.StationsKey(), query.SubscriptionsKey(userID)}
	case UpdateFuel:
		return []cache.Key{query.StationKey(stationID), query.StationsKey()}
	case SendNotification:
		return []cache.Key{query.NotificationsKey(stationID)}
	case UpdateProfile:
		return []cache.Key{query.ProfileKey(userID)}
	case AssignStationManager, RemoveStationManager:
		return []cache.Key{query.ProfileKey(userID), query.ManagedStationsKey(userID)}
	default:
		return nil
	}
}

// Actor is the authenticated caller of a privileged mutation. Role comes from
// the caller's stored profile and ManagedStations from their active station
// assignments.
type Actor struct {
	UserID          string
	Role            model.Role
	ManagedStations []string
}

// Mutator runs mutations. Cache may be nil, in which case nothing is
// invalidated.
type Mutator struct {
	Writer Writer
	Cache  *cache.Cache
	Logger *slog.Logger

	// Announcer, when set, receives every notification after it is stored.
	Announcer Announcer

	// Optimistic projects fuel edits onto the cached station while the write
	// is in flight.
	Optimistic bool
	// NotifyOnChange inserts a status-change notification after a fuel edit
	// whose previous value was cached.
	NotifyOnChange bool
}

func (m *Mutator) log() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m *Mutator) invalidate(name Name, userID, stationID string) {
	if m.Cache == nil {
		return
	}
	keys := Declares(name, userID, stationID)
	n := m.Cache.Invalidate(keys...)
	m.log().Debug("invalidated after mutation", "mutation", name, "keys", len(keys), "entries", n)
}

// Subscribe subscribes userID to stationID. Zero flags subscribe to every
// fuel type.
func (m *Mutator) Subscribe(ctx context.Context, userID, stationID string, flags model.SubscriptionFlags) (*model.Subscription, error) {
	if !flags.Any() {
		flags = model.AllFuels()
	}
	sub := &model.Subscription{UserID: userID, StationID: stationID}
	sub.SetFlags(flags)
	if err := sub.Validate(); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	if err := m.Writer.InsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", stationID, err)
	}
	m.invalidate(Subscribe, userID, stationID)
	m.log().Info("subscribed", "user", userID, "station", stationID)
	return sub, nil
}

// Unsubscribe removes userID's subscription to stationID.
func (m *Mutator) Unsubscribe(ctx context.Context, userID, stationID string) error {
	if userID == "" || stationID == "" {
		return apperr.Validation("user and station are required")
	}
	if err := m.Writer.DeleteSubscription(ctx, userID, stationID); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", stationID, err)
	}
	m.invalidate(Unsubscribe, userID, stationID)
	m.log().Info("unsubscribed", "user", userID, "station", stationID)
	return nil
}

// UpdateFuel sets one fuel type's availability and price on a station the
// actor manages. When the previous station value is cached and
// NotifyOnChange is set, the resulting status change is announced; the
// announcement is returned, or nil when none was sent.
func (m *Mutator) UpdateFuel(ctx context.Context, actor Actor, stationID string, fuel model.FuelType, st model.FuelStatus) (*model.Notification, error) {
	if stationID == "" {
		return nil, apperr.Validation("station is required")
	}
	if _, err := model.ParseFuelType(string(fuel)); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if err := model.ValidateFuelStatus(st); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if !access.HasPermission(actor.Role, access.ManageFuelInventory) ||
		!access.CanManageStation(actor.Role, actor.ManagedStations, stationID) {
		return nil, apperr.Forbidden("not allowed to manage station " + stationID)
	}

	key := query.StationKey(stationID)
	prev := m.cachedStation(key)
	projected := false
	if m.Optimistic && prev != nil && m.Cache != nil {
		next := *prev
		next.SetFuel(fuel, st)
		m.Cache.SetOptimistic(key, &next)
		projected = true
	}

	if err := m.Writer.UpdateFuel(ctx, stationID, fuel, st, actor.UserID); err != nil {
		if projected {
			m.Cache.ClearOptimistic(key)
		}
		return nil, fmt.Errorf("updating %s: %w", fuel.Label(), err)
	}
	m.invalidate(UpdateFuel, actor.UserID, stationID)
	m.log().Info("fuel updated",
		"station", stationID, "fuel", fuel, "available", st.Available, "price", st.Price, "by", actor.UserID)

	if !m.NotifyOnChange || prev == nil {
		return nil, nil
	}
	change, ok := model.DetectFuelChange(prev.Fuel(fuel), st)
	if !ok {
		return nil, nil
	}
	n, err := model.NewFuelNotification(stationID, fuel, change, st.Price, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := m.SendNotification(ctx, actor, n); err != nil {
		// The fuel write stands; only the announcement is lost.
		m.log().Warn("sending fuel change notification",
			"station", stationID, "fuel", fuel, "change", change, "error", err)
		return nil, nil
	}
	return n, nil
}

func (m *Mutator) cachedStation(key cache.Key) *model.Station {
	if m.Cache == nil {
		return nil
	}
	e, ok := m.Cache.Peek(key)
	if !ok {
		return nil
	}
	st, _ := e.Data.(*model.Station)
	return st
}

// SendNotification publishes n for its station. A blank title becomes
// [DefaultNotificationTitle] and a missing type becomes general.
func (m *Mutator) SendNotification(ctx context.Context, actor Actor, n *model.Notification) error {
	if n == nil {
		return apperr.Validation("notification is required")
	}
	if strings.TrimSpace(n.Title) == "" {
		n.Title = DefaultNotificationTitle
	}
	if n.NotificationType == "" {
		n.NotificationType = model.NotificationGeneral
	}
	n.CreatedBy = actor.UserID
	if err := n.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	if !access.HasPermission(actor.Role, access.SendNotifications) ||
		!access.CanManageStation(actor.Role, actor.ManagedStations, n.StationID) {
		return apperr.Forbidden("not allowed to notify subscribers of station " + n.StationID)
	}

	if err := m.Writer.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	m.invalidate(SendNotification, actor.UserID, n.StationID)
	m.log().Info("notification sent", "station", n.StationID, "type", n.NotificationType, "id", n.ID)

	if m.Announcer != nil {
		if err := m.Announcer.Announce(ctx, n); err != nil {
			m.log().Warn("announcing notification", "id", n.ID, "error", err)
		}
	}
	return nil
}

// UpdateProfile writes the non-nil fields of upd to userID's profile.
func (m *Mutator) UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) error {
	if userID == "" {
		return apperr.Validation("user is required")
	}
	if err := upd.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	if err := m.Writer.UpdateProfile(ctx, userID, upd); err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	m.invalidate(UpdateProfile, userID, "")
	return nil
}

// AssignStationManager makes userID a manager of stationID.
func (m *Mutator) AssignStationManager(ctx context.Context, actor Actor, userID, stationID string) error {
	if err := m.checkManagerChange(actor, userID, stationID); err != nil {
		return err
	}
	if err := m.Writer.AssignStationManager(ctx, userID, stationID); err != nil {
		return fmt.Errorf("assigning manager: %w", err)
	}
	m.invalidate(AssignStationManager, userID, stationID)
	m.log().Info("station manager assigned", "user", userID, "station", stationID, "by", actor.UserID)
	return nil
}

// RemoveStationManager ends userID's assignment to stationID.
func (m *Mutator) RemoveStationManager(ctx context.Context, actor Actor, userID, stationID string) error {
	if err := m.checkManagerChange(actor, userID, stationID); err != nil {
		return err
	}
	if err := m.Writer.RemoveStationManager(ctx, userID, stationID); err != nil {
		return fmt.Errorf("removing manager: %w", err)
	}
	m.invalidate(RemoveStationManager, userID, stationID)
	m.log().Info("station manager removed", "user", userID, "station", stationID, "by", actor.UserID)
	return nil
}

func (m *Mutator) checkManagerChange(actor Actor, userID, stationID string) error {
	if userID == "" || stationID == "" {
		return apperr.Validation("user and station are required")
	}
	if !access.HasPermission(actor.Role, access.ManageStationManagers) ||
		!access.CanPromote(actor.Role, model.RoleStationManager) {
		return apperr.Forbidden("not allowed to manage station managers")
	}
	return nil
}

// RegisterPushToken records token as userID's active push device.
func (m *Mutator) RegisterPushToken(ctx context.Context, userID, token, platform string) error {
	token = strings.TrimSpace(token)
	platform = strings.ToLower(strings.TrimSpace(platform))
	switch {
	case userID == "":
		return apperr.Validation("user is required")
	case token == "":
		return apperr.Validation("push token is required")
	case !pushPlatforms[platform]:
		return apperr.Validation(fmt.Sprintf("unsupported platform %q", platform))
	}
	if err := m.Writer.SavePushToken(ctx, userID, token, platform); err != nil {
		return fmt.Errorf("registering push token: %w", err)
	}
	return nil
}
