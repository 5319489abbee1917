// Package remote is the data source backed by the hosted Postgres database.
// Every call is scoped to the caller's context and every error is classified
// through [apperr.FromDB] before it leaves the package.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/model"
)

// NotifyChannel is the Postgres channel the insert trigger publishes on.
const NotifyChannel = "notification_inserted"

// NotifyTriggerSQL installs a trigger that publishes every inserted
// notification row as JSON on [NotifyChannel].
const NotifyTriggerSQL = `
CREATE OR REPLACE FUNCTION notify_notification_inserted() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('` + NotifyChannel + `', row_to_json(NEW)::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS notification_inserted ON notifications;
CREATE TRIGGER notification_inserted
    AFTER INSERT ON notifications
    FOR EACH ROW EXECUTE FUNCTION notify_notification_inserted();
`

// Store is the gorm-backed remote data source. It is safe for concurrent use.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
	now func() time.Time
}

// GormConfig returns the gorm settings the store expects: driver errors
// translated to gorm sentinels, UTC timestamps and warnings routed to logger.
func GormConfig(logger *slog.Logger) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         newGormLogger(logger),

		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

// Open connects to the Postgres database at dsn.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), GormConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", apperr.FromDB(err))
	}
	return New(db, logger), nil
}

// New wraps an already opened gorm handle.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting database handle: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", apperr.FromDB(err))
	}
	return nil
}

// AutoMigrate creates or updates every table the store reads and writes. It
// is meant for local development and tests; production schemas are managed by
// the hosted backend.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&model.Station{},
		&model.UserProfile{},
		&model.Subscription{},
		&model.Notification{},
		&model.StationManagerAssignment{},
		&model.PushToken{},
	)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// InstallNotifyTrigger applies [NotifyTriggerSQL]. It requires Postgres.
func (s *Store) InstallNotifyTrigger(ctx context.Context) error {
	if name := s.db.Dialector.Name(); name != "postgres" {
		return fmt.Errorf("notify trigger requires postgres, got %s", name)
	}
	if err := s.db.WithContext(ctx).Exec(NotifyTriggerSQL).Error; err != nil {
		return fmt.Errorf("installing notify trigger: %w", apperr.FromDB(err))
	}
	return nil
}

// --- reads ---

// ListStations returns every station ordered by name.
func (s *Store) ListStations(ctx context.Context) ([]model.Station, error) {
	var stations []model.Station
	if err := s.db.WithContext(ctx).Order("name").Find(&stations).Error; err != nil {
		return nil, fmt.Errorf("listing stations: %w", apperr.FromDB(err))
	}
	return stations, nil
}

// GetStation returns one station or a not-found error.
func (s *Store) GetStation(ctx context.Context, id string) (*model.Station, error) {
	var st model.Station
	if err := s.db.WithContext(ctx).First(&st, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting station %s: %w", id, apperr.FromDB(err))
	}
	return &st, nil
}

// GetProfile returns a user's profile or a not-found error.
func (s *Store) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := s.db.WithContext(ctx).First(&p, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("getting profile %s: %w", userID, apperr.FromDB(err))
	}
	return &p, nil
}

// ListSubscriptions returns a user's subscriptions, newest first, each with
// the station's name and address.
func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := s.db.WithContext(ctx).
		Preload("Station").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions for %s: %w", userID, apperr.FromDB(err))
	}
	return subs, nil
}

// GetSubscription returns the subscription of userID to stationID or a
// not-found error.
func (s *Store) GetSubscription(ctx context.Context, userID, stationID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND station_id = ?", userID, stationID).
		First(&sub).Error
	if err != nil {
		return nil, fmt.Errorf("getting subscription: %w", apperr.FromDB(err))
	}
	return &sub, nil
}

// ListNotifications returns up to limit notifications for a station, most
// recently sent first.
func (s *Store) ListNotifications(ctx context.Context, stationID string, limit int) ([]model.Notification, error) {
	var ns []model.Notification
	err := s.db.WithContext(ctx).
		Where("station_id = ?", stationID).
		Order("sent_at DESC").
		Limit(limit).
		Find(&ns).Error
	if err != nil {
		return nil, fmt.Errorf("listing notifications for %s: %w", stationID, apperr.FromDB(err))
	}
	return ns, nil
}

// ManagedStationIDs returns the ids of the stations userID actively manages.
func (s *Store) ManagedStationIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.StationManagerAssignment{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("station_id").
		Pluck("station_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing managed station ids for %s: %w", userID, apperr.FromDB(err))
	}
	return ids, nil
}

// ListManagedStations returns the stations userID actively manages.
func (s *Store) ListManagedStations(ctx context.Context, userID string) ([]model.Station, error) {
	assigned := s.db.Model(&model.StationManagerAssignment{}).
		Select("station_id").
		Where("user_id = ? AND is_active = ?", userID, true)

	var stations []model.Station
	err := s.db.WithContext(ctx).
		Where("id IN (?)", assigned).
		Order("name").
		Find(&stations).Error
	if err != nil {
		return nil, fmt.Errorf("listing managed stations for %s: %w", userID, apperr.FromDB(err))
	}
	return stations, nil
}

// ActiveTokensForStation returns the distinct active push tokens of every
// subscriber of stationID.
func (s *Store) ActiveTokensForStation(ctx context.Context, stationID string) ([]string, error) {
	subscribers := s.db.Model(&model.Subscription{}).
		Select("user_id").
		Where("station_id = ?", stationID)

	var tokens []string
	err := s.db.WithContext(ctx).
		Model(&model.PushToken{}).
		Distinct().
		Where("is_active = ? AND user_id IN (?)", true, subscribers).
		Order("token").
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("resolving push tokens for %s: %w", stationID, apperr.FromDB(err))
	}
	return tokens, nil
}

// NotificationStats counts a station's notifications created since the given
// time, by type.
func (s *Store) NotificationStats(ctx context.Context, stationID string, since time.Time) (model.NotificationStats, error) {
	var rows []struct {
		NotificationType model.NotificationType
		N                int
	}
	err := s.db.WithContext(ctx).
		Model(&model.Notification{}).
		Select("notification_type, COUNT(*) AS n").
		Where("station_id = ? AND created_at >= ?", stationID, since.UTC()).
		Group("notification_type").
		Scan(&rows).Error
	if err != nil {
		return model.NotificationStats{}, fmt.Errorf("counting notifications for %s: %w", stationID, apperr.FromDB(err))
	}

	var stats model.NotificationStats
	for _, r := range rows {
		for range r.N {
			stats.Add(r.NotificationType)
		}
	}
	return stats, nil
}

// --- writes ---

// InsertSubscription creates a subscription. A second subscription for the
// same user and station is rejected as a validation error.
func (s *Store) InsertSubscription(ctx context.Context, sub *model.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(sub).Error; err != nil {
		return fmt.Errorf("inserting subscription: %w", apperr.FromDB(err))
	}
	return nil
}

// DeleteSubscription removes the subscription of userID to stationID. Removing
// a subscription that does not exist is not an error.
func (s *Store) DeleteSubscription(ctx context.Context, userID, stationID string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND station_id = ?", userID, stationID).
		Delete(&model.Subscription{}).Error
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", apperr.FromDB(err))
	}
	return nil
}

// UpdateFuel writes one fuel type's price and availability and stamps the
// station with the editor and time.
func (s *Store) UpdateFuel(ctx context.Context, stationID string, fuel model.FuelType, st model.FuelStatus, updatedBy string) error {
	availCol, priceCol := model.FuelColumns(fuel)
	res := s.db.WithContext(ctx).
		Model(&model.Station{}).
		Where("id = ?", stationID).
		Updates(map[string]any{
			availCol:       st.Available,
			priceCol:       st.Price,
			"last_updated": s.now(),
			"managed_by":   updatedBy,
		})
	if res.Error != nil {
		return fmt.Errorf("updating %s on station %s: %w", fuel, stationID, apperr.FromDB(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("updating %s: %w", fuel, apperr.NotFound("station "+stationID))
	}
	return nil
}

// InsertNotification appends a notification. Missing ids and send times are
// filled in.
func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.SentAt.IsZero() {
		n.SentAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("inserting notification: %w", apperr.FromDB(err))
	}
	return nil
}

// UpdateProfile writes the non-nil fields of upd.
func (s *Store) UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) error {
	res := s.db.WithContext(ctx).
		Model(&model.UserProfile{}).
		Where("id = ?", userID).
		Updates(upd.Columns())
	if res.Error != nil {
		return fmt.Errorf("updating profile %s: %w", userID, apperr.FromDB(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("updating profile: %w", apperr.NotFound("profile "+userID))
	}
	return nil
}

// EnsureProfile creates p unless a profile with the same id already exists.
func (s *Store) EnsureProfile(ctx context.Context, p *model.UserProfile) error {
	if p.Role == "" {
		p.Role = model.RoleUser
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(p).Error
	if err != nil {
		return fmt.Errorf("ensuring profile %s: %w", p.ID, apperr.FromDB(err))
	}
	return nil
}

// AssignStationManager promotes userID to station manager and activates an
// assignment to stationID in one transaction.
func (s *Store) AssignStationManager(ctx context.Context, userID, stationID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.UserProfile{}).
			Where("id = ? AND role <> ?", userID, model.RoleAdmin).
			Update("role", model.RoleStationManager)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&model.UserProfile{}, "id = ?", userID).Error; err != nil {
				return err
			}
		}

		var active int64
		err := tx.Model(&model.StationManagerAssignment{}).
			Where("user_id = ? AND station_id = ? AND is_active = ?", userID, stationID, true).
			Count(&active).Error
		if err != nil || active > 0 {
			return err
		}
		return tx.Omit(clause.Associations).Create(&model.StationManagerAssignment{
			ID:        uuid.NewString(),
			UserID:    userID,
			StationID: stationID,
			IsActive:  true,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("assigning %s to station %s: %w", userID, stationID, apperr.FromDB(err))
	}
	return nil
}

// RemoveStationManager deactivates the assignment of userID to stationID.
// When no active assignment remains, a station manager is downgraded to a
// regular user.
func (s *Store) RemoveStationManager(ctx context.Context, userID, stationID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.StationManagerAssignment{}).
			Where("user_id = ? AND station_id = ? AND is_active = ?", userID, stationID, true).
			Update("is_active", false).Error
		if err != nil {
			return err
		}

		var remaining int64
		err = tx.Model(&model.StationManagerAssignment{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Count(&remaining).Error
		if err != nil || remaining > 0 {
			return err
		}
		return tx.Model(&model.UserProfile{}).
			Where("id = ? AND role = ?", userID, model.RoleStationManager).
			Update("role", model.RoleUser).Error
	})
	if err != nil {
		return fmt.Errorf("removing %s from station %s: %w", userID, stationID, apperr.FromDB(err))
	}
	return nil
}

// SavePushToken deactivates every token userID registered before and stores
// token as the single active one.
func (s *Store) SavePushToken(ctx context.Context, userID, token, platform string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.PushToken{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Update("is_active", false).Error
		if err != nil {
			return err
		}
		return tx.Create(&model.PushToken{
			ID:       uuid.NewString(),
			UserID:   userID,
			Token:    token,
			Platform: platform,
			IsActive: true,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("saving push token for %s: %w", userID, apperr.FromDB(err))
	}
	return nil
}

// PruneNotifications deletes notifications created before cutoff and returns
// how many were removed.
func (s *Store) PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&model.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning notifications: %w", apperr.FromDB(res.Error))
	}
	if res.RowsAffected > 0 {
		s.log.Info("pruned notifications", "count", res.RowsAffected, "cutoff", cutoff.Format(time.RFC3339))
	}
	return res.RowsAffected, nil
}
