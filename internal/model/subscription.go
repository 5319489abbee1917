package model

import (
	"fmt"
	"time"
)

// SubscriptionFlags selects which fuel types a subscriber wants alerts for.
type SubscriptionFlags struct {
	Fuel     bool `json:"subscribe_fuel"`
	Diesel   bool `json:"subscribe_diesel"`
	Gas      bool `json:"subscribe_gas"`
	Kerosene bool `json:"subscribe_kerosene"`
}

// AllFuels subscribes to every fuel type. New subscriptions default to it.
func AllFuels() SubscriptionFlags {
	return SubscriptionFlags{Fuel: true, Diesel: true, Gas: true, Kerosene: true}
}

// Any reports whether at least one flag is set.
func (f SubscriptionFlags) Any() bool {
	return f.Fuel || f.Diesel || f.Gas || f.Kerosene
}

// Includes reports whether the flags cover a fuel type.
func (f SubscriptionFlags) Includes(t FuelType) bool {
	switch t {
	case FuelPetrol:
		return f.Fuel
	case FuelDiesel:
		return f.Diesel
	case FuelGas:
		return f.Gas
	case FuelKerosene:
		return f.Kerosene
	}
	return false
}

// Subscription links a user to a station with per-fuel-type flags. There is
// at most one row per (user, station).
type Subscription struct {
	ID                string          `json:"id" gorm:"primaryKey"`
	UserID            string          `json:"user_id" gorm:"not null;uniqueIndex:idx_subscription_user_station"`
	StationID         string          `json:"station_id" gorm:"not null;uniqueIndex:idx_subscription_user_station"`
	SubscribeFuel     bool            `json:"subscribe_fuel"`
	SubscribeDiesel   bool            `json:"subscribe_diesel"`
	SubscribeGas      bool            `json:"subscribe_gas"`
	SubscribeKerosene bool            `json:"subscribe_kerosene"`
	CreatedAt         time.Time       `json:"created_at"`
	Station           *StationSummary `json:"stations,omitempty" gorm:"foreignKey:StationID"`
}

// TableName pins the gorm table name.
func (Subscription) TableName() string { return "subscriptions" }

// Flags returns the per-fuel-type flags of the row.
func (s *Subscription) Flags() SubscriptionFlags {
	return SubscriptionFlags{
		Fuel:     s.SubscribeFuel,
		Diesel:   s.SubscribeDiesel,
		Gas:      s.SubscribeGas,
		Kerosene: s.SubscribeKerosene,
	}
}

// SetFlags copies flags onto the row.
func (s *Subscription) SetFlags(f SubscriptionFlags) {
	s.SubscribeFuel = f.Fuel
	s.SubscribeDiesel = f.Diesel
	s.SubscribeGas = f.Gas
	s.SubscribeKerosene = f.Kerosene
}

// Validate checks the invariants of a subscription row.
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("subscription: empty user_id")
	}
	if s.StationID == "" {
		return fmt.Errorf("subscription: empty station_id")
	}
	return nil
}

// ContainsStation reports whether any subscription in subs targets stationID.
func ContainsStation(subs []Subscription, stationID string) bool {
	for i := range subs {
		if subs[i].StationID == stationID {
			return true
		}
	}
	return false
}
