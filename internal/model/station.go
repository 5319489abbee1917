// Package model defines the entities shared by the cache, the remote data
// source, the mutation layer and the realtime bridge.
package model

import (
	"fmt"
	"strings"
	"time"
)

// FuelType identifies one of the products a station sells.
type FuelType string

const (
	FuelPetrol   FuelType = "fuel"
	FuelDiesel   FuelType = "diesel"
	FuelGas      FuelType = "gas"
	FuelKerosene FuelType = "kerosene"
)

// FuelTypes lists every fuel type in display order.
var FuelTypes = []FuelType{FuelPetrol, FuelDiesel, FuelGas, FuelKerosene}

// ParseFuelType converts a raw string into a FuelType. Unknown values are
// rejected.
func ParseFuelType(raw string) (FuelType, error) {
	t := FuelType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case FuelPetrol, FuelDiesel, FuelGas, FuelKerosene:
		return t, nil
	}
	return "", fmt.Errorf("unknown fuel type %q", raw)
}

// Label returns the human-readable name used in notification texts.
func (t FuelType) Label() string {
	switch t {
	case FuelPetrol:
		return "Fuel"
	case FuelDiesel:
		return "Diesel"
	case FuelGas:
		return "Gas"
	case FuelKerosene:
		return "Kerosene"
	default:
		return string(t)
	}
}

// FuelStatus is the availability and price of a single fuel type.
type FuelStatus struct {
	Available bool    `json:"available"`
	Price     float64 `json:"price"`
}

// Station is a fuel station as stored in the stations table. Each fuel type is
// flattened into an <type>_available / <type>_price column pair.
type Station struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	Name      string  `json:"name" gorm:"not null"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	FuelAvailable     bool    `json:"fuel_available"`
	FuelPrice         float64 `json:"fuel_price"`
	DieselAvailable   bool    `json:"diesel_available"`
	DieselPrice       float64 `json:"diesel_price"`
	GasAvailable      bool    `json:"gas_available"`
	GasPrice          float64 `json:"gas_price"`
	KeroseneAvailable bool    `json:"kerosene_available"`
	KerosenePrice     float64 `json:"kerosene_price"`

	LastUpdated *time.Time `json:"last_updated,omitempty"`
	ManagedBy   *string    `json:"managed_by,omitempty"`
}

// TableName pins the gorm table name.
func (Station) TableName() string { return "stations" }

// Fuel returns the status of a single fuel type.
func (s *Station) Fuel(t FuelType) FuelStatus {
	switch t {
	case FuelPetrol:
		return FuelStatus{Available: s.FuelAvailable, Price: s.FuelPrice}
	case FuelDiesel:
		return FuelStatus{Available: s.DieselAvailable, Price: s.DieselPrice}
	case FuelGas:
		return FuelStatus{Available: s.GasAvailable, Price: s.GasPrice}
	case FuelKerosene:
		return FuelStatus{Available: s.KeroseneAvailable, Price: s.KerosenePrice}
	}
	return FuelStatus{}
}

// SetFuel overwrites the status of a single fuel type.
func (s *Station) SetFuel(t FuelType, st FuelStatus) {
	switch t {
	case FuelPetrol:
		s.FuelAvailable, s.FuelPrice = st.Available, st.Price
	case FuelDiesel:
		s.DieselAvailable, s.DieselPrice = st.Available, st.Price
	case FuelGas:
		s.GasAvailable, s.GasPrice = st.Available, st.Price
	case FuelKerosene:
		s.KeroseneAvailable, s.KerosenePrice = st.Available, st.Price
	}
}

// FuelColumns returns the column names backing a fuel type.
func FuelColumns(t FuelType) (available, price string) {
	return string(t) + "_available", string(t) + "_price"
}

// Validate checks the invariants every station row must satisfy. A failure
// while reading from the backend indicates a schema mismatch.
func (s *Station) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("station: empty id")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("station %s: empty name", s.ID)
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("station %s: latitude %v out of range", s.ID, s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("station %s: longitude %v out of range", s.ID, s.Longitude)
	}
	for _, t := range FuelTypes {
		if p := s.Fuel(t).Price; p < 0 {
			return fmt.Errorf("station %s: negative %s price %v", s.ID, t, p)
		}
	}
	return nil
}

// ValidateFuelStatus checks a fuel edit before it is written.
func ValidateFuelStatus(st FuelStatus) error {
	if st.Price < 0 {
		return fmt.Errorf("price %v must not be negative", st.Price)
	}
	if st.Available && st.Price == 0 {
		return fmt.Errorf("an available fuel needs a price")
	}
	return nil
}

// StationSummary is the subset of a station embedded in subscription and
// assignment reads.
type StationSummary struct {
	ID      string `json:"id" gorm:"primaryKey"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// TableName pins the gorm table name.
func (StationSummary) TableName() string { return "stations" }
