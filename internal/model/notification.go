package model

import (
	"fmt"
	"strings"
	"time"
)

// NotificationType classifies a station notification.
type NotificationType string

const (
	NotificationRestock    NotificationType = "fuel_restock"
	NotificationOutOfStock NotificationType = "fuel_out_of_stock"
	NotificationPrice      NotificationType = "price_update"
	NotificationGeneral    NotificationType = "general"
)

// ParseNotificationType converts a raw string into a NotificationType.
func ParseNotificationType(raw string) (NotificationType, error) {
	t := NotificationType(strings.TrimSpace(raw))
	switch t {
	case NotificationRestock, NotificationOutOfStock, NotificationPrice, NotificationGeneral:
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", raw)
}

// Notification is an immutable, append-only station alert. Inserting one
// triggers push delivery to the station's subscribers.
type Notification struct {
	ID               string           `json:"id" gorm:"primaryKey"`
	StationID        string           `json:"station_id" gorm:"index;not null"`
	Title            string           `json:"title"`
	Message          string           `json:"message"`
	NotificationType NotificationType `json:"notification_type"`
	FuelType         *FuelType        `json:"fuel_type,omitempty"`
	CreatedBy        string           `json:"created_by"`
	SentAt           time.Time        `json:"sent_at" gorm:"index"`
	CreatedAt        time.Time        `json:"created_at" gorm:"index"`
}

// TableName pins the gorm table name.
func (Notification) TableName() string { return "notifications" }

// Validate checks a notification before it is inserted or after it is read.
func (n *Notification) Validate() error {
	if n.StationID == "" {
		return fmt.Errorf("notification: empty station_id")
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("notification: empty title")
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("notification: empty message")
	}
	if _, err := ParseNotificationType(string(n.NotificationType)); err != nil {
		return fmt.Errorf("notification: %w", err)
	}
	if n.FuelType != nil {
		if _, err := ParseFuelType(string(*n.FuelType)); err != nil {
			return fmt.Errorf("notification: %w", err)
		}
	}
	return nil
}

// FuelChange names the kind of status change a fuel edit produced.
type FuelChange string

const (
	ChangeRestocked  FuelChange = "restocked"
	ChangeOutOfStock FuelChange = "out_of_stock"
	ChangePrice      FuelChange = "price_update"
	ChangeLowStock   FuelChange = "low_stock"
)

// DetectFuelChange compares two statuses of the same fuel. The second result
// is false when nothing worth announcing changed. Availability changes take
// precedence over price changes.
func DetectFuelChange(before, after FuelStatus) (FuelChange, bool) {
	switch {
	case !before.Available && after.Available:
		return ChangeRestocked, true
	case before.Available && !after.Available:
		return ChangeOutOfStock, true
	case before.Price != after.Price:
		return ChangePrice, true
	}
	return "", false
}

// NewFuelNotification builds the notification announcing a fuel status
// change. newPrice is only used for price updates.
func NewFuelNotification(stationID string, fuel FuelType, change FuelChange, newPrice float64, createdBy string) (*Notification, error) {
	label := fuel.Label()
	n := &Notification{StationID: stationID, CreatedBy: createdBy}

	switch change {
	case ChangeRestocked:
		n.Title = "Fuel Restocked! ⛽"
		n.Message = fmt.Sprintf("%s is now available at this station.", label)
		n.NotificationType = NotificationRestock
	case ChangeOutOfStock:
		n.Title = "Fuel Out of Stock ❌"
		n.Message = fmt.Sprintf("%s is currently out of stock at this station.", label)
		n.NotificationType = NotificationOutOfStock
	case ChangePrice:
		n.Title = "Price Update 💰"
		n.Message = fmt.Sprintf("%s price has been updated to ₦%s.", label, formatPrice(newPrice))
		n.NotificationType = NotificationPrice
	case ChangeLowStock:
		n.Title = "Low Stock Warning ⚠️"
		n.Message = fmt.Sprintf("%s is running low at this station. Hurry!", label)
		n.NotificationType = NotificationGeneral
	default:
		return nil, fmt.Errorf("unknown fuel change %q", change)
	}

	ft := fuel
	n.FuelType = &ft
	return n, nil
}

func formatPrice(p float64) string {
	if p == float64(int64(p)) {
		return fmt.Sprintf("%d", int64(p))
	}
	return fmt.Sprintf("%.2f", p)
}

// NotificationStats counts a station's notifications by type over a window.
type NotificationStats struct {
	Total      int `json:"total"`
	Restock    int `json:"fuel_restock"`
	OutOfStock int `json:"fuel_out_of_stock"`
	Price      int `json:"price_update"`
	General    int `json:"general"`
}

// Add counts one notification of type t.
func (s *NotificationStats) Add(t NotificationType) {
	s.Total++
	switch t {
	case NotificationRestock:
		s.Restock++
	case NotificationOutOfStock:
		s.OutOfStock++
	case NotificationPrice:
		s.Price++
	case NotificationGeneral:
		s.General++
	}
}

// PushToken is a device registration for push delivery. Registering a new
// token deactivates the user's previous ones.
type PushToken struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Token     string    `json:"token" gorm:"not null"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"is_active" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the gorm table name.
func (PushToken) TableName() string { return "push_notification_tokens" }
