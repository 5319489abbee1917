package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Role is the access level stored on a user profile.
type Role string

const (
	RoleUser           Role = "user"
	RoleBusiness       Role = "business"
	RoleStationManager Role = "station_manager"
	RoleAdmin          Role = "admin"
)

// ParseRole converts a raw string into a Role. Unknown values are rejected.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch r {
	case RoleUser, RoleBusiness, RoleStationManager, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Rank orders roles for promotion checks. Unknown roles rank below user.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 0
	case RoleBusiness:
		return 1
	case RoleStationManager:
		return 2
	case RoleAdmin:
		return 3
	default:
		return -1
	}
}

// DisplayName returns the label shown for a role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleBusiness:
		return "Business"
	case RoleStationManager:
		return "Station Manager"
	case RoleAdmin:
		return "Administrator"
	default:
		return "Unknown"
	}
}

// UserProfile is one row of the users table. Its ID equals the
// authentication identity.
type UserProfile struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	AvatarURL   string    `json:"avatar_url"`
	Role        Role      `json:"role" gorm:"default:user"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName pins the gorm table name.
func (UserProfile) TableName() string { return "users" }

// Validate checks the invariants of a profile row.
func (p *UserProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile: empty id")
	}
	if p.Role != "" {
		if _, err := ParseRole(string(p.Role)); err != nil {
			return fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	return nil
}

// ProfileUpdate carries the editable profile fields. Nil fields are left
// untouched.
type ProfileUpdate struct {
	FullName    *string `json:"full_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.Email == nil && u.PhoneNumber == nil && u.AvatarURL == nil
}

// Columns returns the column → value map gorm should write.
func (u ProfileUpdate) Columns() map[string]any {
	cols := make(map[string]any, 4)
	if u.FullName != nil {
		cols["full_name"] = *u.FullName
	}
	if u.Email != nil {
		cols["email"] = *u.Email
	}
	if u.PhoneNumber != nil {
		cols["phone_number"] = *u.PhoneNumber
	}
	if u.AvatarURL != nil {
		cols["avatar_url"] = *u.AvatarURL
	}
	return cols
}

// Validate rejects malformed profile edits.
func (u ProfileUpdate) Validate() error {
	if u.Empty() {
		return fmt.Errorf("profile update has no fields")
	}
	if u.FullName != nil && strings.TrimSpace(*u.FullName) == "" {
		return fmt.Errorf("full_name must not be blank")
	}
	if u.Email != nil {
		if _, err := mail.ParseAddress(*u.Email); err != nil {
			return fmt.Errorf("email %q is invalid", *u.Email)
		}
	}
	return nil
}

// StationManagerAssignment links a manager to a station. A user may hold
// several active assignments and a station may have several managers.
type StationManagerAssignment struct {
	ID        string          `json:"id" gorm:"primaryKey"`
	UserID    string          `json:"user_id" gorm:"index;not null"`
	StationID string          `json:"station_id" gorm:"index;not null"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	Station   *StationSummary `json:"stations,omitempty" gorm:"foreignKey:StationID"`
}

// TableName pins the gorm table name.
func (StationManagerAssignment) TableName() string { return "station_managers" }
