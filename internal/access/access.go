// Package access maps roles to permissions and decides who may manage which
// station.
package access

import (
	"slices"

	"github.com/njoerd114/fuelrelay/internal/model"
)

// Permission names a capability granted to a role.
type Permission string

const (
	ViewStations          Permission = "view_stations"
	SubscribeToStations   Permission = "subscribe_to_stations"
	ViewFuelPrices        Permission = "view_fuel_prices"
	ReceiveNotifications  Permission = "receive_notifications"
	ManageBusinessProfile Permission = "manage_business_profile"
	ViewBusinessAnalytics Permission = "view_business_analytics"
	ManageFuelInventory   Permission = "manage_fuel_inventory"
	SendNotifications     Permission = "send_notifications"
	ViewStationAnalytics  Permission = "view_station_analytics"
	ManageStationSettings Permission = "manage_station_settings"
	ManageUsers           Permission = "manage_users"
	ManageStationManagers Permission = "manage_station_managers"
)

var userPermissions = []Permission{
	ViewStations,
	SubscribeToStations,
	ViewFuelPrices,
	ReceiveNotifications,
}

var rolePermissions = map[model.Role][]Permission{
	model.RoleUser:     userPermissions,
	model.RoleBusiness: append(slices.Clone(userPermissions), ManageBusinessProfile, ViewBusinessAnalytics),
	model.RoleStationManager: {
		ViewStations,
		ViewFuelPrices,
		ManageFuelInventory,
		SendNotifications,
		ViewStationAnalytics,
		ManageStationSettings,
	},
}

// Permissions returns the permissions of role. Admins hold every permission.
func Permissions(role model.Role) []Permission {
	if role == model.RoleAdmin {
		return []Permission{
			ViewStations, SubscribeToStations, ViewFuelPrices, ReceiveNotifications,
			ManageBusinessProfile, ViewBusinessAnalytics,
			ManageFuelInventory, SendNotifications, ViewStationAnalytics, ManageStationSettings,
			ManageUsers, ManageStationManagers,
		}
	}
	return slices.Clone(rolePermissions[role])
}

// HasPermission reports whether role grants perm.
func HasPermission(role model.Role, perm Permission) bool {
	if role == model.RoleAdmin {
		return true
	}
	return slices.Contains(rolePermissions[role], perm)
}

// CanPromote reports whether actor may grant target. A role may grant itself
// and anything below it.
func CanPromote(actor, target model.Role) bool {
	return actor.Rank() >= 0 && target.Rank() >= 0 && actor.Rank() >= target.Rank()
}

// CanManageStation reports whether a caller with role, actively assigned to
// the managed stations, may edit stationID.
func CanManageStation(role model.Role, managed []string, stationID string) bool {
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleStationManager:
		return slices.Contains(managed, stationID)
	default:
		return false
	}
}
