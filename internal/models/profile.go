package models

import "strings"

// Role is the closed set of profile categories.
type Role string

const (
	RoleModel    Role = "model"
	RoleDesigner Role = "designer"
	RoleMember   Role = "member"
)

// ParseRole maps a free-form role string from the profile store onto Role.
// The second result is false when the input was not a known role, in which
// case RoleMember is returned.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "model":
		return RoleModel, true
	case "designer", "brand":
		return RoleDesigner, true
	case "member", "user":
		return RoleMember, true
	}
	return RoleMember, false
}

// UnknownUserName is shown for counterparts the directory cannot resolve.
const UnknownUserName = "Unknown User"

// Profile is the display metadata of a user.
type Profile struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"full_name" json:"name"`
	Role      Role   `db:"role" json:"role"`
	AvatarURL string `db:"avatar_url" json:"avatar_url,omitempty"`
	Location  string `db:"location" json:"location,omitempty"`
}

// PlaceholderProfile stands in for a profile missing from the directory.
func PlaceholderProfile(id string) Profile {
	return Profile{ID: id, Name: UnknownUserName, Role: RoleMember}
}
