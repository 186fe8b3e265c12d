package enums

import "strings"

// ActorRole is the platform role carried on the session token.
type ActorRole string

const (
	ActorRoleMember ActorRole = "member"
	ActorRoleAdmin  ActorRole = "admin"
)

// ParseActorRole maps a claim value onto a role; unknown values are members.
func ParseActorRole(value string) ActorRole {
	if strings.EqualFold(strings.TrimSpace(value), string(ActorRoleAdmin)) {
		return ActorRoleAdmin
	}
	return ActorRoleMember
}

// IsAdmin reports whether the role grants platform-wide access.
func (r ActorRole) IsAdmin() bool {
	return r == ActorRoleAdmin
}
