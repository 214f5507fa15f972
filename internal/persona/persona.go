// Package persona holds the static persona registry: which channel talks to
// which persona, and how each persona presents itself when it speaks in a
// meeting.
package persona

import (
	"fmt"
	"strings"
)

// Role is the closed set of persona roles.
type Role string

const (
	RoleDirector  Role = "Director"
	RolePlanner   Role = "Planner"
	RoleEditor    Role = "Editor"
	RoleModerator Role = "Moderator"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleDirector, RolePlanner, RoleEditor, RoleModerator}

// ParseRole matches a configured role name case-insensitively.
func ParseRole(s string) (Role, error) {
	name := strings.TrimSpace(s)
	for _, r := range Roles {
		if strings.EqualFold(name, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown persona role %q", s)
}

// Speaks reports whether the role generates text. The moderator only makes
// fixed announcements.
func (r Role) Speaks() bool {
	return r != RoleModerator
}

// DefaultKey is the key of the persona used for channels without a binding.
const DefaultKey = "default"

// Persona is an immutable bundle of display identity and instruction text.
type Persona struct {
	Key         string `json:"key"`
	Role        Role   `json:"role,omitempty"`
	DisplayName string `json:"display_name"`
	DisplayIcon string `json:"display_icon,omitempty"`
	Instruction string `json:"-"`
}

// IconIsEmoji reports whether DisplayIcon is an emoji code like ":robot_face:"
// rather than an image URL.
func (p Persona) IconIsEmoji() bool {
	icon := strings.TrimSpace(p.DisplayIcon)
	return len(icon) > 2 && strings.HasPrefix(icon, ":") && strings.HasSuffix(icon, ":")
}
