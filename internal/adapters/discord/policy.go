// internal/adapters/discord/policy.go
// Minimal privilege check based on ADMIN_ROLE_IDS or Administrator permission.

package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

type Policy struct {
	adminRoles map[string]struct{}
}

func NewPolicy(roleIDs []string) *Policy {
	p := &Policy{adminRoles: map[string]struct{}{}}
	for _, id := range roleIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			p.adminRoles[id] = struct{}{}
		}
	}
	return p
}

// IsPrivileged returns true if the member has Administrator or one of the admin roles.
func (p *Policy) IsPrivileged(m *discordgo.Member) bool {
	if m == nil {
		return false
	}
	if m.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	for _, r := range m.Roles {
		if _, ok := p.adminRoles[r]; ok {
			return true
		}
	}
	return false
}

// RequirePrivileged replies ephemeral and returns false if not privileged.
func (p *Policy) RequirePrivileged(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	if p.IsPrivileged(i.Member) {
		return true
	}
	_ = SendEphemeral(s, i, "⛔ You don't have permission for this action.")
	return false
}
