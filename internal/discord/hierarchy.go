package discord

import "github.com/bwmarrin/discordgo"

// guildView is a snapshot of the role hierarchy used for pre-flight checks.
type guildView struct {
	guildID  string
	ownerID  string
	botID    string
	botRoles []string
	roles    map[string]*discordgo.Role
}

func newGuildView(guildID, ownerID string, roles []*discordgo.Role, botID string, botRoles []string) *guildView {
	v := &guildView{
		guildID:  guildID,
		ownerID:  ownerID,
		botID:    botID,
		botRoles: botRoles,
		roles:    make(map[string]*discordgo.Role, len(roles)),
	}
	for _, r := range roles {
		v.roles[r.ID] = r
	}
	return v
}

// permissions folds @everyone (whose id is the guild id) and the member's
// roles into one permission set.
func (v *guildView) permissions(memberRoles []string) int64 {
	var perms int64
	if everyone, ok := v.roles[v.guildID]; ok {
		perms |= everyone.Permissions
	}
	for _, id := range memberRoles {
		if r, ok := v.roles[id]; ok {
			perms |= r.Permissions
		}
	}
	return perms
}

func (v *guildView) has(memberRoles []string, perm int64) bool {
	perms := v.permissions(memberRoles)
	return perms&discordgo.PermissionAdministrator != 0 || perms&perm != 0
}

// highest is the top role position among memberRoles, 0 for @everyone only.
func (v *guildView) highest(memberRoles []string) int {
	top := 0
	for _, id := range memberRoles {
		if r, ok := v.roles[id]; ok && r.Position > top {
			top = r.Position
		}
	}
	return top
}

func (v *guildView) canManageRole(roleID string) bool {
	role, ok := v.roles[roleID]
	if !ok || role.Managed {
		return false
	}
	if v.botID == v.ownerID {
		return true
	}
	return v.has(v.botRoles, discordgo.PermissionManageRoles) && role.Position < v.highest(v.botRoles)
}

func (v *guildView) canKick(targetID string, targetRoles []string) bool {
	if targetID == v.ownerID || targetID == v.botID {
		return false
	}
	if v.botID == v.ownerID {
		return true
	}
	return v.has(v.botRoles, discordgo.PermissionKickMembers) && v.highest(targetRoles) < v.highest(v.botRoles)
}
