// Package discord implements the review platform on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"reviewbot/backend/internal/platform"
)

// Session is the part of *discordgo.Session the adapter uses.
type Session interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

var _ Session = (*discordgo.Session)(nil)

// Platform talks to Discord on behalf of review flows.
type Platform struct {
	session Session
	botID   string
}

var _ platform.Platform = (*Platform)(nil)

// NewPlatform wraps a session. botID is the bot's own user id, used for
// hierarchy checks.
func NewPlatform(s Session, botID string) *Platform {
	return &Platform{session: s, botID: botID}
}

func (p *Platform) FetchMember(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	m, err := p.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("fetch_member", err)
	}
	return &platform.Member{UserID: userID, Roles: m.Roles}, nil
}

func (p *Platform) FetchRole(ctx context.Context, guildID, roleID string) (*platform.Role, error) {
	roles, err := p.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("fetch_role", err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return &platform.Role{ID: r.ID, Name: r.Name, Position: r.Position}, nil
		}
	}
	return nil, platform.NewError("fetch_role", platform.CodeNotFound, fmt.Errorf("role %s not in guild %s", roleID, guildID))
}

// hierarchy loads what the permission checks need: the guild owner, its
// roles and the bot's member record.
func (p *Platform) hierarchy(ctx context.Context, op, guildID string) (*guildView, error) {
	g, err := p.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(op, err)
	}
	roles := g.Roles
	if len(roles) == 0 {
		if roles, err = p.session.GuildRoles(guildID, discordgo.WithContext(ctx)); err != nil {
			return nil, classify(op, err)
		}
	}
	bot, err := p.session.GuildMember(guildID, p.botID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(op, err)
	}
	return newGuildView(guildID, g.OwnerID, roles, p.botID, bot.Roles), nil
}

func (p *Platform) CanManageRole(ctx context.Context, guildID, roleID string) (bool, error) {
	view, err := p.hierarchy(ctx, "can_manage_role", guildID)
	if err != nil {
		return false, err
	}
	if _, ok := view.roles[roleID]; !ok {
		return false, platform.NewError("can_manage_role", platform.CodeNotFound, fmt.Errorf("role %s not in guild %s", roleID, guildID))
	}
	return view.canManageRole(roleID), nil
}

func (p *Platform) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	err := p.session.GuildMemberRoleAdd(guildID, userID, roleID, requestOptions(ctx, reason)...)
	return classify("grant_role", err)
}

func (p *Platform) SendDirectMessage(ctx context.Context, userID, content string) error {
	ch, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classify("dm", err)
	}
	_, err = p.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return classify("dm", err)
}

func (p *Platform) Kickable(ctx context.Context, guildID, userID string) (bool, error) {
	target, err := p.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, classify("kickable", err)
	}
	view, err := p.hierarchy(ctx, "kickable", guildID)
	if err != nil {
		return false, err
	}
	return view.canKick(userID, target.Roles), nil
}

func (p *Platform) KickMember(ctx context.Context, guildID, userID, reason string) error {
	err := p.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
	return classify("kick", err)
}

func (p *Platform) CloseThread(ctx context.Context, threadID, reason string) error {
	yes := true
	_, err := p.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Archived: &yes, Locked: &yes}, requestOptions(ctx, reason)...)
	return classify("close_thread", err)
}

// requestOptions binds a call to ctx and records reason in the guild audit log.
func requestOptions(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

// classify maps discordgo errors onto platform codes.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return platform.NewError(op, platform.CodeTimeout, err)
	}

	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return platform.NewError(op, platform.CodeUnknown, err)
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownRole, discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownGuild:
			return platform.NewError(op, platform.CodeNotFound, err)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return platform.NewError(op, platform.CodeMissingPermissions, err)
		case discordgo.ErrCodeCannotSendMessagesToThisUser:
			return platform.NewError(op, platform.CodeCannotDM, err)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return platform.NewError(op, platform.CodeNotFound, err)
		case http.StatusForbidden:
			return platform.NewError(op, platform.CodeMissingPermissions, err)
		}
	}
	return platform.NewError(op, platform.CodeUnknown, err)
}
