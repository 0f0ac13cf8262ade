// Package discord is the gateway shim: it routes prefix commands from
// guild channels to the verification service and adapts the Discord
// session into the narrow interfaces the core packages depend on.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Session is the slice of the Discord API this package uses. It is
// satisfied by *discordgo.Session.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
}

// Notifier delivers direct messages by opening (or reusing) the DM
// channel with the user. Channel creation failures surface as delivery
// failures so callers can fall back to an in-channel hint.
type Notifier struct {
	sess Session
}

func NewNotifier(sess Session) *Notifier {
	return &Notifier{sess: sess}
}

func (n *Notifier) SendDirect(ctx context.Context, userID, message string) error {
	ch, err := n.sess.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	if _, err := n.sess.ChannelMessageSend(ch.ID, message); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

// Roles grants and revokes the verified role through the gateway.
type Roles struct {
	sess Session
}

func NewRoles(sess Session) *Roles {
	return &Roles{sess: sess}
}

func (r *Roles) Grant(ctx context.Context, guildID, userID, roleID string) error {
	if err := r.sess.GuildMemberRoleAdd(guildID, userID, roleID); err != nil {
		return fmt.Errorf("grant role %s: %w", roleID, err)
	}
	return nil
}

func (r *Roles) Revoke(ctx context.Context, guildID, userID, roleID string) error {
	if err := r.sess.GuildMemberRoleRemove(guildID, userID, roleID); err != nil {
		return fmt.Errorf("revoke role %s: %w", roleID, err)
	}
	return nil
}
