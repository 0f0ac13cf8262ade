package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	guildconfigdomain "corp-verifier/bot/internal/guildconfig/domain"
	guildconfigrepo "corp-verifier/bot/internal/guildconfig/repository"
	identitydomain "corp-verifier/bot/internal/identity/domain"
	verificationrepo "corp-verifier/bot/internal/verification/repository"
	verificationservice "corp-verifier/bot/internal/verification/service"
)

// commandWord groups every subcommand under one word, so a guild with
// prefix "!" runs "!corp verify", "!corp settings", and so on.
const commandWord = "corp"

// commandTimeout bounds the short admin and configuration commands.
// verify is exempt: it legitimately blocks until the device code is
// used or expires.
const commandTimeout = 15 * time.Second

// Verifier is the verification service surface the handler drives.
type Verifier interface {
	Verify(ctx context.Context, guildID, userID string, cfg *guildconfigdomain.GuildConfiguration) verificationservice.Outcome
	Leave(ctx context.Context, guildID, userID string, cfg *guildconfigdomain.GuildConfiguration) (bool, error)
}

// Handler routes guild messages to commands. One handler serves all
// guilds; per-guild state lives in the configuration store.
type Handler struct {
	sess          Session
	configs       guildconfigrepo.Repository
	verifications verificationrepo.Repository
	verifier      Verifier

	// baseCtx is the process lifetime; cancelling it aborts in-flight
	// verifications during shutdown.
	baseCtx context.Context
}

func NewHandler(
	ctx context.Context,
	sess Session,
	configs guildconfigrepo.Repository,
	verifications verificationrepo.Repository,
	verifier Verifier,
) *Handler {
	return &Handler{
		sess:          sess,
		configs:       configs,
		verifications: verifications,
		verifier:      verifier,
		baseCtx:       ctx,
	}
}

// OnMessageCreate is the discordgo event callback.
func (h *Handler) OnMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	h.Handle(m.Message)
}

// Handle processes one guild message. Messages from bots, DMs, and
// content not addressed to the bot are ignored.
func (h *Handler) Handle(m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(h.baseCtx, commandTimeout)
	cfg, err := h.guildConfig(ctx, m.GuildID)
	if err != nil {
		cancel()
		log.Printf("discord: load config for guild %s: %v", m.GuildID, err)
		return
	}

	cmd, args, ok := parseCommand(m.Content, cfg.Prefix)
	if !ok {
		cancel()
		return
	}

	// verify runs against the base context: it outlives the short
	// command timeout by design.
	if cmd == "verify" {
		cancel()
		h.verify(h.baseCtx, m, cfg)
		return
	}
	defer cancel()

	switch cmd {
	case "leave":
		h.leave(ctx, m, cfg)
	case "who", "query":
		h.who(ctx, m, args)
	case "remove":
		h.remove(ctx, m, cfg, args)
	case "setrole":
		h.setRole(ctx, m, cfg, args)
	case "setprefix":
		h.setPrefix(ctx, m, cfg, args)
	case "requireorg":
		h.requireOrg(ctx, m, cfg, args)
	case "setorg":
		h.setOrg(ctx, m, cfg, args)
	case "setusertypes":
		h.setUserTypes(ctx, m, cfg, args)
	case "settings":
		h.settings(m, cfg)
	}
}

// guildConfig loads the guild's configuration, creating the permissive
// default on first interaction.
func (h *Handler) guildConfig(ctx context.Context, guildID string) (*guildconfigdomain.GuildConfiguration, error) {
	cfg, err := h.configs.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	cfg = guildconfigdomain.Default(guildID)
	if err := h.configs.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseCommand splits "<prefix>corp <cmd> <args...>" into its command
// word and arguments.
func parseCommand(content, prefix string) (cmd string, args []string, ok bool) {
	if !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) < 2 || !strings.EqualFold(fields[0], commandWord) {
		return "", nil, false
	}
	return strings.ToLower(fields[1]), fields[2:], true
}

func (h *Handler) verify(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration) {
	out := h.verifier.Verify(ctx, m.GuildID, m.Author.ID, cfg)
	switch out.Status {
	case verificationservice.OutcomeInProgress:
		h.reply(m, "You already have a verification in progress. Finish signing in or wait for the code to expire.")
	case verificationservice.OutcomeAlreadyVerified:
		h.reply(m, "You are already verified on this server.")
	case verificationservice.OutcomeCommitted:
		if out.Err != nil {
			// Record committed but the role grant failed; an admin has
			// to intervene, so say so in channel.
			log.Printf("discord: role grant after verify in guild %s: %v", m.GuildID, out.Err)
			h.reply(m, "You are verified, but I could not grant the role. Please contact a server admin.")
		}
	case verificationservice.OutcomeFailed:
		if errors.Is(out.Err, verificationservice.ErrDirectMessageFailed) {
			h.reply(m, "I couldn't send you a direct message. Enable DMs from server members and try again.")
			return
		}
		log.Printf("discord: verify attempt %s in guild %s: %v", out.Attempt, m.GuildID, out.Err)
		h.reply(m, "Something went wrong during verification. Please try again later.")
	case verificationservice.OutcomeDenied, verificationservice.OutcomeExpired:
		// The service already told the user over DM.
	}
}

func (h *Handler) leave(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration) {
	existed, err := h.verifier.Leave(ctx, m.GuildID, m.Author.ID, cfg)
	if err != nil {
		log.Printf("discord: leave in guild %s: %v", m.GuildID, err)
		h.reply(m, "Something went wrong removing your verification. Please try again later.")
		return
	}
	if !existed {
		h.reply(m, "You are not verified on this server.")
		return
	}
	h.reply(m, "Your verification has been removed.")
}

func (h *Handler) who(ctx context.Context, m *discordgo.Message, args []string) {
	if !h.requirePermission(m, discordgo.PermissionManageRoles) {
		return
	}
	userID, ok := targetUser(args)
	if !ok {
		h.reply(m, "Usage: who <user>")
		return
	}
	rec, err := h.verifications.Get(ctx, m.GuildID, userID)
	if err != nil {
		log.Printf("discord: lookup %s in guild %s: %v", userID, m.GuildID, err)
		h.reply(m, "Lookup failed. Please try again later.")
		return
	}
	if rec == nil {
		h.reply(m, "That user is not verified on this server.")
		return
	}
	h.reply(m, fmt.Sprintf("<@%s> is verified as `%s` (%s), last validated %s.",
		userID, rec.Alias, rec.Department, rec.ValidatedOn.Format("2006-01-02")))
}

func (h *Handler) remove(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration, args []string) {
	if !h.requirePermission(m, discordgo.PermissionManageRoles) {
		return
	}
	userID, ok := targetUser(args)
	if !ok {
		h.reply(m, "Usage: remove <user>")
		return
	}
	existed, err := h.verifier.Leave(ctx, m.GuildID, userID, cfg)
	if err != nil {
		log.Printf("discord: remove %s in guild %s: %v", userID, m.GuildID, err)
		h.reply(m, "Removal failed. Please try again later.")
		return
	}
	if !existed {
		h.reply(m, "That user is not verified on this server.")
		return
	}
	h.reply(m, fmt.Sprintf("Removed the verification for <@%s>.", userID))
}

func (h *Handler) setRole(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration, args []string) {
	if !h.requireOwner(m) {
		return
	}
	if len(args) != 1 {
		h.reply(m, "Usage: setrole <role>")
		return
	}
	cfg.RoleID = parseMention(args[0])
	h.saveConfig(ctx, m, cfg, fmt.Sprintf("Verified role set to <@&%s>.", cfg.RoleID))
}

func (h *Handler) setPrefix(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration, args []string) {
	if !h.requireOwner(m) {
		return
	}
	if len(args) != 1 || args[0] == "" {
		h.reply(m, "Usage: setprefix <prefix>")
		return
	}
	cfg.Prefix = args[0]
	h.saveConfig(ctx, m, cfg, fmt.Sprintf("Prefix set to `%s`.", cfg.Prefix))
}

func (h *Handler) requireOrg(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration, args []string) {
	if !h.requireOwner(m) {
		return
	}
	if len(args) != 1 {
		h.reply(m, "Usage: requireorg <true|false>")
		return
	}
	v, err := strconv.ParseBool(args[0])
	if err != nil {
		h.reply(m, "Usage: requireorg <true|false>")
		return
	}
	cfg.RequiresOrganization = v
	h.saveConfig(ctx, m, cfg, fmt.Sprintf("Organization requirement set to %t.", v))
}

func (h *Handler) setOrg(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration, args []string) {
	if !h.requireOwner(m) {
		return
	}
	if len(args) != 1 {
		h.reply(m, "Usage: setorg <alias>")
		return
	}
	cfg.Organization = args[0]
	h.saveConfig(ctx, m, cfg, fmt.Sprintf("Target organization set to `%s`.", cfg.Organization))
}

func (h *Handler) setUserTypes(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration, args []string) {
	if !h.requireOwner(m) {
		return
	}
	if len(args) == 0 {
		h.reply(m, "Usage: setusertypes <types...> (employee, intern, contractor)")
		return
	}
	types := make([]identitydomain.UserType, 0, len(args))
	for _, arg := range args {
		t := identitydomain.ParseUserType(arg)
		if t == identitydomain.UserTypeNone {
			h.reply(m, fmt.Sprintf("Unknown user type `%s`. Valid types: employee, intern, contractor.", arg))
			return
		}
		types = append(types, t)
	}
	cfg.AllowedUserTypes = types
	h.saveConfig(ctx, m, cfg, fmt.Sprintf("Allowed user types set to %s.", guildconfigdomain.EncodeUserTypes(types)))
}

func (h *Handler) settings(m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration) {
	if !h.requireOwner(m) {
		return
	}
	role := "(none)"
	if cfg.RoleID != "" {
		role = "<@&" + cfg.RoleID + ">"
	}
	org := cfg.Organization
	if org == "" {
		org = "(none)"
	}
	types := guildconfigdomain.EncodeUserTypes(cfg.AllowedUserTypes)
	if types == "" {
		types = "(none)"
	}
	h.reply(m, fmt.Sprintf(
		"prefix: `%s`\nrole: %s\nrequires organization: %t\norganization: `%s`\nallowed user types: %s",
		cfg.Prefix, role, cfg.RequiresOrganization, org, types))
}

func (h *Handler) saveConfig(ctx context.Context, m *discordgo.Message, cfg *guildconfigdomain.GuildConfiguration, confirmation string) {
	if err := cfg.Validate(); err != nil {
		h.reply(m, "Invalid configuration: "+err.Error())
		return
	}
	if err := h.configs.Upsert(ctx, cfg); err != nil {
		log.Printf("discord: save config for guild %s: %v", m.GuildID, err)
		h.reply(m, "Saving the configuration failed. Please try again later.")
		return
	}
	h.reply(m, confirmation)
}

func (h *Handler) requirePermission(m *discordgo.Message, perm int64) bool {
	perms, err := h.sess.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		log.Printf("discord: resolve permissions for %s: %v", m.Author.ID, err)
		return false
	}
	if perms&perm == 0 && perms&discordgo.PermissionAdministrator == 0 {
		h.reply(m, "You do not have permission to use this command.")
		return false
	}
	return true
}

func (h *Handler) requireOwner(m *discordgo.Message) bool {
	g, err := h.sess.Guild(m.GuildID)
	if err != nil {
		log.Printf("discord: resolve guild %s: %v", m.GuildID, err)
		return false
	}
	if g.OwnerID != m.Author.ID {
		h.reply(m, "Only the server owner can use this command.")
		return false
	}
	return true
}

func (h *Handler) reply(m *discordgo.Message, content string) {
	if _, err := h.sess.ChannelMessageSend(m.ChannelID, content); err != nil {
		log.Printf("discord: reply in channel %s: %v", m.ChannelID, err)
	}
}

// targetUser extracts the target user id from a single mention or raw
// id argument.
func targetUser(args []string) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	id := parseMention(args[0])
	if id == "" {
		return "", false
	}
	return id, true
}

// parseMention strips Discord mention framing (<@id>, <@!id>, <@&id>)
// and returns the bare snowflake.
func parseMention(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimPrefix(s, "&")
	return s
}
