package domain

import (
	"errors"
	"strings"
	"time"

	identitydomain "corp-verifier/bot/internal/identity/domain"
)

// DefaultPrefix is the command prefix a guild gets before an owner
// configures one.
const DefaultPrefix = "!"

// GuildConfiguration holds one guild's verification policy and command
// settings. Created lazily with permissive defaults on first
// interaction; mutated only by owner-level commands.
type GuildConfiguration struct {
	GuildID              string
	Prefix               string
	RoleID               string // empty until setrole; no role is granted while empty
	RequiresOrganization bool
	Organization         string // target alias in the management chain
	AllowedUserTypes     []identitydomain.UserType
	UpdatedAt            time.Time
}

// Default returns the permissive configuration a guild starts with:
// default prefix, no org requirement, no role, no allowed user types.
// A guild owner must set allowed user types before verify can admit.
func Default(guildID string) *GuildConfiguration {
	return &GuildConfiguration{
		GuildID: guildID,
		Prefix:  DefaultPrefix,
	}
}

// Allows reports whether t is in the allowed user type set. An empty
// set allows nobody.
func (c *GuildConfiguration) Allows(t identitydomain.UserType) bool {
	for _, a := range c.AllowedUserTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Validate validates the configuration for persistence.
func (c *GuildConfiguration) Validate() error {
	if c.GuildID == "" {
		return errors.New("guild id is required")
	}
	if c.Prefix == "" {
		return errors.New("prefix is required")
	}
	return nil
}

// EncodeUserTypes joins a user type set into the comma-separated form
// stored in the database. Order is preserved as given.
func EncodeUserTypes(types []identitydomain.UserType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// DecodeUserTypes parses the stored comma-separated user type set.
// Unknown or empty entries are dropped.
func DecodeUserTypes(s string) []identitydomain.UserType {
	if s == "" {
		return nil
	}
	var out []identitydomain.UserType
	for _, p := range strings.Split(s, ",") {
		t := identitydomain.ParseUserType(p)
		if t != identitydomain.UserTypeNone {
			out = append(out, t)
		}
	}
	return out
}
