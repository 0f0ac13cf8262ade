package domain

import (
	"testing"

	identitydomain "corp-verifier/bot/internal/identity/domain"
)

func TestDefault(t *testing.T) {
	c := Default("guild-1")
	if c.GuildID != "guild-1" {
		t.Errorf("GuildID = %q", c.GuildID)
	}
	if c.Prefix != DefaultPrefix {
		t.Errorf("Prefix = %q, want %q", c.Prefix, DefaultPrefix)
	}
	if c.RequiresOrganization {
		t.Error("RequiresOrganization should default to false")
	}
	if c.RoleID != "" {
		t.Errorf("RoleID = %q, want empty", c.RoleID)
	}
	if len(c.AllowedUserTypes) != 0 {
		t.Errorf("AllowedUserTypes = %v, want empty", c.AllowedUserTypes)
	}
}

func TestAllows(t *testing.T) {
	c := Default("g")
	if c.Allows(identitydomain.UserTypeFullTimeEmployee) {
		t.Error("empty set must allow nobody")
	}
	c.AllowedUserTypes = []identitydomain.UserType{
		identitydomain.UserTypeFullTimeEmployee,
		identitydomain.UserTypeIntern,
	}
	if !c.Allows(identitydomain.UserTypeIntern) {
		t.Error("intern should be allowed")
	}
	if c.Allows(identitydomain.UserTypeContractor) {
		t.Error("contractor should not be allowed")
	}
}

func TestValidate(t *testing.T) {
	c := Default("")
	if err := c.Validate(); err == nil {
		t.Error("missing guild id should fail validation")
	}
	c = Default("g")
	c.Prefix = ""
	if err := c.Validate(); err == nil {
		t.Error("empty prefix should fail validation")
	}
	if err := Default("g").Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestUserTypesRoundTrip(t *testing.T) {
	types := []identitydomain.UserType{
		identitydomain.UserTypeFullTimeEmployee,
		identitydomain.UserTypeContractor,
	}
	encoded := EncodeUserTypes(types)
	if encoded != "employee,contractor" {
		t.Errorf("EncodeUserTypes = %q", encoded)
	}
	decoded := DecodeUserTypes(encoded)
	if len(decoded) != 2 || decoded[0] != types[0] || decoded[1] != types[1] {
		t.Errorf("DecodeUserTypes = %v", decoded)
	}
	if got := DecodeUserTypes(""); got != nil {
		t.Errorf("DecodeUserTypes(\"\") = %v, want nil", got)
	}
	if got := DecodeUserTypes("employee,,bogus"); len(got) != 1 {
		t.Errorf("unknown entries should be dropped, got %v", got)
	}
}
