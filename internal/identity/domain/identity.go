package domain

import "strings"

// Profile is a corp directory user as the bot sees it.
type Profile struct {
	ID             string
	Alias          string
	Department     string
	AccountEnabled bool
}

// UserType categorizes a directory identity by its alias convention.
type UserType string

const (
	UserTypeNone             UserType = "none"
	UserTypeFullTimeEmployee UserType = "employee"
	UserTypeIntern           UserType = "intern"
	UserTypeContractor       UserType = "contractor"
)

// ParseUserType maps a user-supplied name to a UserType. Accepts the
// canonical names plus a few aliases used in chat commands. Returns
// UserTypeNone for anything unrecognized.
func ParseUserType(s string) UserType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "employee", "fulltimeemployee", "fte":
		return UserTypeFullTimeEmployee
	case "intern":
		return UserTypeIntern
	case "contractor":
		return UserTypeContractor
	default:
		return UserTypeNone
	}
}

// Classify derives the user type from a directory alias.
// Interns carry a "t-" prefix; contractors and vendors a single-letter
// prefix followed by a hyphen (e.g. "v-jdoe"). Aliases too short to
// carry a prefix classify as full-time rather than faulting.
func Classify(alias string) UserType {
	if strings.HasPrefix(alias, "t-") {
		return UserTypeIntern
	}
	if len(alias) >= 2 && alias[1] == '-' {
		return UserTypeContractor
	}
	return UserTypeFullTimeEmployee
}
