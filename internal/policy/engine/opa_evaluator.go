package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.corpverifier.guild_access"

// guildAccessPolicy encodes the two guild admission rules: the identity
// must report into the required organization (when one is required),
// and its user type must be in the guild's allowed set.
const guildAccessPolicy = `package corpverifier.guild_access

default allow := false

org_ok if {
	not input.guild.requires_organization
}

org_ok if {
	input.identity.organization_found
}

type_ok if {
	input.identity.user_type in input.guild.allowed_user_types
}

allow if {
	org_ok
	type_ok
}

default reason := ""

reason := "organization_mismatch" if {
	not org_ok
}

reason := "user_type_not_allowed" if {
	org_ok
	not type_ok
}
`

// OPAEvaluator evaluates guild access with an in-process OPA Rego
// policy, prepared once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the guild access policy and returns an
// evaluator backed by it.
func NewOPAEvaluator(ctx context.Context) (*OPAEvaluator, error) {
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("guild_access.rego", guildAccessPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare guild access policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// EvaluateAccess evaluates the guild access policy for the given input.
// Engine failures surface as errors; they are not deny decisions.
func (e *OPAEvaluator) EvaluateAccess(ctx context.Context, in Input) (Decision, error) {
	allowedTypes := make([]string, len(in.AllowedUserTypes))
	for i, t := range in.AllowedUserTypes {
		allowedTypes[i] = string(t)
	}
	input := map[string]any{
		"guild": map[string]any{
			"requires_organization": in.RequiresOrganization,
			"allowed_user_types":    allowedTypes,
		},
		"identity": map[string]any{
			"organization_found": in.OrganizationFound,
			"user_type":          string(in.UserType),
		},
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate guild access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("guild access policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("guild access policy returned unexpected document %T", rs[0].Expressions[0].Value)
	}
	allow, _ := doc["allow"].(bool)
	reason, _ := doc["reason"].(string)
	return Decision{Allowed: allow, Reason: Reason(reason)}, nil
}
