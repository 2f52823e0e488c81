package policy

import (
	"github.com/veridata/fieldgate/pkg/actor"
)

// Operation represents a field-level operation governed by a rule
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// RuleKind identifies the permission predicate of a rule
type RuleKind string

const (
	RuleAllowAll          RuleKind = "allow_all"
	RuleDenyAll           RuleKind = "deny_all"
	RuleAllowRoles        RuleKind = "allow_roles"
	RuleAllowOwnerOrRoles RuleKind = "allow_owner_or_roles"
)

// Valid reports whether the kind is one of the declared rule kinds
func (k RuleKind) Valid() bool {
	switch k {
	case RuleAllowAll, RuleDenyAll, RuleAllowRoles, RuleAllowOwnerOrRoles:
		return true
	}
	return false
}

// RowFilter is a conjunctive set of field equality conditions over a record.
// Callers must AND it onto their own query filters, never substitute it for them.
type RowFilter map[string]interface{}

// Matches reports whether the record data satisfies every condition
func (f RowFilter) Matches(data map[string]interface{}) bool {
	for field, want := range f {
		if data[field] != want {
			return false
		}
	}
	return true
}

// And returns a new filter combining both conjuncts
func (f RowFilter) And(other RowFilter) RowFilter {
	if f == nil {
		return other
	}
	combined := make(RowFilter, len(f)+len(other))
	for k, v := range f {
		combined[k] = v
	}
	for k, v := range other {
		combined[k] = v
	}
	return combined
}

// Rule is a permission predicate over an actor, optionally widened to the
// owner of the record under evaluation.
type Rule struct {
	Kind       RuleKind     `yaml:"kind" json:"kind"`
	Roles      []actor.Role `yaml:"roles,omitempty" json:"roles,omitempty"`
	OwnerField string       `yaml:"owner_field,omitempty" json:"owner_field,omitempty"`
}

// DenyAll is the default rule for undeclared field/operation pairs
func DenyAll() Rule {
	return Rule{Kind: RuleDenyAll}
}

// AllowAll admits every actor, anonymous included
func AllowAll() Rule {
	return Rule{Kind: RuleAllowAll}
}

// AllowRoles admits actors holding one of the given roles
func AllowRoles(roles ...actor.Role) Rule {
	return Rule{Kind: RuleAllowRoles, Roles: roles}
}

// AllowOwnerOrRoles admits actors holding one of the given roles, or the
// actor referenced by the record's owner field.
func AllowOwnerOrRoles(ownerField string, roles ...actor.Role) Rule {
	return Rule{Kind: RuleAllowOwnerOrRoles, OwnerField: ownerField, Roles: roles}
}

// Admits reports whether the rule admits the actor for the given record.
// data may be nil for collection-level questions; ownership then cannot
// match and only the role list applies.
func (r Rule) Admits(a actor.Actor, data map[string]interface{}) bool {
	switch r.Kind {
	case RuleAllowAll:
		return true
	case RuleDenyAll:
		return false
	case RuleAllowRoles:
		// Anonymous is admitted only when the list names it explicitly.
		return a.In(r.Roles)
	case RuleAllowOwnerOrRoles:
		if a.In(r.Roles) {
			return true
		}
		if data == nil || r.OwnerField == "" || a.ID == "" {
			return false
		}
		owner, _ := data[r.OwnerField].(string)
		return owner != "" && owner == a.ID
	}
	return false
}

// RowFilter translates the rule into a query-time filter for the actor.
// It returns (nil, true) when the actor has unrestricted access, a non-nil
// filter when access is restricted to matching rows, and (nil, false) when
// the actor is denied outright.
func (r Rule) RowFilter(a actor.Actor) (RowFilter, bool) {
	switch r.Kind {
	case RuleAllowAll:
		return nil, true
	case RuleDenyAll:
		return nil, false
	case RuleAllowRoles:
		if a.In(r.Roles) {
			return nil, true
		}
		return nil, false
	case RuleAllowOwnerOrRoles:
		if a.In(r.Roles) {
			return nil, true
		}
		if r.OwnerField == "" || a.ID == "" {
			return nil, false
		}
		return RowFilter{r.OwnerField: a.ID}, true
	}
	return nil, false
}
