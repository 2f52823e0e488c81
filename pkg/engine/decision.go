package engine

import (
	"context"

	"github.com/veridata/fieldgate/pkg/actor"
	"github.com/veridata/fieldgate/pkg/policy"
)

// Op is a collection-level operation under evaluation
type Op string

const (
	OpCreate Op = "create"
	OpRead   Op = "read"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Effect is the outcome of an access-control evaluation
type Effect string

const (
	EffectDenied          Effect = "denied"
	EffectAllowed         Effect = "allowed"
	EffectAllowedFiltered Effect = "allowed_filtered"
)

// Decision is the result of evaluating an operation. A filtered allow
// carries a predicate callers must AND onto their own query filters; when
// fetching by id they must re-check it against the fetched record.
type Decision struct {
	Effect Effect           `json:"effect"`
	Filter policy.RowFilter `json:"filter,omitempty"`
}

// Denied reports whether the decision blocks the operation
func (d Decision) Denied() bool {
	return d.Effect == EffectDenied
}

// AdmitsRecord re-checks a filtered allow against a fetched record
func (d Decision) AdmitsRecord(data map[string]interface{}) bool {
	switch d.Effect {
	case EffectAllowed:
		return true
	case EffectAllowedFiltered:
		return d.Filter.Matches(data)
	}
	return false
}

var (
	denied  = Decision{Effect: EffectDenied}
	allowed = Decision{Effect: EffectAllowed}
)

func allowedWithFilter(filter policy.RowFilter) Decision {
	if len(filter) == 0 {
		return allowed
	}
	return Decision{Effect: EffectAllowedFiltered, Filter: filter}
}

// Evaluator resolves collection-level permission for an actor against a
// resource type. It is a pure decision function over the policy table; the
// optional cache short-circuits lookups whose outcome depends only on the
// actor's role.
type Evaluator struct {
	table *policy.Table
	cache *DecisionCache
}

// NewEvaluator creates an evaluator over the policy table
func NewEvaluator(table *policy.Table) *Evaluator {
	return &Evaluator{table: table}
}

// WithCache attaches a decision cache
func (e *Evaluator) WithCache(cache *DecisionCache) *Evaluator {
	e.cache = cache
	return e
}

// Evaluate resolves the operation for the actor. record may be nil for
// collection-level questions (list queries, creates); when present it is
// consulted for ownership and state preconditions. Unknown resource types
// are denied.
func (e *Evaluator) Evaluate(ctx context.Context, a actor.Actor, resourceType string, op Op, record map[string]interface{}) Decision {
	cfg, ok := e.table.Resource(resourceType)
	if !ok {
		return denied
	}

	decision, cached := e.cached(ctx, a, resourceType, op)
	if cached {
		if op == OpDelete && decision.Effect == EffectAllowed && !cfg.DeletePrecondition.Matches(record) {
			return denied
		}
		return e.checkRecord(decision, record)
	}

	cacheable := false

	switch op {
	case OpCreate:
		decision = e.evaluateRoleList(a, cfg.Create)
		cacheable = true
	case OpDelete:
		decision = e.evaluateRoleList(a, cfg.Delete)
		cacheable = true
		if decision.Effect == EffectAllowed && len(cfg.DeletePrecondition) > 0 {
			// Cache the role verdict, not the per-record precondition.
			if e.cache != nil {
				e.cache.Set(ctx, cacheKey(a.Role, resourceType, op), decision)
			}
			cacheable = false
			if !cfg.DeletePrecondition.Matches(record) {
				decision = denied
			}
		}
	case OpRead:
		decision, cacheable = e.evaluateRule(a, cfg, e.table.EffectiveRule(cfg, cfg.Read), cfg.PublicReadCondition)
	case OpUpdate:
		decision, cacheable = e.evaluateRule(a, cfg, e.table.EffectiveRule(cfg, cfg.Update), nil)
	default:
		return denied
	}

	if cacheable && e.cache != nil {
		e.cache.Set(ctx, cacheKey(a.Role, resourceType, op), decision)
	}

	return e.checkRecord(decision, record)
}

// checkRecord applies a filtered allow to a concrete record when one is in
// hand. Collection-level callers keep the filter and AND it onto their query.
func (e *Evaluator) checkRecord(decision Decision, record map[string]interface{}) Decision {
	if decision.Effect == EffectAllowedFiltered && record != nil {
		if !decision.Filter.Matches(record) {
			return denied
		}
		return allowed
	}
	return decision
}

func (e *Evaluator) cached(ctx context.Context, a actor.Actor, resourceType string, op Op) (Decision, bool) {
	if e.cache == nil {
		return Decision{}, false
	}
	return e.cache.Get(ctx, cacheKey(a.Role, resourceType, op))
}

func (e *Evaluator) evaluateRoleList(a actor.Actor, roles []actor.Role) Decision {
	if a.In(roles) {
		return allowed
	}
	return denied
}

// evaluateRule translates a collection rule into a decision. An allow_all
// rule with a public-read condition admits the listed roles without
// restriction and everyone else filtered to matching records. The second
// return reports whether the decision is independent of actor id and record
// state, and therefore cacheable per role.
func (e *Evaluator) evaluateRule(a actor.Actor, cfg *policy.ResourceConfig, rule policy.Rule, publicCondition policy.RowFilter) (Decision, bool) {
	if rule.Kind == policy.RuleAllowAll && len(publicCondition) > 0 {
		if a.In(rule.Roles) {
			return allowed, true
		}
		return allowedWithFilter(publicCondition), true
	}

	filter, ok := rule.RowFilter(a)
	if !ok {
		return denied, rule.Kind != policy.RuleAllowOwnerOrRoles
	}
	if filter == nil {
		return allowed, rule.Kind != policy.RuleAllowOwnerOrRoles
	}
	// Ownership filters embed the actor id and are never cached.
	return allowedWithFilter(filter), false
}

func cacheKey(role actor.Role, resourceType string, op Op) string {
	return string(role) + ":" + resourceType + ":" + string(op)
}
