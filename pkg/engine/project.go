package engine

import (
	"github.com/veridata/fieldgate/pkg/actor"
	"github.com/veridata/fieldgate/pkg/policy"
)

// Projector strips fields an actor may not read from records leaving the
// engine. Projection fails closed: any internal fault denies the whole
// record rather than returning a partial projection.
type Projector struct {
	table *policy.Table
}

// NewProjector creates a projector over the policy table
func NewProjector(table *policy.Table) *Projector {
	return &Projector{table: table}
}

// Project returns a copy of data holding only the fields the actor may
// read. Undeclared fields are dropped: the lookup is total and defaults to
// deny. Ownership-widened read rules are resolved against the record itself.
func (p *Projector) Project(a actor.Actor, resourceType string, data map[string]interface{}) (projected map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			projected = nil
			err = ErrForbidden
		}
	}()

	cfg, ok := p.table.Resource(resourceType)
	if !ok {
		return nil, ErrForbidden
	}

	projected = make(map[string]interface{}, len(data))
	for name, value := range data {
		if !cfg.HasField(name) {
			continue
		}
		rule := p.table.EffectiveRule(cfg, p.table.FieldRule(resourceType, name, policy.OpRead))
		if rule.Admits(a, data) {
			projected[name] = value
		}
	}
	return projected, nil
}
