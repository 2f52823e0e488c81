package engine

import (
	"reflect"

	"github.com/veridata/fieldgate/pkg/audit"
	"github.com/veridata/fieldgate/pkg/policy"
)

// Guard is the last line of defense for immutable fields. Permission layers
// are expected to stop tampering attempts before they get here; anything
// that slips through is silently reverted and reported via the audit trail
// only, never in the response.
type Guard struct {
	table *policy.Table
}

// NewGuard creates a guard over the policy table
func NewGuard(table *policy.Table) *Guard {
	return &Guard{table: table}
}

// Apply reverts changes to immutable fields in incoming, comparing against
// the record's original data. incoming is mutated in place. The returned
// list names each reverted field with a hash of the discarded value.
//
// A value supplied for an immutable field that was never set at creation is
// also discarded: immutable fields are settable exactly once, at creation.
func (g *Guard) Apply(resourceType string, incoming, original map[string]interface{}) []audit.RestoredField {
	immutable := g.table.ImmutableFields(resourceType)
	if len(immutable) == 0 {
		return nil
	}

	var restored []audit.RestoredField
	for name := range immutable {
		attempted, present := incoming[name]
		if !present {
			continue
		}
		baseline, existed := original[name]
		if existed && reflect.DeepEqual(attempted, baseline) {
			continue
		}

		if existed {
			incoming[name] = baseline
		} else {
			delete(incoming, name)
		}
		restored = append(restored, audit.RestoredField{
			Name:        name,
			AttemptHash: audit.AttemptHash(attempted),
		})
	}
	return restored
}
