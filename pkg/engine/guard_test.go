package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridata/fieldgate/pkg/policy"
)

func TestGuardRestoresChangedValue(t *testing.T) {
	g := NewGuard(policy.Default())

	incoming := map[string]interface{}{
		"dni":        "99999999X",
		"first_name": "Ana",
	}
	original := map[string]interface{}{
		"dni":        "12345678Z",
		"first_name": "Ana",
	}

	restored := g.Apply("student", incoming, original)

	require.Len(t, restored, 1)
	assert.Equal(t, "dni", restored[0].Name)
	assert.NotEmpty(t, restored[0].AttemptHash)
	assert.NotContains(t, restored[0].AttemptHash, "99999999X")

	// The original value survives; the mutable field change does not revert.
	assert.Equal(t, "12345678Z", incoming["dni"])
	assert.Equal(t, "Ana", incoming["first_name"])
}

func TestGuardDropsNeverSetValue(t *testing.T) {
	g := NewGuard(policy.Default())

	incoming := map[string]interface{}{"dni": "12345678Z"}
	original := map[string]interface{}{"first_name": "Ana"}

	restored := g.Apply("student", incoming, original)

	require.Len(t, restored, 1)
	assert.Equal(t, "dni", restored[0].Name)
	assert.NotContains(t, incoming, "dni")
}

func TestGuardUnchangedValueIsNoOp(t *testing.T) {
	g := NewGuard(policy.Default())

	incoming := map[string]interface{}{"dni": "12345678Z"}
	original := map[string]interface{}{"dni": "12345678Z"}

	restored := g.Apply("student", incoming, original)
	assert.Empty(t, restored)
	assert.Equal(t, "12345678Z", incoming["dni"])
}

func TestGuardTypeWithoutImmutableFields(t *testing.T) {
	g := NewGuard(policy.Default())

	incoming := map[string]interface{}{"status": "won"}
	restored := g.Apply("lead", incoming, map[string]interface{}{"status": "new"})
	assert.Empty(t, restored)
}

func TestGuardNumericCounter(t *testing.T) {
	g := NewGuard(policy.Default())

	incoming := map[string]interface{}{"total_leads": float64(9000)}
	original := map[string]interface{}{"total_leads": float64(12)}

	restored := g.Apply("campaign", incoming, original)
	require.Len(t, restored, 1)
	assert.Equal(t, float64(12), incoming["total_leads"])
}
