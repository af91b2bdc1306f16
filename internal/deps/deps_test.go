package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetContains(t *testing.T) {
	s := NewSet("analytics", []string{"dbt_utils", "audit_helper"})

	assert.True(t, s.Contains("analytics"), "root is always contained")
	assert.True(t, s.Contains("dbt_utils"))
	assert.True(t, s.Contains("audit_helper"))
	assert.False(t, s.Contains("codegen"))
	assert.Equal(t, "analytics", s.Root())
}

func TestSetNamesSorted(t *testing.T) {
	s := NewSet("zeta", []string{"beta", "alpha"})
	assert.Equal(t, []string{"alpha", "beta", "zeta"}, s.Names())
}

func TestSetIgnoresLaterInputMutation(t *testing.T) {
	pkgs := []string{"dbt_utils"}
	s := NewSet("analytics", pkgs)

	pkgs[0] = "mutated"
	assert.True(t, s.Contains("dbt_utils"))
	assert.False(t, s.Contains("mutated"))
}

func TestEmptySet(t *testing.T) {
	s := NewSet("solo", nil)
	assert.True(t, s.Contains("solo"))
	assert.Equal(t, []string{"solo"}, s.Names())
}
