package readiness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullPass(t *testing.T) *Checker {
	t.Helper()
	c := NewChecker()
	for _, name := range Battery {
		require.NoError(t, c.Record(name, Pass, ""))
	}
	c.StackValid = true
	c.HeapValid = true
	c.PowerStatus = true
	return c
}

func TestReadyRequiresEverything(t *testing.T) {
	c := fullPass(t)
	assert.True(t, c.Ready())
	_, failed := c.FirstFailure()
	assert.False(t, failed)
}

func TestEmptyCheckerIsNotReady(t *testing.T) {
	c := NewChecker()
	c.StackValid = true
	c.HeapValid = true
	c.PowerStatus = true
	assert.False(t, c.Ready(), "an empty battery must not pass")

	name, failed := c.FirstFailure()
	require.True(t, failed)
	assert.Equal(t, "no checks recorded", name)
}

func TestSingleFailureBlocksReadiness(t *testing.T) {
	c := fullPass(t)
	require.NoError(t, c.Record(CheckPaging, Fail, "PML4 not loaded"))
	assert.False(t, c.Ready())
	assert.Equal(t, 1, c.FailCount())

	name, failed := c.FirstFailure()
	require.True(t, failed)
	assert.Equal(t, CheckPaging, name)
}

func TestWarningsDoNotBlock(t *testing.T) {
	c := fullPass(t)
	require.NoError(t, c.Record(CheckCPUFeatures, Warn, "no AVX"))
	assert.True(t, c.Ready())
	assert.Equal(t, 1, c.WarnCount())
}

func TestEnvironmentFlagsRequired(t *testing.T) {
	for _, clear := range []func(*Checker){
		func(c *Checker) { c.StackValid = false },
		func(c *Checker) { c.HeapValid = false },
		func(c *Checker) { c.PowerStatus = false },
	} {
		c := fullPass(t)
		clear(c)
		assert.False(t, c.Ready())
		_, failed := c.FirstFailure()
		assert.True(t, failed)
	}
}

func TestRecordRejectsUnknownCheck(t *testing.T) {
	c := NewChecker()
	err := c.Record("spurious", Pass, "")
	assert.Error(t, err)
	assert.Empty(t, c.Results())
}

func TestVerdictIsPureAggregation(t *testing.T) {
	// Ready must not mutate anything: asking twice gives the same answer
	// and the recorded results are untouched.
	c := fullPass(t)
	before := len(c.Results())
	assert.Equal(t, c.Ready(), c.Ready())
	assert.Equal(t, before, len(c.Results()))
}

func TestReport(t *testing.T) {
	c := fullPass(t)
	require.NoError(t, c.Record(CheckGDT, Fail, "descriptor limit"))
	r := c.Report()
	assert.Contains(t, r, "NOT READY")
	assert.Contains(t, r, "[FAIL] GDT configuration: descriptor limit")
	assert.Contains(t, r, "11 recorded, 1 failed")
}
