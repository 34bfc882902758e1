package railsync

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testrail/accumulator"
	"github.com/ethereum-optimism/infra/op-testrail/selector"
)

func TestSummaryPrint(t *testing.T) {
	s := &Summary{
		Mode:      ModeDistributedPlan,
		RunID:     81,
		EntryID:   "abc",
		Selection: selector.Counters{Candidates: 4, Selected: 3, Skipped: 1},
		Stats:     accumulator.Stats{Examples: 3, Failed: 1, Posted: 4, Flushes: 2},
		Executed:  4,
		Duration:  1500 * time.Millisecond,
	}
	assert.Equal(t, "TestRail Sync (distributed-plan, run 81, entry abc, 1.5s)", s.title())

	out := &bytes.Buffer{}
	s.Print(out)
	text := strings.ToLower(out.String())
	assert.Contains(t, text, "selection")
	assert.Contains(t, text, "results posted")
}

func TestSummaryTitleWithoutEntry(t *testing.T) {
	s := &Summary{Mode: ModeRun, RunID: 12}
	assert.Equal(t, "TestRail Sync (run, run 12)", s.title())
}

func TestPrintSelection(t *testing.T) {
	out := &bytes.Buffer{}
	PrintSelection(out, 12, selector.Counters{Candidates: 5, Selected: 2, Skipped: 3, Orphaned: 2})
	text := strings.ToLower(out.String())
	assert.Contains(t, text, "testrail selection (run 12)")
	assert.Contains(t, text, "orphaned")
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("refused")
	runtimeErr := fmt.Errorf("sync: %w", NewRuntimeError(cause))
	require.True(t, IsRuntimeError(runtimeErr))
	require.False(t, IsTestFailureError(runtimeErr))
	require.ErrorIs(t, runtimeErr, cause)

	failure := NewTestFailureError(2, 7)
	assert.Equal(t, "test failure: 2 of 7 reported tests failed", failure.Error())
	require.True(t, IsTestFailureError(failure))
	require.False(t, IsRuntimeError(failure))

	require.False(t, IsRuntimeError(nil))
	require.False(t, IsTestFailureError(nil))
}
