package testrail

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyAPI fails every call with err until failures run out.
type flakyAPI struct {
	err      error
	failures int
	calls    map[string]int
}

func newFlakyAPI(err error, failures int) *flakyAPI {
	return &flakyAPI{err: err, failures: failures, calls: make(map[string]int)}
}

func (f *flakyAPI) fail(op string) error {
	f.calls[op]++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyAPI) GetRunCases(ctx context.Context, runID int64) ([]Test, error) {
	if err := f.fail("get_tests"); err != nil {
		return nil, err
	}
	return []Test{{ID: 1, CaseID: 100}}, nil
}

func (f *flakyAPI) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if err := f.fail("get_user_by_email"); err != nil {
		return nil, err
	}
	return &User{ID: 4, Email: email}, nil
}

func (f *flakyAPI) AddPlanEntry(ctx context.Context, planID int64, req PlanEntryRequest) (*PlanEntry, error) {
	if err := f.fail("add_plan_entry"); err != nil {
		return nil, err
	}
	return &PlanEntry{EntryID: "abc", RunID: 81}, nil
}

func (f *flakyAPI) UpdatePlanEntry(ctx context.Context, planID int64, entryID string, req PlanEntryUpdate) error {
	return f.fail("update_plan_entry")
}

func (f *flakyAPI) AddResults(ctx context.Context, runID int64, results []Result) error {
	return f.fail("add_results")
}

func TestResilientRetriesMutations(t *testing.T) {
	s := &recordingSleep{}
	deadlock := newAPIError("x", http.StatusInternalServerError, "deadlock")

	api := newFlakyAPI(deadlock, 2)
	r := NewResilient(api, newTestCaller(s))
	require.NoError(t, r.AddResults(context.Background(), 1, []Result{{TestID: 1, StatusID: 1}}))
	assert.Equal(t, 3, api.calls["add_results"])

	api = newFlakyAPI(deadlock, 1)
	r = NewResilient(api, newTestCaller(s))
	entry, err := r.AddPlanEntry(context.Background(), 5, PlanEntryRequest{Name: "n", IncludeAll: true})
	require.NoError(t, err)
	assert.Equal(t, int64(81), entry.RunID)
	assert.Equal(t, 2, api.calls["add_plan_entry"])

	api = newFlakyAPI(deadlock, 3)
	r = NewResilient(api, newTestCaller(s))
	require.NoError(t, r.UpdatePlanEntry(context.Background(), 5, "abc", PlanEntryUpdate{}))
	assert.Equal(t, 4, api.calls["update_plan_entry"])
}

func TestResilientRetriesReads(t *testing.T) {
	s := &recordingSleep{}
	api := newFlakyAPI(newAPIError("get_tests", http.StatusTooManyRequests, "API Rate Limit Exceeded"), 1)
	r := NewResilient(api, newTestCaller(s))

	tests, err := r.GetRunCases(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, tests, 1)
	assert.Equal(t, 2, api.calls["get_tests"])
	assert.Equal(t, []time.Duration{10 * time.Second}, s.waits)

	api = newFlakyAPI(newAPIError("get_user_by_email", http.StatusInternalServerError, "Deadlock found"), 2)
	r = NewResilient(api, newTestCaller(s))
	user, err := r.GetUserByEmail(context.Background(), "qa@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(4), user.ID)
	assert.Equal(t, 3, api.calls["get_user_by_email"])
}

func TestResilientNotFoundIsNotRetried(t *testing.T) {
	s := &recordingSleep{}
	api := newFlakyAPI(newAPIError("get_tests", http.StatusBadRequest, "Field :run_id is not a valid test run."), 1)
	r := NewResilient(api, newTestCaller(s))

	_, err := r.GetRunCases(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, api.calls["get_tests"])
	assert.Empty(t, s.waits)
}

func TestDryRunSkipsMutations(t *testing.T) {
	api := newFlakyAPI(nil, 0)
	d := NewDryRun(api, log.NewLogger(log.DiscardHandler()))

	entry, err := d.AddPlanEntry(context.Background(), 5, PlanEntryRequest{Name: "n", IncludeAll: true})
	require.NoError(t, err)
	assert.Equal(t, "dry-run", entry.EntryID)
	require.NoError(t, d.UpdatePlanEntry(context.Background(), 5, "abc", PlanEntryUpdate{}))
	require.NoError(t, d.AddResults(context.Background(), 1, []Result{{TestID: 1, StatusID: 1}}))
	assert.Zero(t, api.calls["add_plan_entry"]+api.calls["update_plan_entry"]+api.calls["add_results"])

	tests, err := d.GetRunCases(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, tests, 1)
	user, err := d.GetUserByEmail(context.Background(), "qa@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(4), user.ID)
}
