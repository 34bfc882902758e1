package railsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrail/testrail"
)

// fakeTestRail is an in-memory TestRail with a single plan.
type fakeTestRail struct {
	mu sync.Mutex

	runs    map[int64][]testrail.Test
	users   map[string]*testrail.User
	entries map[string]*fakeEntry
	results map[int64][][]testrail.Result

	nextRunID int64
	postErr   error
}

type fakeEntry struct {
	RunID      int64
	Name       string
	IncludeAll bool
	CaseIDs    []int64
	Updates    int
}

func newFakeTestRail() *fakeTestRail {
	return &fakeTestRail{
		runs:      make(map[int64][]testrail.Test),
		users:     make(map[string]*testrail.User),
		entries:   make(map[string]*fakeEntry),
		results:   make(map[int64][][]testrail.Result),
		nextRunID: 80,
	}
}

// suite are the cases every new plan entry starts with.
var suite = []testrail.Test{
	{CaseID: 100, StatusID: 3},
	{CaseID: 101, StatusID: 3},
	{CaseID: 102, StatusID: 3},
	{CaseID: 103, StatusID: 3},
}

func (f *fakeTestRail) addRun(runID int64, tests ...testrail.Test) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range tests {
		tests[i].RunID = runID
		if tests[i].ID == 0 {
			tests[i].ID = runID*1000 + tests[i].CaseID
		}
	}
	f.runs[runID] = tests
}

func (f *fakeTestRail) posted(runID int64) []testrail.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []testrail.Result
	for _, batch := range f.results[runID] {
		all = append(all, batch...)
	}
	return all
}

func (f *fakeTestRail) batches(runID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results[runID])
}

func (f *fakeTestRail) GetRunCases(ctx context.Context, runID int64) ([]testrail.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tests, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("get_tests %d: %w", runID, testrail.ErrNotFound)
	}
	return append([]testrail.Test(nil), tests...), nil
}

func (f *fakeTestRail) GetUserByEmail(ctx context.Context, email string) (*testrail.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, fmt.Errorf("get_user_by_email: %w", testrail.ErrNotFound)
	}
	return u, nil
}

func (f *fakeTestRail) AddPlanEntry(ctx context.Context, planID int64, req testrail.PlanEntryRequest) (*testrail.PlanEntry, error) {
	f.mu.Lock()
	f.nextRunID++
	runID := f.nextRunID
	entryID := fmt.Sprintf("entry-%d", runID)
	f.entries[entryID] = &fakeEntry{RunID: runID, Name: req.Name, IncludeAll: req.IncludeAll, CaseIDs: req.CaseIDs}
	f.mu.Unlock()

	f.addRun(runID, append([]testrail.Test(nil), suite...)...)
	return &testrail.PlanEntry{EntryID: entryID, RunID: runID}, nil
}

func (f *fakeTestRail) UpdatePlanEntry(ctx context.Context, planID int64, entryID string, req testrail.PlanEntryUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryID]
	if !ok {
		return fmt.Errorf("update_plan_entry %s: %w", entryID, testrail.ErrNotFound)
	}
	if req.IncludeAll != nil {
		e.IncludeAll = *req.IncludeAll
	}
	e.CaseIDs = req.CaseIDs
	e.Updates++
	return nil
}

func (f *fakeTestRail) AddResults(ctx context.Context, runID int64, results []testrail.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.results[runID] = append(f.results[runID], append([]testrail.Result(nil), results...))
	return nil
}

func testConfig(target Target) *Config {
	cfg := &Config{
		URL:       "https://example.testrail.io",
		User:      "ci@example.com",
		Target:    target,
		BatchSize: 2,
		Product:   "multi",
		WorkerID:  "ci-1",
		Log:       log.NewLogger(log.DiscardHandler()),
	}
	if err := cfg.Check(); err != nil {
		panic(err)
	}
	return cfg
}
