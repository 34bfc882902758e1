package testrail

import "context"

// API is the subset of the TestRail API needed to keep a run in sync.
type API interface {
	GetRunCases(ctx context.Context, runID int64) ([]Test, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	AddPlanEntry(ctx context.Context, planID int64, req PlanEntryRequest) (*PlanEntry, error)
	UpdatePlanEntry(ctx context.Context, planID int64, entryID string, req PlanEntryUpdate) error
	AddResults(ctx context.Context, runID int64, results []Result) error
}

// Test is one case inside a run. ID is the run-local (temporary) id,
// CaseID the permanent one.
type Test struct {
	ID               int64  `json:"id"`
	CaseID           int64  `json:"case_id"`
	RunID            int64  `json:"run_id"`
	StatusID         int    `json:"status_id"`
	AssignedToID     int64  `json:"assignedto_id"`
	Title            string `json:"title"`
	PriorityID       int    `json:"priority_id"`
	CustomAutomated  bool   `json:"custom_automated"`
	CustomScreenSize int    `json:"custom_screen_size"`
}

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// Result is one entry of an add_results payload. TestID must be the
// run-local test id, not the permanent case id.
type Result struct {
	TestID   int64  `json:"test_id"`
	StatusID int    `json:"status_id"`
	Comment  string `json:"comment,omitempty"`
}

type PlanEntryRequest struct {
	SuiteID    int64   `json:"suite_id,omitempty"`
	Name       string  `json:"name"`
	IncludeAll bool    `json:"include_all"`
	CaseIDs    []int64 `json:"case_ids"`
}

type PlanEntryUpdate struct {
	SuiteID    int64   `json:"suite_id,omitempty"`
	IncludeAll *bool   `json:"include_all,omitempty"`
	CaseIDs    []int64 `json:"case_ids"`
}

// PlanEntry identifies a freshly created plan entry and the run inside it.
type PlanEntry struct {
	EntryID string
	RunID   int64
}

type resultsPayload struct {
	Results []Result `json:"results"`
}

type planEntryResponse struct {
	ID   string `json:"id"`
	Runs []struct {
		ID int64 `json:"id"`
	} `json:"runs"`
}

type testsPage struct {
	Tests []Test `json:"tests"`
	Links struct {
		Next *string `json:"next"`
	} `json:"_links"`
}

type errorBody struct {
	Error string `json:"error"`
}
