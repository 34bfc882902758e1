package testrail

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
)

var (
	_ API = (*Resilient)(nil)
	_ API = (*DryRun)(nil)
)

// Resilient routes every call of the wrapped API through a Caller.
type Resilient struct {
	api    API
	caller *Caller
}

func NewResilient(api API, caller *Caller) *Resilient {
	return &Resilient{api: api, caller: caller}
}

func (r *Resilient) GetRunCases(ctx context.Context, runID int64) ([]Test, error) {
	var tests []Test
	err := r.caller.Call(ctx, "get_tests", func(ctx context.Context) error {
		var err error
		tests, err = r.api.GetRunCases(ctx, runID)
		return err
	})
	return tests, err
}

func (r *Resilient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := r.caller.Call(ctx, "get_user_by_email", func(ctx context.Context) error {
		var err error
		user, err = r.api.GetUserByEmail(ctx, email)
		return err
	})
	return user, err
}

func (r *Resilient) AddPlanEntry(ctx context.Context, planID int64, req PlanEntryRequest) (*PlanEntry, error) {
	var entry *PlanEntry
	err := r.caller.Call(ctx, "add_plan_entry", func(ctx context.Context) error {
		var err error
		entry, err = r.api.AddPlanEntry(ctx, planID, req)
		return err
	})
	return entry, err
}

func (r *Resilient) UpdatePlanEntry(ctx context.Context, planID int64, entryID string, req PlanEntryUpdate) error {
	return r.caller.Call(ctx, "update_plan_entry", func(ctx context.Context) error {
		return r.api.UpdatePlanEntry(ctx, planID, entryID, req)
	})
}

func (r *Resilient) AddResults(ctx context.Context, runID int64, results []Result) error {
	return r.caller.Call(ctx, "add_results", func(ctx context.Context) error {
		return r.api.AddResults(ctx, runID, results)
	})
}

// DryRun suppresses all mutating calls. Reads still reach the server so
// selection and counting behave exactly as in a real run.
type DryRun struct {
	api API
	log log.Logger
}

func NewDryRun(api API, logger log.Logger) *DryRun {
	return &DryRun{api: api, log: logger}
}

func (d *DryRun) GetRunCases(ctx context.Context, runID int64) ([]Test, error) {
	return d.api.GetRunCases(ctx, runID)
}

func (d *DryRun) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return d.api.GetUserByEmail(ctx, email)
}

func (d *DryRun) AddPlanEntry(ctx context.Context, planID int64, req PlanEntryRequest) (*PlanEntry, error) {
	d.log.Info("dry run: skipping add_plan_entry", "plan", planID, "name", req.Name, "include_all", req.IncludeAll)
	return &PlanEntry{EntryID: "dry-run", RunID: 0}, nil
}

func (d *DryRun) UpdatePlanEntry(ctx context.Context, planID int64, entryID string, req PlanEntryUpdate) error {
	d.log.Info("dry run: skipping update_plan_entry", "plan", planID, "entry", entryID, "cases", len(req.CaseIDs))
	return nil
}

func (d *DryRun) AddResults(ctx context.Context, runID int64, results []Result) error {
	d.log.Info("dry run: skipping add_results", "run", runID, "results", len(results))
	return nil
}
