package railsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum-optimism/infra/op-testrail/casemap"
	"github.com/ethereum-optimism/infra/op-testrail/gotest"
	"github.com/ethereum-optimism/infra/op-testrail/pruner"
	"github.com/ethereum-optimism/infra/op-testrail/runstate"
	"github.com/ethereum-optimism/infra/op-testrail/selector"
	"github.com/ethereum-optimism/infra/op-testrail/testrail"
)

const (
	FormatNames = "names"
	FormatRegex = "regex"
)

// SelectedRunID returns the run that selection reads from. A local plan
// entry does not exist yet, so there is nothing to select against.
func SelectedRunID(t Target) (int64, error) {
	mode, err := t.Resolve()
	if err != nil {
		return 0, err
	}
	switch mode {
	case ModeRun:
		return t.RunID, nil
	case ModeDistributedPlan:
		return t.EntryRunID, nil
	}
	return 0, errors.New("selection needs an existing run, pass a run id or an entry id with its run id")
}

// Select writes the tests that still need to run to out, one name per line
// or as a single -run pattern, and the counts to summary.
func Select(ctx context.Context, cfg *Config, api testrail.API, cases *casemap.Map, format string, out, summary io.Writer) (selector.Counters, error) {
	if format != FormatNames && format != FormatRegex {
		return selector.Counters{}, fmt.Errorf("invalid format %q, must be one of: %s, %s", format, FormatNames, FormatRegex)
	}
	runID, err := SelectedRunID(cfg.Target)
	if err != nil {
		return selector.Counters{}, err
	}
	assignee, err := resolveAssignee(ctx, api, cfg.AssignedTo, cfg.Log)
	if err != nil {
		return selector.Counters{}, err
	}
	snap, err := runstate.NewLoader(api, cfg.Log).Load(ctx, runID)
	if err != nil {
		return selector.Counters{}, err
	}

	sel := selector.New(selector.PolicyFor(cfg.Product, assignee), snap, cfg.Log)
	var names []string
	for _, c := range cases.Candidates() {
		if sel.Select(c) {
			names = append(names, c.Name)
		}
	}

	if format == FormatRegex {
		if pattern := gotest.RunPattern(names); pattern != "" {
			fmt.Fprintln(out, pattern)
		}
	} else if len(names) > 0 {
		fmt.Fprintln(out, strings.Join(names, "\n"))
	}
	PrintSelection(summary, runID, sel.Counters())
	return sel.Counters(), nil
}

// Prune is the coordinating step of a distributed plan run. It prunes the
// entry to the union of every worker's executed set and consumes the
// handoffs.
func Prune(ctx context.Context, cfg *Config, api testrail.API, h *Handoff) (*pruner.Result, error) {
	t := cfg.Target
	if t.PlanID == 0 || t.EntryID == "" {
		return nil, errors.New("prune needs a plan id and an entry id")
	}
	coordinator := pruner.NewCoordinator(pruner.CoordinatorConfig{
		Log:    cfg.Log,
		Store:  h.Store,
		Pruner: pruner.New(api, cfg.Log),
		Locker: h.Locker,
		DryRun: cfg.DryRun,
	})
	return coordinator.Run(ctx, t.PlanID, t.EntryID)
}

// CreateEntry creates a plan entry with every case of the suite and writes
// "<entry id> <run id>" to out, for distributed workers to pick up.
func CreateEntry(ctx context.Context, cfg *Config, api testrail.API, out io.Writer) (*testrail.PlanEntry, error) {
	t := cfg.Target
	if t.PlanID == 0 || t.RunName == "" {
		return nil, errors.New("create-entry needs a plan id and a run name")
	}
	entry, err := api.AddPlanEntry(ctx, t.PlanID, testrail.PlanEntryRequest{
		Name:       t.RunName,
		IncludeAll: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create plan entry %q: %w", t.RunName, err)
	}
	cfg.Log.Info("Created plan entry", "plan", t.PlanID, "entry", entry.EntryID, "run", entry.RunID)
	fmt.Fprintf(out, "%s %d\n", entry.EntryID, entry.RunID)
	return entry, nil
}
