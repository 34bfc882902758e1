// Package pruner trims a plan entry's case list down to the cases that
// were actually executed.
package pruner

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
	"github.com/ethereum-optimism/infra/op-testrail/testrail"
)

type PlanEntryUpdater interface {
	UpdatePlanEntry(ctx context.Context, planID int64, entryID string, req testrail.PlanEntryUpdate) error
}

type Pruner struct {
	api PlanEntryUpdater
	log log.Logger
}

func New(api PlanEntryUpdater, logger log.Logger) *Pruner {
	return &Pruner{api: api, log: logger}
}

// Prune replaces the entry's case list with exactly executed, in one
// mutation. The request only depends on the set of ids, so repeating it
// leaves the entry unchanged.
func (p *Pruner) Prune(ctx context.Context, planID int64, entryID string, executed []runstate.CaseID) error {
	includeAll := false
	req := testrail.PlanEntryUpdate{
		IncludeAll: &includeAll,
		CaseIDs:    caseIDs(executed),
	}
	p.log.Info("pruning plan entry to executed cases", "plan", planID, "entry", entryID, "cases", len(req.CaseIDs))
	if err := p.api.UpdatePlanEntry(ctx, planID, entryID, req); err != nil {
		return fmt.Errorf("failed to prune plan %d entry %s: %w", planID, entryID, err)
	}
	return nil
}

// Direct returns an accumulator finisher that prunes synchronously, for
// single-process plan runs.
func (p *Pruner) Direct(planID int64, entryID string) *DirectFinisher {
	return &DirectFinisher{p: p, planID: planID, entryID: entryID}
}

type DirectFinisher struct {
	p       *Pruner
	planID  int64
	entryID string
}

func (d *DirectFinisher) Finish(ctx context.Context, executed []runstate.CaseID) error {
	return d.p.Prune(ctx, d.planID, d.entryID, executed)
}

// caseIDs sorts and de-duplicates ids.
func caseIDs(ids []runstate.CaseID) []int64 {
	seen := make(map[runstate.CaseID]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, int64(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
