// Package runstate holds the run-local view of a TestRail run: one entry
// per case, keyed by its permanent id.
package runstate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrail/testrail"
)

// CaseID is the permanent, run-independent identifier of a case.
type CaseID int64

// CaseState is one case participating in a run.
type CaseState struct {
	ID         CaseID
	Title      string
	Priority   int
	Automated  bool
	ScreenSize int
	TempID     int64 // run-local test id, required to post results
	AssignedTo int64
	Status     Status
	Message    string
}

// SetStatus records the outcome of an execution attempt.
func (c *CaseState) SetStatus(status Status, message string) {
	c.Status = status
	c.Message = message
}

// Snapshot maps permanent ids to their run-local state.
type Snapshot map[CaseID]*CaseState

// Has reports whether id is part of the run.
func (s Snapshot) Has(id CaseID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the snapshot's keys in ascending order.
func (s Snapshot) IDs() []CaseID {
	ids := make([]CaseID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RunCasesFetcher is the read side of the remote API the loader needs.
type RunCasesFetcher interface {
	GetRunCases(ctx context.Context, runID int64) ([]testrail.Test, error)
}

type Loader struct {
	api RunCasesFetcher
	log log.Logger
}

func NewLoader(api RunCasesFetcher, logger log.Logger) *Loader {
	return &Loader{api: api, log: logger}
}

// Load fetches the roster for runID. A run that does not exist yields an
// error wrapping testrail.ErrNotFound. Load does not retry.
func (l *Loader) Load(ctx context.Context, runID int64) (Snapshot, error) {
	tests, err := l.api.GetRunCases(ctx, runID)
	if err != nil {
		if errors.Is(err, testrail.ErrNotFound) {
			return nil, fmt.Errorf("run %d: %w", runID, testrail.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch cases of run %d: %w", runID, err)
	}

	snap := make(Snapshot, len(tests))
	for _, t := range tests {
		id := CaseID(t.CaseID)
		if _, dup := snap[id]; dup {
			l.log.Warn("case appears twice in run, keeping first", "run", runID, "case", id, "test", t.ID)
			continue
		}
		snap[id] = &CaseState{
			ID:         id,
			Title:      t.Title,
			Priority:   t.PriorityID,
			Automated:  t.CustomAutomated,
			ScreenSize: t.CustomScreenSize,
			TempID:     t.ID,
			AssignedTo: t.AssignedToID,
			Status:     FromCode(t.StatusID),
		}
	}
	l.log.Info("loaded run state", "run", runID, "cases", len(snap))
	return snap, nil
}
