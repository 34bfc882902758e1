package selector

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

const (
	ReasonMalformed     = "malformed case ids"
	ReasonNotInRun      = "not in run"
	ReasonPassed        = "already passed"
	ReasonPending       = "marked pending"
	ReasonPassedPending = "all cases passed or pending"
	ReasonNeedsRun      = "not yet passed"
	ReasonAssigned      = "assigned to user"
	ReasonNotAssigned   = "not assigned to user"
)

// Plain selects tests that carry exactly one case id. Cases that already
// passed or are pending are skipped.
type Plain struct{}

func (Plain) Decide(c Candidate, snap runstate.Snapshot) Decision {
	if c.Err != nil {
		return skip(ReasonMalformed, 0)
	}
	if len(c.IDs) != 1 {
		return skip(ReasonMalformed, 0)
	}
	tc, ok := snap[c.IDs[0]]
	if !ok {
		return skip(ReasonNotInRun, 1)
	}
	switch tc.Status {
	case runstate.StatusPassed:
		return skip(ReasonPassed, 0)
	case runstate.StatusPending:
		return skip(ReasonPending, 0)
	}
	return execute(ReasonNeedsRun, 0)
}

// Multi selects tests tagged with several case ids. A test is skipped when
// none of its ids are in the run, or when every id is accounted for as
// passed or pending. Ids missing from the run count as neither, so mixing
// one with passed ids forces a re-run.
type Multi struct{}

func (Multi) Decide(c Candidate, snap runstate.Snapshot) Decision {
	if c.Err != nil {
		return skip(ReasonMalformed, 0)
	}
	present, missing := orphans(c.IDs, snap)
	if present == 0 {
		return skip(ReasonNotInRun, missing)
	}

	var passed, pending int
	for _, id := range c.IDs {
		tc, ok := snap[id]
		if !ok {
			continue
		}
		switch tc.Status {
		case runstate.StatusPassed:
			passed++
		case runstate.StatusPending:
			pending++
		}
	}
	if passed+pending == len(c.IDs) {
		reason := ReasonPassedPending
		switch len(c.IDs) {
		case passed:
			reason = ReasonPassed
		case pending:
			reason = ReasonPending
		}
		return skip(reason, missing)
	}
	return execute(fmt.Sprintf("%s (%d/%d passed, %d pending)", ReasonNeedsRun, passed, len(c.IDs), pending), missing)
}

// Assigned selects a test when at least one of its ids in the run is
// assigned to UserID. Prior statuses are ignored.
type Assigned struct {
	UserID int64
}

func (a Assigned) Decide(c Candidate, snap runstate.Snapshot) Decision {
	if c.Err != nil {
		return skip(ReasonMalformed, 0)
	}
	present, missing := orphans(c.IDs, snap)
	if present == 0 {
		return skip(ReasonNotInRun, missing)
	}
	for _, id := range c.IDs {
		if tc, ok := snap[id]; ok && tc.AssignedTo == a.UserID {
			return execute(ReasonAssigned, missing)
		}
	}
	return skip(ReasonNotAssigned, missing)
}
