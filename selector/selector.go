// Package selector decides which candidate tests execute, based on what the
// run already knows about their cases.
package selector

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrail/metrics"
	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

var ErrMalformedSelectionInput = errors.New("malformed selection input")

// Product controls how many case ids one test may carry.
type Product string

const (
	// ProductPlain tags each test with exactly one case id.
	ProductPlain Product = "plain"
	// ProductMulti tags each test with a list of case ids.
	ProductMulti Product = "multi"
)

func ParseProduct(s string) (Product, error) {
	switch p := Product(s); p {
	case ProductPlain, ProductMulti:
		return p, nil
	}
	return "", fmt.Errorf("invalid product %q, must be one of: %s, %s", s, ProductPlain, ProductMulti)
}

// Candidate is a test that may be executed, with the case ids it is
// tagged with. Err is set when its metadata did not have the expected shape.
type Candidate struct {
	Name string
	IDs  []runstate.CaseID
	Err  error
}

// Counters are the run-wide selection tallies. Candidates always equals
// Selected + Skipped.
type Counters struct {
	Candidates int
	Selected   int
	Skipped    int
	Orphaned   int
}

func (c *Counters) Add(d Counters) {
	c.Candidates += d.Candidates
	c.Selected += d.Selected
	c.Skipped += d.Skipped
	c.Orphaned += d.Orphaned
}

// Decision is the outcome of one selection together with the counter
// delta it implies.
type Decision struct {
	Execute bool
	Reason  string
	Delta   Counters
}

func execute(reason string, orphaned int) Decision {
	return Decision{
		Execute: true,
		Reason:  reason,
		Delta:   Counters{Candidates: 1, Selected: 1, Orphaned: orphaned},
	}
}

func skip(reason string, orphaned int) Decision {
	return Decision{
		Reason: reason,
		Delta:  Counters{Candidates: 1, Skipped: 1, Orphaned: orphaned},
	}
}

// Policy is a pure selection function over a run snapshot.
type Policy interface {
	Decide(c Candidate, snap runstate.Snapshot) Decision
}

// PolicyFor picks the policy for a product. A non-zero assignee overrides
// the status based policies.
func PolicyFor(product Product, assignee int64) Policy {
	if assignee != 0 {
		return Assigned{UserID: assignee}
	}
	if product == ProductPlain {
		return Plain{}
	}
	return Multi{}
}

// Selector applies a policy to a fixed snapshot and owns the counters.
type Selector struct {
	policy   Policy
	snap     runstate.Snapshot
	counters Counters
	log      log.Logger
}

func New(policy Policy, snap runstate.Snapshot, logger log.Logger) *Selector {
	return &Selector{policy: policy, snap: snap, log: logger}
}

// Select decides c, updates the counters and reports whether c should run.
func (s *Selector) Select(c Candidate) bool {
	d := s.policy.Decide(c, s.snap)
	s.counters.Add(d.Delta)
	metrics.RecordSelection(d.Execute, d.Delta.Orphaned)

	switch {
	case c.Err != nil:
		s.log.Error("test has invalid case ids, skipping", "test", c.Name, "err", c.Err)
	case d.Execute:
		s.log.Debug("selected test", "test", c.Name, "ids", c.IDs, "reason", d.Reason)
	default:
		s.log.Info("skipping test", "test", c.Name, "ids", c.IDs, "reason", d.Reason)
	}
	return d.Execute
}

func (s *Selector) Counters() Counters {
	return s.counters
}

func orphans(ids []runstate.CaseID, snap runstate.Snapshot) (present, missing int) {
	seen := make(map[runstate.CaseID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if snap.Has(id) {
			present++
		} else {
			missing++
		}
	}
	return present, missing
}
