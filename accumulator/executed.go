package accumulator

import (
	"sort"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

// ExecutedSet is the set of case ids one process actually ran.
type ExecutedSet struct {
	ids map[runstate.CaseID]struct{}
}

func NewExecutedSet() *ExecutedSet {
	return &ExecutedSet{ids: make(map[runstate.CaseID]struct{})}
}

func (s *ExecutedSet) Add(id runstate.CaseID) {
	s.ids[id] = struct{}{}
}

func (s *ExecutedSet) Contains(id runstate.CaseID) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *ExecutedSet) Len() int {
	return len(s.ids)
}

// IDs returns the members in ascending order.
func (s *ExecutedSet) IDs() []runstate.CaseID {
	out := make([]runstate.CaseID, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
