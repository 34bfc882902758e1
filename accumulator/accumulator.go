// Package accumulator collects finished test outcomes for one process and
// posts them to the run in batches.
//
// The lifecycle is Idle -> Collecting -> (Flushing -> Collecting)* ->
// Draining -> Done. Examples finish one at a time, so the accumulator is
// not safe for concurrent use and does not need to be.
package accumulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrail/metrics"
	"github.com/ethereum-optimism/infra/op-testrail/runstate"
	"github.com/ethereum-optimism/infra/op-testrail/testrail"
)

type State int

const (
	StateIdle State = iota
	StateCollecting
	StateFlushing
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateFlushing:
		return "flushing"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrInvalidState = errors.New("invalid accumulator state")

// Example is a finished test as reported by the test framework.
type Example struct {
	Name    string
	IDs     []runstate.CaseID
	Status  runstate.Status
	Message string // failure output, may contain terminal colors
}

type StateLoader interface {
	Load(ctx context.Context, runID int64) (runstate.Snapshot, error)
}

type ResultPoster interface {
	AddResults(ctx context.Context, runID int64, results []testrail.Result) error
}

// Finisher runs once the last batch is posted. It either hands the
// executed set off for later pruning or prunes directly.
type Finisher interface {
	Finish(ctx context.Context, executed []runstate.CaseID) error
}

// FinisherFunc adapts a function to Finisher.
type FinisherFunc func(ctx context.Context, executed []runstate.CaseID) error

func (f FinisherFunc) Finish(ctx context.Context, executed []runstate.CaseID) error {
	return f(ctx, executed)
}

// NoopFinisher is used for standalone runs, where nothing is pruned.
var NoopFinisher = FinisherFunc(func(context.Context, []runstate.CaseID) error { return nil })

type Config struct {
	Log       log.Logger
	Loader    StateLoader
	Poster    ResultPoster
	Finisher  Finisher
	BatchSize int
}

// Record is one pending result.
type Record struct {
	CaseID  runstate.CaseID
	TempID  int64
	Code    int
	Comment string
}

// Stats summarises what happened to finished examples.
type Stats struct {
	Examples int // finished examples observed
	Failed   int // finished examples that failed
	Recorded int // case outcomes recorded into run state
	Posted   int
	Dropped  int
	Orphaned int
	Flushes  int
}

type Accumulator struct {
	log       log.Logger
	loader    StateLoader
	poster    ResultPoster
	finisher  Finisher
	batchSize int

	state    State
	runID    int64
	snap     runstate.Snapshot
	pending  []Record
	executed *ExecutedSet
	stats    Stats
}

func New(cfg Config) (*Accumulator, error) {
	if cfg.Loader == nil {
		return nil, errors.New("loader is required")
	}
	if cfg.Poster == nil {
		return nil, errors.New("poster is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Finisher == nil {
		cfg.Finisher = NoopFinisher
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Accumulator{
		log:       cfg.Log,
		loader:    cfg.Loader,
		poster:    cfg.Poster,
		finisher:  cfg.Finisher,
		batchSize: cfg.BatchSize,
		state:     StateIdle,
		executed:  NewExecutedSet(),
	}, nil
}

// Start loads the run state and begins collecting.
func (a *Accumulator) Start(ctx context.Context, runID int64) error {
	if a.state != StateIdle {
		return fmt.Errorf("%w: start called while %s", ErrInvalidState, a.state)
	}
	snap, err := a.loader.Load(ctx, runID)
	if err != nil {
		return err
	}
	a.runID = runID
	a.snap = snap
	a.pending = nil
	a.executed = NewExecutedSet()
	a.stats = Stats{}
	a.state = StateCollecting
	a.log.Info("collecting results", "run", runID, "cases", len(snap), "batch_size", a.batchSize)
	return nil
}

// ExampleFinished records the outcome of one example for each case id it
// carries, and flushes when the batch is full.
func (a *Accumulator) ExampleFinished(ctx context.Context, ex Example) error {
	if a.state != StateCollecting {
		return fmt.Errorf("%w: example finished while %s", ErrInvalidState, a.state)
	}
	if len(ex.IDs) == 0 {
		return nil
	}
	a.stats.Examples++

	message := ""
	if ex.Status == runstate.StatusFailed {
		a.stats.Failed++
		message = stripansi.Strip(ex.Message)
	}

	for _, id := range ex.IDs {
		tc, ok := a.snap[id]
		if !ok {
			a.stats.Orphaned++
			a.log.Warn("case id not in run", "test", ex.Name, "case", id, "run", a.runID)
			continue
		}
		tc.SetStatus(ex.Status, message)
		a.executed.Add(id)
		a.stats.Recorded++

		code, ok := ex.Status.Code()
		switch {
		case !ok || ex.Status == runstate.StatusUntested:
			// the API refuses untested as an explicit result
			a.drop(id, "untested")
			continue
		case tc.TempID == 0:
			a.drop(id, "no_temp_id")
			continue
		}
		a.pending = append(a.pending, Record{
			CaseID:  id,
			TempID:  tc.TempID,
			Code:    code,
			Comment: message,
		})
	}

	if len(a.pending) >= a.batchSize {
		return a.Flush(ctx)
	}
	return nil
}

func (a *Accumulator) drop(id runstate.CaseID, reason string) {
	a.stats.Dropped++
	metrics.RecordDropped(reason)
	a.log.Debug("not posting result", "case", id, "reason", reason)
}

// Flush posts the pending batch as a single call. On failure the batch is
// kept and the error returned.
func (a *Accumulator) Flush(ctx context.Context) error {
	if a.state != StateCollecting && a.state != StateDraining {
		return fmt.Errorf("%w: flush called while %s", ErrInvalidState, a.state)
	}
	if len(a.pending) == 0 {
		return nil
	}
	prev := a.state
	if prev == StateCollecting {
		a.state = StateFlushing
	}
	defer func() { a.state = prev }()

	results := make([]testrail.Result, 0, len(a.pending))
	ids := make([]runstate.CaseID, 0, len(a.pending))
	for _, r := range a.pending {
		results = append(results, testrail.Result{
			TestID:   r.TempID,
			StatusID: r.Code,
			Comment:  r.Comment,
		})
		ids = append(ids, r.CaseID)
	}

	if err := a.poster.AddResults(ctx, a.runID, results); err != nil {
		metrics.RecordErrorDetails("flush", err)
		return fmt.Errorf("failed to post %d results to run %d: %w", len(results), a.runID, err)
	}

	a.pending = a.pending[:0]
	a.stats.Posted += len(results)
	a.stats.Flushes++
	metrics.RecordFlush(len(results))
	a.log.Info("posted results", "run", a.runID, "cases", ids)
	return nil
}

// Stop posts whatever is left and hands the executed set to the finisher.
func (a *Accumulator) Stop(ctx context.Context) error {
	if a.state != StateCollecting {
		return fmt.Errorf("%w: stop called while %s", ErrInvalidState, a.state)
	}
	a.state = StateDraining
	if err := a.Flush(ctx); err != nil {
		return err
	}
	if err := a.finisher.Finish(ctx, a.executed.IDs()); err != nil {
		return fmt.Errorf("failed to finish run %d: %w", a.runID, err)
	}
	a.state = StateDone
	a.log.Info("done collecting results", "run", a.runID, "executed", a.executed.Len(), "posted", a.stats.Posted)
	return nil
}

func (a *Accumulator) State() State {
	return a.state
}

// Snapshot is the run state loaded at start, mutated as examples finish.
func (a *Accumulator) Snapshot() runstate.Snapshot {
	return a.snap
}

func (a *Accumulator) Pending() []Record {
	return a.pending
}

func (a *Accumulator) Executed() []runstate.CaseID {
	return a.executed.IDs()
}

func (a *Accumulator) Stats() Stats {
	return a.stats
}

func (a *Accumulator) RunID() int64 {
	return a.runID
}
