package pruner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/infra/op-testrail/handoff"
	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

var ErrNoHandoffs = errors.New("no handoff artifacts to prune from")

// Locker guards the coordinating step. Lock returns the matching unlock.
type Locker interface {
	Lock(ctx context.Context) (func(context.Context) error, error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// NoopLocker is enough when the coordinator is started by a single CI step.
var NoopLocker Locker = noopLocker{}

type CoordinatorConfig struct {
	Log    log.Logger
	Store  handoff.Store
	Pruner *Pruner
	Locker Locker

	MaxConcurrentReads int
	// DryRun reports what would be pruned and leaves the artifacts in place.
	DryRun bool
}

// Coordinator is the out-of-band step that runs after every worker is done.
// It unions all executed sets, prunes the entry once, and consumes the
// artifacts.
type Coordinator struct {
	log      log.Logger
	store    handoff.Store
	pruner   *Pruner
	locker   Locker
	maxReads int
	dryRun   bool
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		log:      cfg.Log,
		store:    cfg.Store,
		pruner:   cfg.Pruner,
		locker:   cfg.Locker,
		maxReads: cfg.MaxConcurrentReads,
		dryRun:   cfg.DryRun,
	}
	if c.log == nil {
		c.log = log.Root()
	}
	if c.locker == nil {
		c.locker = NoopLocker
	}
	if c.maxReads <= 0 {
		c.maxReads = 8
	}
	return c
}

// Result describes a finished coordination.
type Result struct {
	Workers  []string
	Executed []runstate.CaseID
}

func (c *Coordinator) Run(ctx context.Context, planID int64, entryID string) (*Result, error) {
	unlock, err := c.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			c.log.Warn("failed to release prune lock", "err", err)
		}
	}()

	workers, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, ErrNoHandoffs
	}
	c.log.Info("collecting executed cases", "workers", len(workers))

	readPool := pool.NewWithResults[[]runstate.CaseID]().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(c.maxReads).
		WithContext(ctx).
		WithCancelOnError()
	for _, w := range workers {
		w := w
		readPool.Go(func(ctx context.Context) ([]runstate.CaseID, error) {
			ids, err := c.store.Get(ctx, w)
			if err != nil {
				return nil, err
			}
			c.log.Debug("read executed cases", "worker", w, "cases", len(ids))
			return ids, nil
		})
	}
	sets, err := readPool.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to read handoffs: %w", err)
	}

	var all []runstate.CaseID
	for _, ids := range sets {
		all = append(all, ids...)
	}
	union := make([]runstate.CaseID, 0, len(all))
	for _, id := range caseIDs(all) {
		union = append(union, runstate.CaseID(id))
	}

	if c.dryRun {
		c.log.Info("dry run, not pruning and keeping handoffs", "plan", planID, "entry", entryID, "workers", workers, "cases", union)
		return &Result{Workers: workers, Executed: union}, nil
	}
	if err := c.pruner.Prune(ctx, planID, entryID, union); err != nil {
		return nil, err
	}

	// only consume the artifacts once the prune went through
	for _, w := range workers {
		if err := c.store.Delete(ctx, w); err != nil {
			return nil, err
		}
	}
	c.log.Info("pruned plan entry from handoffs", "plan", planID, "entry", entryID, "workers", len(workers), "cases", len(union))
	return &Result{Workers: workers, Executed: union}, nil
}
