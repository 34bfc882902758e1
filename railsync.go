// Package railsync keeps a TestRail run in step with a go test session:
// it selects what still needs to run, reports outcomes in batches, and
// prunes plan entries down to what actually executed.
package railsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrail/accumulator"
	"github.com/ethereum-optimism/infra/op-testrail/casemap"
	"github.com/ethereum-optimism/infra/op-testrail/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrail/gotest"
	"github.com/ethereum-optimism/infra/op-testrail/handoff"
	"github.com/ethereum-optimism/infra/op-testrail/metrics"
	"github.com/ethereum-optimism/infra/op-testrail/pruner"
	"github.com/ethereum-optimism/infra/op-testrail/runstate"
	"github.com/ethereum-optimism/infra/op-testrail/selector"
	"github.com/ethereum-optimism/infra/op-testrail/testrail"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

const metricsJob = "op-testrail"

// Service implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*Service)(nil)

type Options struct {
	API     testrail.API
	Cases   *casemap.Map
	Source  Source
	Handoff *Handoff  // required in distributed plan mode
	Out     io.Writer // summary output, stdout when nil
}

// Service is one reporting session: the run and report commands.
type Service struct {
	config  *Config
	mode    Mode
	api     testrail.API
	cases   *casemap.Map
	source  Source
	handoff *Handoff
	out     io.Writer
	log     log.Logger

	summary *Summary
	stopped atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(config *Config, opts Options, shutdownCallback func(error)) (*Service, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if opts.API == nil {
		return nil, errors.New("testrail api is required")
	}
	if opts.Cases == nil {
		return nil, errors.New("case map is required")
	}
	if opts.Source == nil {
		return nil, errors.New("test source is required")
	}
	mode, err := config.Target.Resolve()
	if err != nil {
		return nil, err
	}
	if mode == ModeLocalPlan && config.DryRun {
		return nil, errors.New("dry run cannot create a plan entry, pass a run id or an entry id with its run id")
	}
	if mode == ModeDistributedPlan && opts.Handoff == nil {
		return nil, errors.New("a handoff store is required in distributed plan mode")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	config.Log.Debug("Creating reporting session",
		"mode", mode,
		"target", config.Target,
		"product", config.Product,
		"batchSize", config.BatchSize,
		"cases", opts.Cases.Len(),
		"dryRun", config.DryRun)

	return &Service{
		config:           config,
		mode:             mode,
		api:              opts.API,
		cases:            opts.Cases,
		source:           opts.Source,
		handoff:          opts.Handoff,
		out:              opts.Out,
		log:              config.Log,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the whole session and asks the app to shut down when done.
func (s *Service) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	summary, err := s.Sync(ctx)
	if summary != nil {
		s.summary = summary
		summary.Print(s.out)
	}
	s.pushMetrics(ctx)
	if err != nil {
		s.log.Error("Reporting to TestRail failed", "error", err)
		return NewRuntimeError(err)
	}

	if summary.Stats.Failed > 0 {
		s.log.Warn("Reported tests failed, returning exit code 1", "failed", summary.Stats.Failed)
		return NewTestFailureError(summary.Stats.Failed, summary.Stats.Examples)
	}

	go func() {
		s.shutdownCallback(nil)
	}()
	return nil
}

// Sync selects, runs and reports. The summary is returned even when the
// session fails halfway, with whatever counts were reached.
func (s *Service) Sync(ctx context.Context) (*Summary, error) {
	started := time.Now()
	summary := &Summary{Mode: s.mode}

	runID, finisher, err := s.prepare(ctx, summary)
	if err != nil {
		return nil, err
	}
	summary.RunID = runID

	assignee, err := resolveAssignee(ctx, s.api, s.config.AssignedTo, s.log)
	if err != nil {
		return nil, err
	}

	acc, err := accumulator.New(accumulator.Config{
		Log:       s.log,
		Loader:    runstate.NewLoader(s.api, s.log),
		Poster:    s.api,
		Finisher:  finisher,
		BatchSize: s.config.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	if err := acc.Start(ctx, runID); err != nil {
		return nil, err
	}

	sel := selector.New(selector.PolicyFor(s.config.Product, assignee), acc.Snapshot(), s.log)
	selected := make(map[string]bool)
	var names []string
	for _, c := range s.cases.Candidates() {
		if sel.Select(c) {
			selected[c.Name] = true
			names = append(names, c.Name)
		}
	}
	summary.Selection = sel.Counters()
	s.log.Info("Selected tests", "selected", summary.Selection.Selected, "skipped", summary.Selection.Skipped, "orphaned", summary.Selection.Orphaned)

	// test name -> package it was first reported from
	reported := make(map[string]string)
	streamErr := s.source.Stream(ctx, names, func(f gotest.Finished) error {
		c, ok := s.cases.Lookup(f.Test)
		if !ok || !selected[f.Test] {
			s.log.Debug("ignoring test without selected case ids", "test", f.Test, "package", f.Package)
			return nil
		}
		if pkg, dup := reported[f.Test]; dup {
			s.log.Warn("test name finished in more than one package, keeping the first result",
				"test", f.Test, "package", f.Package, "first", pkg)
			return nil
		}
		reported[f.Test] = f.Package
		return acc.ExampleFinished(ctx, accumulator.Example{
			Name:    f.Test,
			IDs:     c.IDs,
			Status:  f.Status(),
			Message: f.Output,
		})
	})
	if streamErr == nil {
		streamErr = acc.Stop(ctx)
	}
	summary.Stats = acc.Stats()
	summary.Executed = len(acc.Executed())
	summary.Duration = time.Since(started)
	if streamErr != nil {
		return summary, streamErr
	}
	return summary, nil
}

// prepare works out the run to report into and what happens with the
// executed set at the end.
func (s *Service) prepare(ctx context.Context, summary *Summary) (int64, accumulator.Finisher, error) {
	t := s.config.Target
	switch s.mode {
	case ModeDistributedPlan:
		summary.EntryID = t.EntryID
		if s.config.DryRun {
			return t.EntryRunID, handoff.NewDryRunWriter(s.config.WorkerID, s.log), nil
		}
		return t.EntryRunID, handoff.NewWriter(s.handoff.Store, s.config.WorkerID, s.log), nil
	case ModeLocalPlan:
		entry, err := s.api.AddPlanEntry(ctx, t.PlanID, testrail.PlanEntryRequest{
			Name:       t.RunName,
			IncludeAll: true,
		})
		if err != nil {
			return 0, nil, fmt.Errorf("failed to create plan entry %q: %w", t.RunName, err)
		}
		s.log.Info("Created plan entry", "plan", t.PlanID, "entry", entry.EntryID, "run", entry.RunID)
		summary.EntryID = entry.EntryID
		return entry.RunID, pruner.New(s.api, s.log).Direct(t.PlanID, entry.EntryID), nil
	default:
		return t.RunID, accumulator.NoopFinisher, nil
	}
}

func (s *Service) pushMetrics(ctx context.Context) {
	if s.config.PushGateway == "" {
		return
	}
	err := metrics.Push(ctx, s.config.PushGateway, metricsJob, map[string]string{
		"worker": s.config.WorkerID,
		"mode":   s.mode.String(),
	})
	if err != nil {
		s.log.Warn("Failed to push metrics", "error", err)
	}
}

// Stop implements the cliapp.Lifecycle interface.
func (s *Service) Stop(ctx context.Context) error {
	if s.stopped.Swap(true) {
		return nil
	}
	if s.handoff != nil {
		return s.handoff.Close()
	}
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (s *Service) Stopped() bool {
	return s.stopped.Load()
}

// Summary returns the summary of the last session, nil before Start.
func (s *Service) Summary() *Summary {
	return s.summary
}

func resolveAssignee(ctx context.Context, api testrail.API, email string, logger log.Logger) (int64, error) {
	if email == "" {
		return 0, nil
	}
	user, err := api.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("failed to look up assignee %s: %w", email, err)
	}
	logger.Info("Selecting cases assigned to user", "user", user.Name, "id", user.ID)
	return user.ID, nil
}
