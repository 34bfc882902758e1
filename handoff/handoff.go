// Package handoff carries each worker's executed case ids to the single
// process that prunes the plan entry once every worker has finished.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

var ErrNoArtifact = errors.New("no handoff artifact")

// Store holds one executed-id list per worker. Artifacts are written once
// by their worker and read and deleted once by the coordinator.
type Store interface {
	Put(ctx context.Context, worker string, ids []runstate.CaseID) error
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, worker string) ([]runstate.CaseID, error)
	Delete(ctx context.Context, worker string) error
}

// Writer is the accumulator finisher used by distributed workers.
type Writer struct {
	store  Store
	worker string
	log    log.Logger
}

func NewWriter(store Store, worker string, logger log.Logger) *Writer {
	return &Writer{store: store, worker: worker, log: logger}
}

func (w *Writer) Finish(ctx context.Context, executed []runstate.CaseID) error {
	if err := w.store.Put(ctx, w.worker, executed); err != nil {
		return fmt.Errorf("failed to write handoff for worker %s: %w", w.worker, err)
	}
	w.log.Info("wrote executed cases for later pruning", "worker", w.worker, "cases", len(executed))
	return nil
}

// DryRunWriter logs the executed set a Writer would store.
type DryRunWriter struct {
	worker string
	log    log.Logger
}

func NewDryRunWriter(worker string, logger log.Logger) *DryRunWriter {
	return &DryRunWriter{worker: worker, log: logger}
}

func (w *DryRunWriter) Finish(ctx context.Context, executed []runstate.CaseID) error {
	w.log.Info("dry run, not writing executed cases", "worker", w.worker, "cases", executed)
	return nil
}

func encode(ids []runstate.CaseID) ([]byte, error) {
	if ids == nil {
		ids = []runstate.CaseID{}
	}
	return json.Marshal(ids)
}

func decode(data []byte) ([]runstate.CaseID, error) {
	var ids []runstate.CaseID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode executed ids: %w", err)
	}
	return ids, nil
}
