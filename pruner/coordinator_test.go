package pruner

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ethereum-optimism/infra/op-testrail/handoff"
	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

type countingLocker struct {
	locks, unlocks int
	err            error
}

func (l *countingLocker) Lock(context.Context) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks++
	return func(context.Context) error {
		l.unlocks++
		return nil
	}, nil
}

// brokenStore fails reads for one worker.
type brokenStore struct {
	handoff.Store
	broken string
}

func (s *brokenStore) Get(ctx context.Context, worker string) ([]runstate.CaseID, error) {
	if worker == s.broken {
		return nil, errors.New("disk error")
	}
	return s.Store.Get(ctx, worker)
}

func newCoordinator(store handoff.Store, entry *fakeEntry, locker Locker) *Coordinator {
	logger := log.NewLogger(log.DiscardHandler())
	return NewCoordinator(CoordinatorConfig{
		Log:                logger,
		Store:              store,
		Pruner:             New(entry, logger),
		Locker:             locker,
		MaxConcurrentReads: 2,
	})
}

func TestCoordinatorUnionsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	store := handoff.NewFileStore(afero.NewMemMapFs(), "/h")
	require.NoError(t, store.Put(ctx, "ci-1", []runstate.CaseID{100, 101}))
	require.NoError(t, store.Put(ctx, "ci-2", []runstate.CaseID{101, 102}))
	require.NoError(t, store.Put(ctx, "ci-3", nil))
	require.NoError(t, store.Put(ctx, "ci-4", []runstate.CaseID{200}))

	entry := &fakeEntry{includeAll: true}
	locker := &countingLocker{}
	res, err := newCoordinator(store, entry, locker).Run(ctx, 5, "abc")
	require.NoError(t, err)

	assert.Equal(t, []string{"ci-1", "ci-2", "ci-3", "ci-4"}, res.Workers)
	assert.Equal(t, []runstate.CaseID{100, 101, 102, 200}, res.Executed)
	require.Len(t, entry.updates, 1, "pruned exactly once")
	assert.Equal(t, []int64{100, 101, 102, 200}, entry.cases)

	workers, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers, "artifacts are consumed")
	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, 1, locker.unlocks)
}

func TestCoordinatorNothingToPrune(t *testing.T) {
	defer goleak.VerifyNone(t)
	entry := &fakeEntry{includeAll: true}
	_, err := newCoordinator(handoff.NewFileStore(afero.NewMemMapFs(), "/h"), entry, nil).Run(context.Background(), 5, "abc")
	require.ErrorIs(t, err, ErrNoHandoffs)
	assert.Empty(t, entry.updates)
}

func TestCoordinatorKeepsArtifactsOnPruneFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	store := handoff.NewFileStore(afero.NewMemMapFs(), "/h")
	require.NoError(t, store.Put(ctx, "ci-1", []runstate.CaseID{100}))

	entry := &fakeEntry{err: errors.New("forbidden")}
	_, err := newCoordinator(store, entry, &countingLocker{}).Run(ctx, 5, "abc")
	require.Error(t, err)

	workers, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ci-1"}, workers, "a failed prune can be retried")
}

func TestCoordinatorReadFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	inner := handoff.NewFileStore(afero.NewMemMapFs(), "/h")
	for _, w := range []string{"ci-1", "ci-2", "ci-3"} {
		require.NoError(t, inner.Put(ctx, w, []runstate.CaseID{1}))
	}
	entry := &fakeEntry{}
	_, err := newCoordinator(&brokenStore{Store: inner, broken: "ci-2"}, entry, &countingLocker{}).Run(ctx, 5, "abc")
	require.Error(t, err)
	assert.Empty(t, entry.updates)
}

func TestCoordinatorLockHeld(t *testing.T) {
	defer goleak.VerifyNone(t)
	held := errors.New("lock already taken")
	entry := &fakeEntry{}
	_, err := newCoordinator(handoff.NewFileStore(afero.NewMemMapFs(), "/h"), entry, &countingLocker{err: held}).Run(context.Background(), 5, "abc")
	require.ErrorIs(t, err, held)
	assert.Empty(t, entry.updates)
}

func TestCoordinatorDryRunKeepsHandoffs(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	store := handoff.NewFileStore(afero.NewMemMapFs(), "/h")
	require.NoError(t, store.Put(ctx, "ci-1", []runstate.CaseID{100}))

	logger := log.NewLogger(log.DiscardHandler())
	entry := &fakeEntry{includeAll: true}
	dry := NewCoordinator(CoordinatorConfig{Log: logger, Store: store, Pruner: New(entry, logger), DryRun: true})
	res, err := dry.Run(ctx, 5, "abc")
	require.NoError(t, err)
	assert.Equal(t, []runstate.CaseID{100}, res.Executed)
	assert.Empty(t, entry.updates)

	workers, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ci-1"}, workers)

	_, err = newCoordinator(store, entry, nil).Run(ctx, 5, "abc")
	require.NoError(t, err)
	require.Len(t, entry.updates, 1)
	assert.Equal(t, []int64{100}, entry.cases)
}
