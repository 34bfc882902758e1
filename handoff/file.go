package handoff

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

const (
	filePrefix = "executed_tests_"
	fileSuffix = ".json"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps one JSON file per worker in a directory shared by all
// workers of one plan entry, named executed_tests_<worker>.json.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// FileScope is the subdirectory holding the artifacts of one plan entry.
func FileScope(planID int64, entryID string) string {
	return fmt.Sprintf("plan_%d_entry_%s", planID, strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(entryID))
}

func NewFileStore(fsys afero.Fs, dir string) *FileStore {
	return &FileStore{fs: fsys, dir: dir}
}

// NewOSFileStore is a FileStore on the local filesystem.
func NewOSFileStore(dir string) *FileStore {
	return NewFileStore(afero.NewOsFs(), dir)
}

func (s *FileStore) path(worker string) string {
	return filepath.Join(s.dir, filePrefix+worker+fileSuffix)
}

func (s *FileStore) Put(ctx context.Context, worker string, ids []runstate.CaseID) error {
	if err := validWorker(worker); err != nil {
		return err
	}
	data, err := encode(ids)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create handoff dir %s: %w", s.dir, err)
	}
	// write then rename so the coordinator never reads a partial file
	tmp := s.path(worker) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path(worker)); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list handoff dir %s: %w", s.dir, err)
	}
	var workers []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		workers = append(workers, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	sort.Strings(workers)
	return workers, nil
}

func (s *FileStore) Get(ctx context.Context, worker string) ([]runstate.CaseID, error) {
	data, err := afero.ReadFile(s.fs, s.path(worker))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("worker %s: %w", worker, ErrNoArtifact)
		}
		return nil, fmt.Errorf("failed to read handoff of worker %s: %w", worker, err)
	}
	return decode(data)
}

func (s *FileStore) Delete(ctx context.Context, worker string) error {
	if err := s.fs.Remove(s.path(worker)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete handoff of worker %s: %w", worker, err)
	}
	return nil
}

func validWorker(worker string) error {
	if worker == "" || strings.ContainsAny(worker, `/\`) {
		return fmt.Errorf("invalid worker id %q", worker)
	}
	return nil
}
