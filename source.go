package railsync

import (
	"context"
	"io"

	"github.com/ethereum-optimism/infra/op-testrail/gotest"
)

// Source produces finished tests for the selected test names.
type Source interface {
	Stream(ctx context.Context, selected []string, fn func(gotest.Finished) error) error
}

// ExecSource runs the selected tests with go test.
type ExecSource struct {
	Executor *gotest.Executor
}

func (s *ExecSource) Stream(ctx context.Context, selected []string, fn func(gotest.Finished) error) error {
	if len(selected) == 0 {
		return nil
	}
	return s.Executor.Run(ctx, gotest.RunPattern(selected), fn)
}

// ReaderSource replays an existing go test -json stream. Tests that were
// not selected are filtered out by the caller.
type ReaderSource struct {
	Reader io.Reader
}

func (s *ReaderSource) Stream(ctx context.Context, _ []string, fn func(gotest.Finished) error) error {
	return gotest.NewParser().Scan(s.Reader, func(f gotest.Finished) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(f)
	})
}
