package gotest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

const DefaultGoBinary = "go"

// RunPattern builds a -run pattern matching the given test names. Subtest
// names select their top-level test, since -run cannot express a set of
// unrelated subtest paths.
func RunPattern(names []string) string {
	seen := make(map[string]struct{})
	var tops []string
	for _, n := range names {
		top, _, _ := strings.Cut(n, "/")
		if top == "" {
			continue
		}
		if _, ok := seen[top]; ok {
			continue
		}
		seen[top] = struct{}{}
		tops = append(tops, regexp.QuoteMeta(top))
	}
	if len(tops) == 0 {
		return ""
	}
	sort.Strings(tops)
	return "^(" + strings.Join(tops, "|") + ")$"
}

type ExecutorConfig struct {
	Log       log.Logger
	GoBinary  string
	Dir       string
	Packages  []string
	ExtraArgs []string
	Stderr    io.Writer

	// cmdBuilder is swapped out in tests
	cmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// Executor runs `go test -json` and streams finished tests as they happen.
type Executor struct {
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = []string{"./..."}
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.cmdBuilder == nil {
		cfg.cmdBuilder = exec.CommandContext
	}
	return &Executor{cfg: cfg}
}

// Run executes the tests matching pattern. Failing tests are not an error;
// they arrive through fn like any other result. An error from fn stops the
// run.
func (e *Executor) Run(ctx context.Context, pattern string, fn func(Finished) error) error {
	args := []string{"test", "-json"}
	if pattern != "" {
		args = append(args, "-run", pattern)
	}
	args = append(args, e.cfg.ExtraArgs...)
	args = append(args, e.cfg.Packages...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := e.cfg.cmdBuilder(ctx, e.cfg.GoBinary, args...)
	cmd.Dir = e.cfg.Dir
	cmd.Stderr = e.cfg.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open test output: %w", err)
	}

	e.cfg.Log.Info("Running tests", "binary", e.cfg.GoBinary, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", e.cfg.GoBinary, err)
	}

	scanErr := NewParser().Scan(stdout, fn)
	if scanErr != nil {
		cancel()
		// drain so the process can exit
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()
	if scanErr != nil {
		return scanErr
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1 {
		// go test exits 1 when tests fail
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("go test failed: %w", waitErr)
	}
	return nil
}
