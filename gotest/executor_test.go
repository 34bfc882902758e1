package gotest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess stands in for the go binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("HELPER_OUTPUT"))
	fmt.Fprintln(os.Stderr, strings.Join(os.Args, " "))
	code := 0
	fmt.Sscanf(os.Getenv("HELPER_EXIT"), "%d", &code)
	os.Exit(code)
}

func helperExecutor(t *testing.T, output string, exit int, args *[]string) *Executor {
	e := NewExecutor(ExecutorConfig{
		Log:      log.NewLogger(log.DiscardHandler()),
		GoBinary: "go",
		Packages: []string{"./pkg/..."},
		Stderr:   io.Discard,
	})
	e.cfg.cmdBuilder = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		*args = append([]string{name}, arg...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess", "--")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"HELPER_OUTPUT="+output,
			fmt.Sprintf("HELPER_EXIT=%d", exit),
		)
		return cmd
	}
	return e
}

func TestExecutorRun(t *testing.T) {
	var args []string
	e := helperExecutor(t, stream, 1, &args)

	var got []string
	err := e.Run(context.Background(), "^(TestLogin)$", func(f Finished) error {
		got = append(got, f.Test+":"+f.Action)
		return nil
	})
	require.NoError(t, err, "failing tests are not an executor error")
	assert.Equal(t, []string{"TestLogin:fail", "TestLogout:pass", "TestSlow:skip"}, got)
	assert.Equal(t, []string{"go", "test", "-json", "-run", "^(TestLogin)$", "./pkg/..."}, args)
}

func TestExecutorBuildFailure(t *testing.T) {
	var args []string
	e := helperExecutor(t, "", 2, &args)
	err := e.Run(context.Background(), "", func(Finished) error { return nil })
	require.Error(t, err)
	assert.Equal(t, []string{"go", "test", "-json", "./pkg/..."}, args)
}

func TestExecutorCallbackError(t *testing.T) {
	var args []string
	e := helperExecutor(t, stream, 0, &args)
	boom := errors.New("flush failed")
	err := e.Run(context.Background(), "", func(Finished) error { return boom })
	require.ErrorIs(t, err, boom)
}
