// Package gotest turns a `go test -json` event stream into finished tests.
package gotest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

const (
	ActionRun    = "run"
	ActionStart  = "start"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// TestEvent is one line of `go test -json` output.
type TestEvent struct {
	Time    time.Time // Time the event occurred
	Action  string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string    // The package being tested
	Test    string    // The test function name (may be empty for package events)
	Output  string    // Output text (may be empty)
	Elapsed float64   // Elapsed time in seconds for the specific action
}

// Finished is a test that reached a terminal action.
type Finished struct {
	Package string
	Test    string
	Action  string
	Output  string
	Elapsed time.Duration
}

// Status maps the terminal action onto a run status. Skipped tests are
// reported as pending.
func (f Finished) Status() runstate.Status {
	switch f.Action {
	case ActionPass:
		return runstate.StatusPassed
	case ActionFail:
		return runstate.StatusFailed
	case ActionSkip:
		return runstate.StatusPending
	}
	return runstate.StatusUnset
}

type testKey struct {
	pkg  string
	test string
}

// Parser tracks output per test until the test finishes.
type Parser struct {
	output map[testKey]*strings.Builder
}

func NewParser() *Parser {
	return &Parser{output: make(map[testKey]*strings.Builder)}
}

// Feed consumes one line. It returns the finished test when the line is a
// terminal event for a named test. Lines that are not JSON are ignored.
func (p *Parser) Feed(line []byte) (Finished, bool) {
	var ev TestEvent
	if err := json.Unmarshal(line, &ev); err != nil || ev.Test == "" {
		return Finished{}, false
	}
	key := testKey{pkg: ev.Package, test: ev.Test}

	switch ev.Action {
	case ActionOutput:
		b, ok := p.output[key]
		if !ok {
			b = &strings.Builder{}
			p.output[key] = b
		}
		b.WriteString(ev.Output)
		return Finished{}, false
	case ActionPass, ActionFail, ActionSkip:
		f := Finished{
			Package: ev.Package,
			Test:    ev.Test,
			Action:  ev.Action,
			Elapsed: time.Duration(ev.Elapsed * float64(time.Second)),
		}
		if b, ok := p.output[key]; ok {
			f.Output = strings.TrimSpace(b.String())
			delete(p.output, key)
		}
		return f, true
	}
	return Finished{}, false
}

// Scan reads events from r and calls fn for each finished test, in order.
// It stops at the first error returned by fn.
func (p *Parser) Scan(r io.Reader, fn func(Finished) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		f, ok := p.Feed(scanner.Bytes())
		if !ok {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read test events: %w", err)
	}
	return nil
}
