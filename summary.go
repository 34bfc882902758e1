package railsync

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testrail/accumulator"
	"github.com/ethereum-optimism/infra/op-testrail/selector"
)

// Summary is what a session did, printed at the end of every command that
// selects tests.
type Summary struct {
	Mode      Mode
	RunID     int64
	EntryID   string
	Selection selector.Counters
	Stats     accumulator.Stats
	Executed  int
	Duration  time.Duration
}

func (s *Summary) title() string {
	title := fmt.Sprintf("TestRail Sync (%s, run %d", s.Mode, s.RunID)
	if s.EntryID != "" {
		title += ", entry " + s.EntryID
	}
	if s.Duration > 0 {
		title += ", " + s.Duration.Round(time.Millisecond).String()
	}
	return title + ")"
}

// Print renders the summary as a table.
func (s *Summary) Print(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(s.title())
	t.AppendHeader(table.Row{"Stage", "Count", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Stage", AutoMerge: true},
		{Name: "Count", Align: text.AlignRight},
	})

	t.AppendRows([]table.Row{
		{"Selection", s.Selection.Candidates, "candidates"},
		{"Selection", s.Selection.Selected, "selected"},
		{"Selection", s.Selection.Skipped, "skipped"},
		{"Selection", s.Selection.Orphaned, "case ids not in run"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Reporting", s.Stats.Examples, "tests finished"},
		{"Reporting", s.Stats.Failed, "tests failed"},
		{"Reporting", s.Executed, "cases executed"},
		{"Reporting", s.Stats.Posted, "results posted"},
		{"Reporting", s.Stats.Dropped, "results not posted"},
		{"Reporting", s.Stats.Orphaned, "reported case ids not in run"},
		{"Reporting", s.Stats.Flushes, "batches"},
	})
	t.Render()
}

// PrintSelection renders only the selection counts, for the select command.
func PrintSelection(w io.Writer, runID int64, c selector.Counters) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("TestRail Selection (run %d)", runID))
	t.AppendHeader(table.Row{"Candidates", "Selected", "Skipped", "Orphaned"})
	t.AppendRow(table.Row{c.Candidates, c.Selected, c.Skipped, c.Orphaned})
	t.Render()
}
