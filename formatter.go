package refstack

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jcmdln/refstack-client/api"
	"github.com/jcmdln/refstack-client/results"
)

// printResults renders a run as a table on stdout, with unresolved guideline
// identifiers listed underneath.
func printResults(doc *results.Document, unresolved []string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Compliance Test Results (%s)", formatDuration(time.Duration(doc.DurationSeconds)*time.Second)))

	t.AppendHeader(table.Row{"Test", "Duration", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, rec := range doc.Results {
		t.AppendRow(table.Row{
			rec.Name,
			formatDuration(time.Duration(rec.DurationSeconds * float64(time.Second))),
			getResultString(rec.Status),
		})
	}

	switch {
	case doc.Stats.Failed > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case doc.Stats.Total == doc.Stats.Skipped && doc.Stats.Total > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	status := results.StatusPass
	if doc.Stats.Failed > 0 {
		status = results.StatusFail
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("TOTAL %d (passed %d, failed %d, skipped %d)",
			doc.Stats.Total, doc.Stats.Passed, doc.Stats.Failed, doc.Stats.Skipped),
		formatDuration(time.Duration(doc.DurationSeconds) * time.Second),
		getResultString(status),
	})
	t.Render()

	if doc.Interrupted {
		fmt.Println("Run was interrupted; results above are partial.")
	}
	if len(unresolved) > 0 {
		fmt.Printf("\n%d guideline test(s) not found in this environment:\n", len(unresolved))
		for _, id := range unresolved {
			fmt.Printf("  %s\n", id)
		}
	}
}

// printListing renders the server's stored result sets.
func printListing(listed []api.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Created", "URL"})
	for _, r := range listed {
		t.AppendRow(table.Row{r.CreatedAt, r.URL})
	}
	t.AppendFooter(table.Row{"TOTAL", len(listed)})
	t.Render()
}

// getResultString returns a glyphed string representing a test result
func getResultString(status results.Status) string {
	switch status {
	case results.StatusPass:
		return "✓ pass"
	case results.StatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
