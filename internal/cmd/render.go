package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/loomlang/loom/internal/ledger"
	"github.com/loomlang/loom/internal/unit"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func statusStyle(status unit.Status) lipgloss.Style {
	switch status {
	case unit.StatusDone:
		return doneStyle
	case unit.StatusFailed:
		return failedStyle
	case unit.StatusCancelled:
		return cancelledStyle
	default:
		return mutedStyle
	}
}

// renderSummary formats the terminal outcomes of a run.
func renderSummary(runID string, outcomes []*unit.Outcome) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Run %s", runID)))
	b.WriteString("\n\n")

	var done, failed, cancelled, resumed int
	for _, o := range outcomes {
		line := fmt.Sprintf("  %-30s %-10s rounds=%d", o.UnitID, o.Status, o.Rounds)
		if o.Resumed {
			line += mutedStyle.Render("  (resumed)")
		}
		if o.Err != "" {
			line += "  " + mutedStyle.Render(o.Err)
		}
		b.WriteString(statusStyle(o.Status).Render(line))
		b.WriteString("\n")

		if o.Resumed {
			resumed++
		}
		switch o.Status {
		case unit.StatusDone:
			done++
		case unit.StatusCancelled:
			cancelled++
		default:
			failed++
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s %s",
		doneStyle.Render(fmt.Sprintf("%d done", done)),
		failedStyle.Render(fmt.Sprintf("%d failed", failed)),
		cancelledStyle.Render(fmt.Sprintf("%d cancelled", cancelled))))
	if resumed > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  (%d resumed)", resumed)))
	}
	return b.String()
}

// renderRunList formats the output of "loom status" with no run id.
func renderRunList(records []ledger.RunRecord) string {
	if len(records) == 0 {
		return "No runs found."
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("Runs"))
	b.WriteString("\n")
	for _, r := range records {
		b.WriteString(fmt.Sprintf("  %-40s %s", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05")))
		if r.ResumeCount > 0 {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  resumed %dx", r.ResumeCount)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderRunStatus formats one run's unit records and summary. A non-nil
// lock means the run is held by a live process.
func renderRunStatus(record *ledger.RunRecord, units []ledger.UnitRecord, summary *ledger.Summary, lock *ledger.Lock) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Run %s", record.ID)))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  created %s", record.CreatedAt.Format("2006-01-02 15:04:05"))))
	if lock != nil {
		b.WriteString(cancelledStyle.Render(fmt.Sprintf("  in progress (pid %d)", lock.PID)))
	}
	b.WriteString("\n\n")

	if len(units) == 0 {
		b.WriteString("  no units recorded\n")
	}
	for _, u := range units {
		line := fmt.Sprintf("  %-30s %-10s rounds=%d", u.UnitID, u.Status, u.Rounds)
		if u.Error != "" {
			line += "  " + mutedStyle.Render(u.Error)
		}
		b.WriteString(statusStyle(u.Status).Render(line))
		b.WriteString("\n")
	}

	if summary != nil {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s %s %s",
			doneStyle.Render(fmt.Sprintf("%d done", summary.Done)),
			failedStyle.Render(fmt.Sprintf("%d failed", summary.Failed)),
			cancelledStyle.Render(fmt.Sprintf("%d cancelled", summary.Cancelled))))
	} else {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("run not finished"))
	}
	return b.String()
}
