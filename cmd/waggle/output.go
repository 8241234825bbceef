package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/waggle-sh/waggle/internal/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	statusStyles = map[types.Status]lipgloss.Style{
		types.StatusOpen:       okStyle,
		types.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		types.StatusBlocked:    warnStyle,
		types.StatusDone:       dimStyle,
		types.StatusCancelled:  dimStyle,
	}
)

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// termWidth returns the terminal width, or 80 when stdout is not a TTY.
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// printIssueLine renders one issue as a single aligned row.
func printIssueLine(issue *types.Issue, extra string) {
	desc := issue.Description
	if max := termWidth() - 40; max > 10 && len(desc) > max {
		desc = desc[:max-1] + "…"
	}
	status := statusStyles[issue.Status].Render(string(issue.Status))
	line := fmt.Sprintf("%s  P%d  %-12s %s", idStyle.Render(issue.ID), issue.Priority, status, desc)
	if len(issue.Labels) > 0 {
		line += dimStyle.Render("  [" + strings.Join(issue.Labels, ",") + "]")
	}
	if extra != "" {
		line += "  " + dimStyle.Render(extra)
	}
	fmt.Println(line)
}
