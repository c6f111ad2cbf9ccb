package terminal

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

// Theme holds the colours and panel styles of the terminal front end.
type Theme struct {
	Tool  func(format string, a ...interface{}) string
	OK    func(format string, a ...interface{}) string
	Fail  func(format string, a ...interface{}) string
	Warn  func(format string, a ...interface{}) string
	Dim   func(format string, a ...interface{}) string
	Added func(format string, a ...interface{}) string
	Hunk  func(format string, a ...interface{}) string

	title    lipgloss.Style
	panel    lipgloss.Style
	approval lipgloss.Style
}

// NewTheme builds a theme for out. With colour off every helper returns
// plain text; panels keep their borders.
func NewTheme(out io.Writer, colour bool) Theme {
	sprint := func(attrs ...color.Attribute) func(string, ...interface{}) string {
		c := color.New(attrs...)
		if colour {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintfFunc()
	}

	r := lipgloss.NewRenderer(out)
	var magenta, yellow lipgloss.TerminalColor = lipgloss.Color("201"), lipgloss.Color("226")
	if !colour {
		magenta, yellow = lipgloss.NoColor{}, lipgloss.NoColor{}
	}

	return Theme{
		Tool:  sprint(color.FgCyan),
		OK:    sprint(color.FgGreen),
		Fail:  sprint(color.FgRed),
		Warn:  sprint(color.FgYellow),
		Dim:   sprint(color.FgHiBlack),
		Added: sprint(color.FgGreen),
		Hunk:  sprint(color.FgCyan, color.Bold),

		title: r.NewStyle().Bold(true).Foreground(magenta),
		panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(magenta).
			Padding(0, 1),
		approval: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(yellow).
			Padding(0, 1),
	}
}

// Panel frames body with a titled rounded border.
func (t Theme) Panel(title, body string) string {
	return t.panel.Render(t.title.Render(title) + "\n" + strings.TrimRight(body, "\n"))
}

// ApprovalPanel frames a pending change.
func (t Theme) ApprovalPanel(title, body string) string {
	return t.approval.Render(t.title.Render(title) + "\n" + strings.TrimRight(body, "\n"))
}

// ColorDiff colours a unified diff line by line.
func (t Theme) ColorDiff(d string) string {
	lines := strings.Split(strings.TrimRight(d, "\n"), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = t.Dim("%s", line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = t.Hunk("%s", line)
		case strings.HasPrefix(line, "+"):
			lines[i] = t.Added("%s", line)
		case strings.HasPrefix(line, "-"):
			lines[i] = t.Fail("%s", line)
		}
	}
	return strings.Join(lines, "\n")
}
