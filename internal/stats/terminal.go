package stats

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	defaultBarWidth = 30
	labelWidth      = 14
)

// TerminalSink draws a "Wins vs Losses" bar chart and a total profit line.
type TerminalSink struct {
	out      io.Writer
	noColor  bool
	barWidth int

	headerStyle lipgloss.Style
	dimStyle    lipgloss.Style
	winStyle    lipgloss.Style
	lossStyle   lipgloss.Style
	profitStyle lipgloss.Style
	boxStyle    lipgloss.Style
}

// NewTerminalSink writes to stdout.
func NewTerminalSink() *TerminalSink {
	return NewTerminalSinkWithOutput(os.Stdout)
}

// NewTerminalSinkWithOutput writes to out.
func NewTerminalSinkWithOutput(out io.Writer) *TerminalSink {
	return &TerminalSink{
		out:      out,
		barWidth: defaultBarWidth,

		headerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"}).
			Bold(true),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),

		winStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),

		lossStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}),

		profitStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}).
			Bold(true),

		boxStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}).
			Padding(0, 1),
	}
}

// SetNoColor disables styling.
func (t *TerminalSink) SetNoColor(noColor bool) { t.noColor = noColor }

// Render implements Sink.
func (t *TerminalSink) Render(entries []Entry) error {
	fmt.Fprintln(t.out, t.style(t.headerStyle, "Wins vs Losses"))
	fmt.Fprintln(t.out, t.style(t.dimStyle, strings.Repeat("─", labelWidth+t.barWidth+8)))

	if len(entries) == 0 {
		fmt.Fprintln(t.out, t.style(t.dimStyle, "no accounts"))
		return nil
	}

	maxCount := 0
	for _, e := range entries {
		maxCount = max(maxCount, e.Wins, e.Losses)
	}
	for _, e := range entries {
		label := truncate(e.Account, labelWidth)
		fmt.Fprintf(t.out, "%-*s %s %d\n", labelWidth, label,
			t.style(t.winStyle, buildBar(e.Wins, maxCount, t.barWidth)), e.Wins)
		fmt.Fprintf(t.out, "%-*s %s %d\n", labelWidth, "",
			t.style(t.lossStyle, buildBar(e.Losses, maxCount, t.barWidth)), e.Losses)
	}

	sum := Summarize(entries)
	summary := fmt.Sprintf("Total profit: %s   Win rate: %.0f%%   Accounts: %d",
		t.style(t.profitStyle, fmt.Sprintf("%d", sum.Profit)), sum.WinRate*100, sum.Accounts)
	fmt.Fprintln(t.out)
	if t.noColor {
		fmt.Fprintln(t.out, summary)
	} else {
		fmt.Fprintln(t.out, t.boxStyle.Render(summary))
	}
	return nil
}

func (t *TerminalSink) style(s lipgloss.Style, text string) string {
	if t.noColor {
		return text
	}
	return s.Render(text)
}

func buildBar(value, maxValue, width int) string {
	if maxValue == 0 {
		return strings.Repeat("░", width)
	}
	filled := value * width / maxValue
	if filled > width {
		filled = width
	}
	if value > 0 && filled == 0 {
		filled = 1
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
