package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(18)

	gainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	lossStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func signed(v float64, format string) string {
	s := fmt.Sprintf(format, v)
	if v < 0 {
		return lossStyle.Render(s)
	}
	return gainStyle.Render(s)
}

// FormatShares 按 "SYMBOL=qty" 格式化持股
func FormatShares(symbols []string, shares []float64) string {
	parts := make([]string, 0, len(symbols))
	for i, symbol := range symbols {
		q := 0.0
		if i < len(shares) {
			q = shares[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%g", symbol, q))
	}
	return strings.Join(parts, " ")
}

// RenderSummary 渲染回合摘要
func RenderSummary(r *types.EpisodeResult) string {
	mode := r.Mode
	if mode != "" {
		mode = strings.ToUpper(mode[:1]) + mode[1:]
	}
	title := fmt.Sprintf("%s summary: %s", mode, r.Family)
	if r.ModelPath != "" {
		title += " (" + r.ModelPath + ")"
	}

	period := "-"
	if !r.StartDate.IsZero() {
		period = fmt.Sprintf("%s to %s", r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	}

	rows := []string{
		row("Period", period),
		row("Days", fmt.Sprintf("%d", r.Stats.Days)),
		row("Account balance", fmt.Sprintf("$%.2f", r.FinalBalance)),
		row("Number of shares", FormatShares(r.Symbols, r.FinalShares)),
		row("Portfolio value", fmt.Sprintf("$%.2f", r.FinalValue)),
		row("Total return", signed(r.Stats.TotalReturn*100, "%.2f%%")),
		row("Volatility", fmt.Sprintf("%.2f%%", r.Stats.Volatility*100)),
		row("Sharpe", signed(r.Stats.Sharpe, "%.2f")),
		row("Max drawdown", fmt.Sprintf("%.2f%%", r.Stats.MaxDrawdown*100)),
		row("Trades", fmt.Sprintf("%d", len(r.Trades))),
		row("Share turnover", FormatShares(r.Symbols, r.Stats.Turnover)),
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
	)
}

// PrintSummary 打印回合摘要
func PrintSummary(w io.Writer, r *types.EpisodeResult) {
	if r == nil {
		fmt.Fprintln(w, "No results available")
		return
	}
	fmt.Fprintln(w, RenderSummary(r))
}
