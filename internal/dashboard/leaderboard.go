package dashboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"stratlab/internal/backtest"
	"stratlab/internal/screen"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	acceptStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	rejectStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cellStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
)

const (
	idWidth     = 28
	statusWidth = 11
	numWidth    = 9
)

// signed picks the gain or loss style by sign.
func signed(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	}
	return dimStyle
}

// Leaderboard renders one row per outcome, accepted runs first and then by
// Sharpe ratio.
func Leaderboard(outcomes []screen.Outcome) string {
	rows := make([]screen.Outcome, len(outcomes))
	copy(rows, outcomes)
	sort.SliceStable(rows, func(i, j int) bool {
		ai, aj := accepted(rows[i]), accepted(rows[j])
		if ai != aj {
			return ai
		}
		return sharpe(rows[i]) > sharpe(rows[j])
	})

	var b strings.Builder
	b.WriteString(headerStyle.Render(padOrTrunc(fmt.Sprintf(" Leaderboard: %d candidates", len(rows)), 100)))
	b.WriteByte('\n')
	cols := padOrTrunc("STRATEGY", idWidth) + padOrTrunc("STATUS", statusWidth)
	for _, h := range []string{"FINAL", "RETURN", "SHARPE", "MAXDD", "TRADES", "WIN", "PF"} {
		cols += fmt.Sprintf("%*s", numWidth, h)
	}
	b.WriteString(colHeaderStyle.Render(cols + "  OK"))
	b.WriteByte('\n')

	for _, o := range rows {
		b.WriteString(idStyle.Render(padOrTrunc(o.StrategyID, idWidth)))
		if o.Err != nil {
			b.WriteString(rejectStyle.Render(padOrTrunc("not run", statusWidth)))
			b.WriteString(dimStyle.Render(o.Err.Error()))
			b.WriteByte('\n')
			continue
		}
		rep := o.Run.Report
		b.WriteString(padOrTrunc(string(rep.Status), statusWidth))
		if rep.Summary == nil {
			msg := rep.Message
			if rep.ErrorKind != "" {
				msg = string(rep.ErrorKind) + ": " + msg
			}
			b.WriteString(dimStyle.Render(msg))
			b.WriteByte('\n')
			continue
		}
		s := rep.Summary
		b.WriteString(fmt.Sprintf("%*s", numWidth, FormatMoney(s.FinalValue)))
		b.WriteString(signed(s.TotalReturn).Render(fmt.Sprintf("%*s", numWidth, FormatPct(s.TotalReturn))))
		b.WriteString(signed(s.SharpeRatio).Render(fmt.Sprintf("%*.2f", numWidth, s.SharpeRatio)))
		b.WriteString(fmt.Sprintf("%*s", numWidth, FormatPct(-s.MaxDrawdown)))
		b.WriteString(fmt.Sprintf("%*s", numWidth, FormatInt(s.TotalTrades)))
		b.WriteString(fmt.Sprintf("%*.2f", numWidth, s.WinRate))
		b.WriteString(fmt.Sprintf("%*s", numWidth, FormatRatio(s.ProfitFactor, backtest.ProfitFactorSentinel)))
		if rep.Accepted() {
			b.WriteString(acceptStyle.Render("  yes"))
		} else {
			b.WriteString(rejectStyle.Render("  no"))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FeatureMap renders the elite of each occupied cell.
func FeatureMap(elites []screen.Elite) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(padOrTrunc(fmt.Sprintf(" Feature map: %d cells", len(elites)), 100)))
	b.WriteByte('\n')
	if len(elites) == 0 {
		b.WriteString(dimStyle.Render("no accepted runs"))
		b.WriteByte('\n')
		return b.String()
	}
	for _, e := range elites {
		b.WriteString(cellStyle.Render(padOrTrunc(e.Cell.String(), idWidth)))
		b.WriteString(idStyle.Render(padOrTrunc(e.StrategyID, idWidth)))
		b.WriteString(gainStyle.Render(fmt.Sprintf("sharpe %.2f", e.Report.SharpeRatio)))
		b.WriteByte('\n')
	}
	return b.String()
}

func accepted(o screen.Outcome) bool {
	return o.Run != nil && o.Run.Report.Accepted()
}

func sharpe(o screen.Outcome) float64 {
	if o.Run == nil || o.Run.Report.Summary == nil {
		return 0
	}
	return o.Run.Report.SharpeRatio
}
