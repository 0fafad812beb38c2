package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"DiceSentinel/internal/model"
	"DiceSentinel/internal/recorder"
	"DiceSentinel/internal/stats"
	"DiceSentinel/internal/supervisor"
)

// FormatOutcome formats a finished run into a Telegram message.
func FormatOutcome(ev supervisor.Event) string {
	var b strings.Builder
	name := html.EscapeString(ev.Account)

	switch ev.Outcome.State {
	case model.RunCompleted:
		b.WriteString(fmt.Sprintf("🎲 <b>%s</b> finished\n", name))
	case model.RunCancelled:
		b.WriteString(fmt.Sprintf("⏹ <b>%s</b> cancelled\n", name))
	default:
		b.WriteString(fmt.Sprintf("❌ <b>%s</b> failed\n", name))
	}

	if r := ev.Outcome.Result; r != nil {
		b.WriteString(fmt.Sprintf("Wins: %d | Losses: %d | Credits: %d\n", r.Wins, r.Losses, r.Profit))
	}
	if ev.Outcome.Err != nil {
		b.WriteString(fmt.Sprintf("Error: %s\n", html.EscapeString(ev.Outcome.Err.Error())))
	}
	if ev.Forced {
		b.WriteString("⚠️ did not stop in time, terminated\n")
	}
	if ev.SaveErr != nil {
		b.WriteString(fmt.Sprintf("⚠️ result not saved: %s\n", html.EscapeString(ev.SaveErr.Error())))
	}
	b.WriteString(fmt.Sprintf("Duration: %v", ev.FinishedAt.Sub(ev.StartedAt).Round(time.Second)))
	return b.String()
}

// FormatStats formats aggregate results for display.
func FormatStats(entries []stats.Entry) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>DiceSentinel stats</b> | %s\n\n", time.Now().Format("2006-01-02")))
	if len(entries) == 0 {
		b.WriteString("No accounts configured.")
		return b.String()
	}
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%s: W%d L%d | %d\n", html.EscapeString(e.Account), e.Wins, e.Losses, e.Profit))
	}
	sum := stats.Summarize(entries)
	b.WriteString("─────────────────\n")
	b.WriteString(fmt.Sprintf("Total: W%d L%d | profit %d | win rate %.0f%%", sum.Wins, sum.Losses, sum.Profit, sum.WinRate*100))
	if top := stats.TopByProfit(entries, 1); len(entries) > 1 && top[0].Profit > 0 {
		b.WriteString(fmt.Sprintf("\n🏆 Top: %s (%d)", html.EscapeString(top[0].Account), top[0].Profit))
	}
	return b.String()
}

// FormatAccounts lists accounts with their run status.
func FormatAccounts(list []supervisor.AccountStatus) string {
	var b strings.Builder
	b.WriteString("👥 <b>Accounts</b>\n\n")
	if len(list) == 0 {
		b.WriteString("No accounts configured.")
		return b.String()
	}
	for _, st := range list {
		status := "idle"
		if st.Running {
			status = "running"
		}
		last := "no result yet"
		if s := st.Account.Stats; s != nil {
			last = fmt.Sprintf("W%d L%d | %d", s.Wins, s.Losses, s.Profit)
		}
		b.WriteString(fmt.Sprintf("%s [%s] %s\n", html.EscapeString(st.Account.Name), status, last))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatHistory formats recent runs from the recorder.
func FormatHistory(runs []recorder.RunEvent) string {
	var b strings.Builder
	b.WriteString("🕘 <b>Recent runs</b>\n\n")
	if len(runs) == 0 {
		b.WriteString("No runs recorded.")
		return b.String()
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s %s %s", r.FinishedAt.Format("01-02 15:04"), html.EscapeString(r.Account), r.State)
		if r.HasResult {
			line += fmt.Sprintf(" W%d L%d %d", r.Wins, r.Losses, r.Profit)
		}
		if r.Forced {
			line += " (forced)"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
