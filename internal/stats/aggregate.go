package stats

import (
	"sort"

	"DiceSentinel/internal/model"
)

// Entry is one account's row in a report.
type Entry struct {
	Account string `json:"account"`
	model.ResultRecord
}

// Totals aggregates a set of entries.
type Totals struct {
	Accounts int `json:"accounts"`
	Wins     int `json:"wins"`
	Losses   int `json:"losses"`
	Profit   int `json:"profit"`
	// WinRate is wins / (wins + losses), 0 when no games were played.
	WinRate float64 `json:"win_rate"`
}

// Collect builds report entries in collection order. Accounts without a
// stored result contribute a zero record.
func Collect(accounts []model.Account) []Entry {
	entries := make([]Entry, len(accounts))
	for i, a := range accounts {
		entries[i] = Entry{Account: a.Name}
		if a.Stats != nil {
			entries[i].ResultRecord = *a.Stats
		}
	}
	return entries
}

// Summarize returns the totals over entries.
func Summarize(entries []Entry) Totals {
	t := Totals{Accounts: len(entries)}
	for _, e := range entries {
		t.Wins += e.Wins
		t.Losses += e.Losses
		t.Profit += e.Profit
	}
	if games := t.Wins + t.Losses; games > 0 {
		t.WinRate = float64(t.Wins) / float64(games)
	}
	return t
}

// TopByProfit returns up to n entries ordered by profit, highest first.
func TopByProfit(entries []Entry, n int) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Profit > sorted[j].Profit })
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}
