package recorder

import "time"

// RunEvent is one finished account run.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	Account    string    `json:"account"`
	State      string    `json:"state"` // "completed", "failed" or "cancelled"
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	Profit     int       `json:"profit"`
	HasResult  bool      `json:"has_result"`
	Error      string    `json:"error,omitempty"`
	Forced     bool      `json:"forced"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Recorder persists run history for later analysis.
type Recorder interface {
	RecordRun(evt *RunEvent) error
	RecentRuns(limit int) ([]RunEvent, error)
	Close() error
}
