package model

// RunState is the lifecycle state of a supervised run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Outcome is the terminal result of a run.
// Result is set for completed runs and for cancelled runs whose result
// arrived before the run was abandoned. Err is set for failed runs.
type Outcome struct {
	State  RunState
	Result *ResultRecord
	Err    error
}
