package session

import (
	"context"
	"sync"
	"time"

	"DiceSentinel/internal/model"
)

// MockRunner returns controllable fixed results for development and testing.
type MockRunner struct {
	Result model.ResultRecord
	Err    error
	Delay  time.Duration

	// PerAccount overrides Result and Err for specific accounts.
	PerAccount map[string]MockOutcome

	// Gate, when set, holds every run until it is closed.
	Gate chan struct{}

	// IgnoreCancel makes the runner deaf to its token; only the hard
	// context stops it.
	IgnoreCancel bool

	mu      sync.Mutex
	calls   map[string]int
	started chan string
}

// MockOutcome is a per-account scripted result.
type MockOutcome struct {
	Result model.ResultRecord
	Err    error
}

func (m *MockRunner) Name() string { return "mock" }

// Started returns a channel that receives the account name of every run
// as it begins.
func (m *MockRunner) Started() <-chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started == nil {
		m.started = make(chan string, 64)
	}
	return m.started
}

// Calls returns how many times Execute ran for account.
func (m *MockRunner) Calls(account string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[account]
}

func (m *MockRunner) Execute(ctx context.Context, tok *Token, account string, _ model.Credential) (model.ResultRecord, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[account]++
	started := m.started
	res, err := m.Result, m.Err
	if o, ok := m.PerAccount[account]; ok {
		res, err = o.Result, o.Err
	}
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- account:
		default:
		}
	}

	var wait <-chan time.Time
	if m.Gate == nil {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		wait = timer.C
	}
	stop := tok.Done()
	if m.IgnoreCancel {
		stop = nil
	}

	select {
	case <-m.Gate:
	case <-wait:
	case <-stop:
		return model.ResultRecord{}, ErrCancelled
	case <-ctx.Done():
		return model.ResultRecord{}, ctx.Err()
	}
	if err != nil {
		return model.ResultRecord{}, err
	}
	return res, nil
}
