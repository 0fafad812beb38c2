package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"DiceSentinel/internal/model"
	"DiceSentinel/internal/session"
)

// Handle is the supervisor's record of one in-flight run. A handle reaches
// a terminal state exactly once and is never reused.
type Handle struct {
	ID        string
	Account   string
	StartedAt time.Time

	tok     *session.Token
	abort   context.CancelFunc
	claimed atomic.Bool
	done    chan struct{}

	mu      sync.Mutex
	state   model.RunState
	outcome model.Outcome
}

func newHandle(id, account string, abort context.CancelFunc) *Handle {
	return &Handle{
		ID:        id,
		Account:   account,
		StartedAt: time.Now(),
		tok:       session.NewToken(),
		abort:     abort,
		done:      make(chan struct{}),
		state:     model.RunRunning,
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() model.RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// CancelRequested reports whether the cooperative stop flag is set.
func (h *Handle) CancelRequested() bool { return h.tok.Cancelled() }

// Done is closed once the handle is terminal, out of the registry and its
// event has been queued.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the terminal outcome, ok is false while running.
func (h *Handle) Outcome() (model.Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.state.Terminal()
}

// Wait blocks until the run is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (model.Outcome, error) {
	select {
	case <-h.done:
		out, _ := h.Outcome()
		return out, nil
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	}
}

// claim lets exactly one of the completion path and the forced-stop path
// own the terminal transition.
func (h *Handle) claim() bool {
	return h.claimed.CompareAndSwap(false, true)
}

func (h *Handle) setOutcome(out model.Outcome) {
	h.mu.Lock()
	h.state = out.State
	h.outcome = out
	h.mu.Unlock()
}
