package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"DiceSentinel/internal/model"
	"DiceSentinel/internal/session"
)

// DefaultGracePeriod is how long StopAll waits for a run to stop on its own.
const DefaultGracePeriod = time.Second

// AccountStore is the account collection the supervisor reads credentials
// from and writes results to.
type AccountStore interface {
	Get(name string) (model.Account, bool)
	List() []model.Account
	SetLastResult(name string, res model.ResultRecord) error
}

// Options tunes a Supervisor.
type Options struct {
	GracePeriod time.Duration
	EventBuffer int
}

// Event is delivered once per run when it reaches a terminal state, always
// after the run has left the registry.
type Event struct {
	RunID      string
	Account    string
	Outcome    model.Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	// Forced is set when the run ignored cancellation for the whole grace
	// period and was torn down.
	Forced bool
	// SaveErr is the persistence failure, if any, of a produced result.
	SaveErr error
}

// AccountStatus is one row of List.
type AccountStatus struct {
	Account model.Account
	Running bool
	RunID   string
}

// RunInfo describes a live run.
type RunInfo struct {
	ID              string
	Account         string
	StartedAt       time.Time
	CancelRequested bool
}

// Supervisor runs at most one session per account and controls their
// lifecycle.
type Supervisor struct {
	store  AccountStore
	runner session.Runner
	grace  time.Duration

	mu     sync.Mutex
	runs   map[string]*Handle
	closed bool

	events    *dispatcher
	closeOnce sync.Once
}

// New creates a Supervisor.
func New(store AccountStore, runner session.Runner, opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	return &Supervisor{
		store:  store,
		runner: runner,
		grace:  opts.GracePeriod,
		runs:   make(map[string]*Handle),
		events: newDispatcher(opts.EventBuffer),
	}
}

// Events returns the completion channel. It is closed by Close.
func (s *Supervisor) Events() <-chan Event { return s.events.out }

// GracePeriod returns the cooperative stop window.
func (s *Supervisor) GracePeriod() time.Duration { return s.grace }

// Start launches a run for the named account and returns immediately.
func (s *Supervisor) Start(name string) (*Handle, error) {
	acct, ok := s.store.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}

	ctx, abort := context.WithCancel(context.Background())
	h := newHandle(uuid.NewString(), name, abort)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		abort()
		return nil, ErrClosed
	}
	if cur, ok := s.runs[name]; ok {
		s.mu.Unlock()
		abort()
		metricRunsRejected.Inc()
		log.Printf("[INFO] %s already running (run %s), start ignored", name, cur.ID)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	s.runs[name] = h
	s.mu.Unlock()

	recordStart()
	log.Printf("[INFO] started run %s for %s via %s runner", h.ID, name, s.runner.Name())
	go s.run(ctx, h, acct.Cookie)
	return h, nil
}

// StartAll starts every account that is not already running.
func (s *Supervisor) StartAll() []*Handle {
	var started []*Handle
	for _, a := range s.store.List() {
		h, err := s.Start(a.Name)
		switch {
		case err == nil:
			started = append(started, h)
		case errors.Is(err, ErrAlreadyRunning):
		default:
			log.Printf("[WARN] start %s: %v", a.Name, err)
		}
	}
	return started
}

func (s *Supervisor) run(ctx context.Context, h *Handle, cred model.Credential) {
	res, err := s.execute(ctx, h, cred)
	if !h.claim() {
		log.Printf("[INFO] run %s for %s returned after forced stop, result discarded", h.ID, h.Account)
		return
	}

	var (
		out     model.Outcome
		saveErr error
	)
	switch {
	case err == nil:
		r := res
		out = model.Outcome{State: model.RunCompleted, Result: &r}
		if h.tok.Cancelled() {
			out.State = model.RunCancelled
		}
		if saveErr = s.store.SetLastResult(h.Account, res); saveErr != nil {
			log.Printf("[ERROR] save result for %s: %v", h.Account, saveErr)
		}
	case h.tok.Cancelled() && (errors.Is(err, session.ErrCancelled) || errors.Is(err, context.Canceled)):
		out = model.Outcome{State: model.RunCancelled}
	default:
		out = model.Outcome{State: model.RunFailed, Err: &SessionError{Account: h.Account, Err: err}}
	}
	s.finish(h, out, false, saveErr)
}

// execute calls the runner and turns a panic into an error so one account
// cannot take the process down.
func (s *Supervisor) execute(ctx context.Context, h *Handle, cred model.Credential) (res model.ResultRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()
	return s.runner.Execute(ctx, h.tok, h.Account, cred)
}

// finish removes h from the registry, marks it terminal and queues the
// event. Done is closed only after the event is queued, so a caller that
// saw Done (StopAll, Close) never races the delivery.
func (s *Supervisor) finish(h *Handle, out model.Outcome, forced bool, saveErr error) {
	finishedAt := time.Now()

	s.mu.Lock()
	if s.runs[h.Account] == h {
		delete(s.runs, h.Account)
	}
	h.setOutcome(out)
	s.mu.Unlock()

	recordFinish(out.State, finishedAt.Sub(h.StartedAt).Seconds(), forced)
	switch out.State {
	case model.RunFailed:
		log.Printf("[WARN] run %s for %s failed: %v", h.ID, h.Account, out.Err)
	default:
		log.Printf("[INFO] run %s for %s %s in %v", h.ID, h.Account, out.State, finishedAt.Sub(h.StartedAt).Round(time.Millisecond))
	}

	s.events.push(Event{
		RunID:      h.ID,
		Account:    h.Account,
		Outcome:    out,
		StartedAt:  h.StartedAt,
		FinishedAt: finishedAt,
		Forced:     forced,
		SaveErr:    saveErr,
	})

	close(h.done)
	h.abort()
}

// StopAll asks every live run to stop, waits up to the grace period for
// each (concurrently), and forcibly terminates the stragglers. It returns
// once the registry is empty. If ctx ends early the remaining runs are
// forced at once.
func (s *Supervisor) StopAll(ctx context.Context) {
	for {
		handles := s.live()
		if len(handles) == 0 {
			return
		}
		log.Printf("[INFO] stopping %d run(s), grace period %v", len(handles), s.grace)
		for _, h := range handles {
			h.tok.Cancel()
		}

		var g errgroup.Group
		for _, h := range handles {
			g.Go(func() error {
				s.stop(ctx, h)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (s *Supervisor) stop(ctx context.Context, h *Handle) {
	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	if !h.claim() {
		// The completion path is already finishing this run.
		<-h.done
		return
	}
	log.Printf("[WARN] run %s for %s did not stop within %v, forcing termination", h.ID, h.Account, s.grace)
	h.abort()
	s.finish(h, model.Outcome{State: model.RunCancelled}, true, nil)
}

// Close refuses new runs, stops the live ones and drains the event queue.
func (s *Supervisor) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.StopAll(ctx)
		s.events.close(ctx)
		log.Println("[INFO] supervisor closed")
	})
}

func (s *Supervisor) live() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.runs))
	for _, h := range s.runs {
		out = append(out, h)
	}
	return out
}

// Running reports whether the account has a live run.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[name]
	return ok
}

// Active lists live runs ordered by start time.
func (s *Supervisor) Active() []RunInfo {
	handles := s.live()
	out := make([]RunInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, RunInfo{
			ID:              h.ID,
			Account:         h.Account,
			StartedAt:       h.StartedAt,
			CancelRequested: h.CancelRequested(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// List returns every account with its run status.
func (s *Supervisor) List() []AccountStatus {
	accounts := s.store.List()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AccountStatus, len(accounts))
	for i, a := range accounts {
		out[i] = AccountStatus{Account: a}
		if h, ok := s.runs[a.Name]; ok {
			out[i].Running = true
			out[i].RunID = h.ID
		}
	}
	return out
}

// LastResult returns the stored result of an account. ok is false when
// the account is unknown or has never completed a run.
func (s *Supervisor) LastResult(name string) (model.ResultRecord, bool) {
	a, ok := s.store.Get(name)
	if !ok || a.Stats == nil {
		return model.ResultRecord{}, false
	}
	return *a.Stats, true
}
