package supervisor

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DiceSentinel/internal/account"
	"DiceSentinel/internal/model"
	"DiceSentinel/internal/session"
)

// countingStore wraps the file store and counts result writes.
type countingStore struct {
	*account.Store
	saves   atomic.Int32
	failErr error
}

func (c *countingStore) SetLastResult(name string, res model.ResultRecord) error {
	c.saves.Add(1)
	if c.failErr != nil {
		return c.failErr
	}
	return c.Store.SetLastResult(name, res)
}

func newStore(t *testing.T, names ...string) *countingStore {
	t.Helper()
	s := account.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	for _, n := range names {
		require.NoError(t, s.Add(n, model.Credential{{Name: "sid", Value: n}}))
	}
	return &countingStore{Store: s}
}

func nextEvent(t *testing.T, sup *Supervisor, within time.Duration) Event {
	t.Helper()
	select {
	case ev := <-sup.Events():
		return ev
	case <-time.After(within):
		t.Fatalf("no event within %v", within)
	}
	return Event{}
}

func waitStarted(t *testing.T, started <-chan string, account string) {
	t.Helper()
	select {
	case got := <-started:
		require.Equal(t, account, got)
	case <-time.After(time.Second):
		t.Fatalf("%s never started", account)
	}
}

func closeSupervisor(t *testing.T, sup *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sup.Close(ctx)
}

func TestStart_SecondStartIsAlreadyRunning(t *testing.T) {
	store := newStore(t, "alice", "bob")
	gate := make(chan struct{})
	runner := &session.MockRunner{Result: model.ResultRecord{Wins: 1, Losses: 0, Profit: 50}, Gate: gate}
	sup := New(store, runner, Options{})
	defer closeSupervisor(t, sup)

	h, err := sup.Start("alice")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, h.State())

	_, err = sup.Start("alice")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Len(t, sup.Active(), 1)

	close(gate)
	ev := nextEvent(t, sup, 2*time.Second)
	assert.Equal(t, "alice", ev.Account)
	assert.Equal(t, h.ID, ev.RunID)
	require.Equal(t, model.RunCompleted, ev.Outcome.State)
	assert.Equal(t, model.ResultRecord{Wins: 1, Profit: 50}, *ev.Outcome.Result)

	persisted := account.Load(store.Path())
	require.Len(t, persisted, 2)
	require.NotNil(t, persisted[0].Stats)
	assert.Equal(t, model.ResultRecord{Wins: 1, Losses: 0, Profit: 50}, *persisted[0].Stats)
	assert.Equal(t, int32(1), store.saves.Load())
	assert.Equal(t, 1, runner.Calls("alice"))

	res, ok := sup.LastResult("alice")
	assert.True(t, ok)
	assert.Equal(t, 50, res.Profit)
	_, ok = sup.LastResult("bob")
	assert.False(t, ok)
}

func TestStart_ConcurrentStartsYieldOneHandle(t *testing.T) {
	store := newStore(t, "alice")
	gate := make(chan struct{})
	sup := New(store, &session.MockRunner{Gate: gate}, Options{})
	defer closeSupervisor(t, sup)

	var ok, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sup.Start("alice")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(49), busy.Load())

	close(gate)
	nextEvent(t, sup, 2*time.Second)
}

func TestStart_UnknownAccount(t *testing.T) {
	sup := New(newStore(t), &session.MockRunner{}, Options{})
	defer closeSupervisor(t, sup)

	_, err := sup.Start("ghost")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestStart_AfterCloseIsRefused(t *testing.T) {
	sup := New(newStore(t, "alice"), &session.MockRunner{}, Options{})
	closeSupervisor(t, sup)

	_, err := sup.Start("alice")
	assert.ErrorIs(t, err, ErrClosed)
	_, open := <-sup.Events()
	assert.False(t, open, "events channel should be closed")
}

func TestStopAll_ForcesUnresponsiveRun(t *testing.T) {
	store := newStore(t, "bob")
	runner := &session.MockRunner{Delay: time.Hour, IgnoreCancel: true}
	sup := New(store, runner, Options{GracePeriod: 1000 * time.Millisecond})
	defer closeSupervisor(t, sup)

	started := runner.Started()
	h, err := sup.Start("bob")
	require.NoError(t, err)
	waitStarted(t, started, "bob")

	begin := time.Now()
	sup.StopAll(context.Background())
	elapsed := time.Since(begin)

	assert.GreaterOrEqual(t, elapsed, 990*time.Millisecond)
	assert.Empty(t, sup.Active())
	assert.False(t, sup.Running("bob"))
	assert.Equal(t, model.RunCancelled, h.State())

	ev := nextEvent(t, sup, time.Second)
	assert.Equal(t, model.RunCancelled, ev.Outcome.State)
	assert.True(t, ev.Forced)
	assert.Nil(t, ev.Outcome.Result)
	assert.Equal(t, int32(0), store.saves.Load())
}

func TestStopAll_CooperativeStopIsQuick(t *testing.T) {
	store := newStore(t, "alice")
	sup := New(store, &session.MockRunner{Delay: time.Hour}, Options{GracePeriod: 5 * time.Second})
	defer closeSupervisor(t, sup)

	_, err := sup.Start("alice")
	require.NoError(t, err)

	begin := time.Now()
	sup.StopAll(context.Background())
	assert.Less(t, time.Since(begin), time.Second)

	ev := nextEvent(t, sup, time.Second)
	assert.Equal(t, model.RunCancelled, ev.Outcome.State)
	assert.False(t, ev.Forced)
	assert.Equal(t, int32(0), store.saves.Load())
}

func TestStopAll_ShutdownsArePipelined(t *testing.T) {
	store := newStore(t, "a", "b", "c", "d")
	sup := New(store, &session.MockRunner{Delay: time.Hour, IgnoreCancel: true}, Options{GracePeriod: 200 * time.Millisecond})
	defer closeSupervisor(t, sup)

	assert.Len(t, sup.StartAll(), 4)

	begin := time.Now()
	sup.StopAll(context.Background())
	assert.Less(t, time.Since(begin), 600*time.Millisecond)
	assert.Empty(t, sup.Active())

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		ev := nextEvent(t, sup, time.Second)
		assert.True(t, ev.Forced)
		seen[ev.Account] = true
	}
	assert.Len(t, seen, 4)
}

func TestStopAll_EmptyRegistryReturnsImmediately(t *testing.T) {
	sup := New(newStore(t), &session.MockRunner{}, Options{})
	defer closeSupervisor(t, sup)

	begin := time.Now()
	sup.StopAll(context.Background())
	assert.Less(t, time.Since(begin), 100*time.Millisecond)
}

func TestStopAll_ContextEndsGraceEarly(t *testing.T) {
	sup := New(newStore(t, "bob"), &session.MockRunner{Delay: time.Hour, IgnoreCancel: true}, Options{GracePeriod: time.Hour})
	defer closeSupervisor(t, sup)

	_, err := sup.Start("bob")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sup.StopAll(ctx)
	assert.Empty(t, sup.Active())
	assert.True(t, nextEvent(t, sup, time.Second).Forced)
}

func TestCompletion_AfterCancelRequestIsCancelledButRecorded(t *testing.T) {
	store := newStore(t, "alice")
	gate := make(chan struct{})
	runner := &session.MockRunner{Result: model.ResultRecord{Wins: 1, Profit: 7}, Gate: gate, IgnoreCancel: true}
	sup := New(store, runner, Options{GracePeriod: 5 * time.Second})
	defer closeSupervisor(t, sup)

	h, err := sup.Start("alice")
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		sup.StopAll(context.Background())
		close(stopped)
	}()
	require.Eventually(t, h.CancelRequested, time.Second, 5*time.Millisecond)
	close(gate)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return after the run finished")
	}

	ev := nextEvent(t, sup, time.Second)
	assert.Equal(t, model.RunCancelled, ev.Outcome.State)
	assert.False(t, ev.Forced)
	require.NotNil(t, ev.Outcome.Result)
	res, ok := sup.LastResult("alice")
	assert.True(t, ok)
	assert.Equal(t, 7, res.Profit)
	assert.Equal(t, int32(1), store.saves.Load())
}

func TestFailure_IsolatedAndKeepsPreviousResult(t *testing.T) {
	store := newStore(t, "alice", "bob")
	require.NoError(t, store.Store.SetLastResult("alice", model.ResultRecord{Wins: 3, Profit: 120}))

	boom := errors.New("page timeout")
	gate := make(chan struct{})
	runner := &session.MockRunner{
		Result:     model.ResultRecord{Losses: 1, Profit: 10},
		PerAccount: map[string]session.MockOutcome{"alice": {Err: boom}},
		Gate:       gate,
	}
	sup := New(store, runner, Options{})
	defer closeSupervisor(t, sup)

	_, err := sup.Start("bob")
	require.NoError(t, err)
	_, err = sup.Start("alice")
	require.NoError(t, err)

	close(gate)
	events := map[string]Event{}
	for i := 0; i < 2; i++ {
		ev := nextEvent(t, sup, 2*time.Second)
		events[ev.Account] = ev
	}

	alice := events["alice"]
	assert.Equal(t, model.RunFailed, alice.Outcome.State)
	var serr *SessionError
	require.ErrorAs(t, alice.Outcome.Err, &serr)
	assert.ErrorIs(t, alice.Outcome.Err, boom)

	assert.Equal(t, model.RunCompleted, events["bob"].Outcome.State)

	res, _ := sup.LastResult("alice")
	assert.Equal(t, model.ResultRecord{Wins: 3, Profit: 120}, res)
	res, _ = sup.LastResult("bob")
	assert.Equal(t, model.ResultRecord{Losses: 1, Profit: 10}, res)

	_, err = sup.Start("alice")
	assert.NoError(t, err, "a failed account can be started again")
}

type panicRunner struct{}

func (panicRunner) Name() string { return "panic" }
func (panicRunner) Execute(context.Context, *session.Token, string, model.Credential) (model.ResultRecord, error) {
	panic("selector exploded")
}

func TestFailure_RunnerPanicIsRecovered(t *testing.T) {
	sup := New(newStore(t, "alice"), panicRunner{}, Options{})
	defer closeSupervisor(t, sup)

	h, err := sup.Start("alice")
	require.NoError(t, err)
	out, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, out.State)
	assert.Contains(t, out.Err.Error(), "selector exploded")
	nextEvent(t, sup, time.Second)
}

func TestCompletion_SaveFailureIsReported(t *testing.T) {
	store := newStore(t, "alice")
	store.failErr = &account.PersistenceError{Path: "x", Err: errors.New("disk full")}
	sup := New(store, &session.MockRunner{Result: model.ResultRecord{Wins: 1}}, Options{})
	defer closeSupervisor(t, sup)

	_, err := sup.Start("alice")
	require.NoError(t, err)
	ev := nextEvent(t, sup, time.Second)
	assert.Equal(t, model.RunCompleted, ev.Outcome.State)
	var perr *account.PersistenceError
	assert.ErrorAs(t, ev.SaveErr, &perr)

	_, err = sup.Start("alice")
	assert.NoError(t, err, "save failure must not block later runs")
}

func TestEvents_DeliveredAfterRegistryRemoval(t *testing.T) {
	store := newStore(t, "a", "b", "c")
	sup := New(store, &session.MockRunner{Delay: 5 * time.Millisecond}, Options{})
	defer closeSupervisor(t, sup)

	sup.StartAll()
	for i := 0; i < 3; i++ {
		ev := nextEvent(t, sup, time.Second)
		assert.False(t, sup.Running(ev.Account), "%s still registered when notified", ev.Account)
	}
}

func TestList_ReportsRunningFlag(t *testing.T) {
	store := newStore(t, "alice", "bob")
	gate := make(chan struct{})
	sup := New(store, &session.MockRunner{Gate: gate}, Options{})
	defer closeSupervisor(t, sup)

	h, err := sup.Start("bob")
	require.NoError(t, err)

	list := sup.List()
	require.Len(t, list, 2)
	assert.False(t, list[0].Running)
	assert.True(t, list[1].Running)
	assert.Equal(t, h.ID, list[1].RunID)

	close(gate)
	nextEvent(t, sup, time.Second)
}

func TestClose_StopsLiveRuns(t *testing.T) {
	sup := New(newStore(t, "alice"), &session.MockRunner{Delay: time.Hour}, Options{GracePeriod: time.Second})
	h, err := sup.Start("alice")
	require.NoError(t, err)

	closeSupervisor(t, sup)
	assert.Equal(t, model.RunCancelled, h.State())
	assert.Empty(t, sup.Active())

	ev, open := <-sup.Events()
	require.True(t, open)
	assert.Equal(t, "alice", ev.Account)
}

// slowWriter stands in for a slow terminal or pipe behind the logger.
type slowWriter struct{ delay time.Duration }

func (w slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	return len(p), nil
}

func TestClose_DeliversEventOfCooperativeStopWithSlowLogging(t *testing.T) {
	log.SetOutput(slowWriter{delay: 2 * time.Millisecond})
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	for i := 0; i < 20; i++ {
		runner := &session.MockRunner{Delay: time.Hour}
		sup := New(newStore(t, "alice"), runner, Options{GracePeriod: time.Second})

		started := runner.Started()
		h, err := sup.Start("alice")
		require.NoError(t, err)
		waitStarted(t, started, "alice")

		closeSupervisor(t, sup)

		select {
		case <-h.Done():
		default:
			t.Fatalf("iteration %d: handle not done after Close", i)
		}

		var events []Event
		for ev := range sup.Events() {
			events = append(events, ev)
		}
		require.Len(t, events, 1, "iteration %d", i)
		assert.Equal(t, h.ID, events[0].RunID)
		assert.Equal(t, model.RunCancelled, events[0].Outcome.State)
		assert.False(t, events[0].Forced)
	}
}

func TestDone_ImpliesEventQueued(t *testing.T) {
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	sup := New(newStore(t, "alice"), &session.MockRunner{Result: model.ResultRecord{Wins: 1}}, Options{})
	defer closeSupervisor(t, sup)

	h, err := sup.Start("alice")
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}

	select {
	case ev := <-sup.Events():
		assert.Equal(t, h.ID, ev.RunID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered after Done")
	}
}
