package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DiceSentinel/internal/model"
	"DiceSentinel/internal/recorder"
	"DiceSentinel/internal/stats"
	"DiceSentinel/internal/supervisor"
)

func TestFormatOutcome(t *testing.T) {
	start := time.Now()
	ev := supervisor.Event{
		Account:    "alice<1>",
		Outcome:    model.Outcome{State: model.RunCompleted, Result: &model.ResultRecord{Wins: 1, Profit: 50}},
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	}
	msg := FormatOutcome(ev)
	assert.Contains(t, msg, "alice&lt;1&gt;")
	assert.Contains(t, msg, "finished")
	assert.Contains(t, msg, "Wins: 1 | Losses: 0 | Credits: 50")
	assert.Contains(t, msg, "Duration: 3s")

	ev.Outcome = model.Outcome{State: model.RunCancelled}
	ev.Forced = true
	msg = FormatOutcome(ev)
	assert.Contains(t, msg, "cancelled")
	assert.Contains(t, msg, "terminated")

	ev.Forced = false
	ev.Outcome = model.Outcome{State: model.RunFailed, Err: errors.New("not logged in")}
	msg = FormatOutcome(ev)
	assert.Contains(t, msg, "failed")
	assert.Contains(t, msg, "Error: not logged in")
}

func TestFormatStats(t *testing.T) {
	msg := FormatStats([]stats.Entry{
		{Account: "alice", ResultRecord: model.ResultRecord{Wins: 1, Profit: 50}},
		{Account: "bob", ResultRecord: model.ResultRecord{Losses: 1, Profit: 10}},
	})
	assert.Contains(t, msg, "alice: W1 L0 | 50")
	assert.Contains(t, msg, "Total: W1 L1 | profit 60 | win rate 50%")
	assert.Contains(t, msg, "🏆 Top: alice (50)")

	single := FormatStats([]stats.Entry{{Account: "alice", ResultRecord: model.ResultRecord{Profit: 5}}})
	assert.NotContains(t, single, "Top:")

	assert.Contains(t, FormatStats(nil), "No accounts")
}

func TestFormatAccounts(t *testing.T) {
	msg := FormatAccounts([]supervisor.AccountStatus{
		{Account: model.Account{Name: "alice", Stats: &model.ResultRecord{Wins: 2, Profit: 9}}},
		{Account: model.Account{Name: "bob"}, Running: true, RunID: "r1"},
	})
	assert.Contains(t, msg, "alice [idle] W2 L0 | 9")
	assert.Contains(t, msg, "bob [running] no result yet")
}

func TestFormatHistory(t *testing.T) {
	msg := FormatHistory([]recorder.RunEvent{
		{Account: "alice", State: "completed", HasResult: true, Wins: 1, Profit: 50, FinishedAt: time.Now()},
		{Account: "bob", State: "cancelled", Forced: true, FinishedAt: time.Now()},
	})
	assert.Contains(t, msg, "alice completed W1 L0 50")
	assert.Contains(t, msg, "bob cancelled (forced)")
	assert.Contains(t, FormatHistory(nil), "No runs")
}

func TestSend_PostsHTMLMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", "")
	n.APIBase = srv.URL
	require.NoError(t, n.Send("<b>hi</b>"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>hi</b>", got["text"])
}

func TestSend_ReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", "")
	n.APIBase = srv.URL
	err := n.Send("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestStartPolling_DispatchesOnlyOwnChat(t *testing.T) {
	var (
		mu      sync.Mutex
		polls   int
		replies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			mu.Lock()
			polls++
			first := polls == 1
			mu.Unlock()
			if first {
				w.Write([]byte(`{"ok":true,"result":[
					{"update_id":1,"message":{"text":"/stats","chat":{"id":42}}},
					{"update_id":2,"message":{"text":"/runall","chat":{"id":7}}}]}`))
				return
			}
			assert.Equal(t, "3", r.URL.Query().Get("offset"))
			<-r.Context().Done()
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			replies = append(replies, body["text"])
			mu.Unlock()
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", "")
	n.APIBase = srv.URL

	var handled []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.StartPolling(ctx, func(cmd string) string {
			handled = append(handled, cmd)
			return "ok " + cmd
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(replies) == 1 && polls >= 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"/stats"}, handled)
	assert.Equal(t, []string{"ok /stats"}, replies)
}
