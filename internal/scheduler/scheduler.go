package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"DiceSentinel/internal/account"
	"DiceSentinel/internal/model"
	"DiceSentinel/internal/notifier"
	"DiceSentinel/internal/recorder"
	"DiceSentinel/internal/stats"
	"DiceSentinel/internal/supervisor"

	"github.com/robfig/cron/v3"
)

// Sender delivers chat notifications.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler owns the cron tasks, consumes run events and answers chat commands.
type Scheduler struct {
	Cron       *cron.Cron
	Supervisor *supervisor.Supervisor
	Store      *account.Store
	Notifier   Sender
	Recorder   recorder.Recorder
	Sinks      []stats.Sink
	Ctx        context.Context
}

// NewScheduler creates a new Scheduler. tn may be nil when Telegram is not configured.
func NewScheduler(ctx context.Context, sup *supervisor.Supervisor, store *account.Store, tn Sender, rec recorder.Recorder, sinks ...stats.Sink) *Scheduler {
	return &Scheduler{
		Cron:       cron.New(cron.WithSeconds()),
		Supervisor: sup,
		Store:      store,
		Notifier:   tn,
		Recorder:   rec,
		Sinks:      sinks,
		Ctx:        ctx,
	}
}

// RegisterAll registers the daily run and, if reportCron is set, the periodic report.
func (s *Scheduler) RegisterAll(dailyCron, reportCron string) error {
	if _, err := s.Cron.AddFunc(dailyCron, s.RunAllNow); err != nil {
		return fmt.Errorf("register daily run: %w", err)
	}
	if reportCron != "" {
		if _, err := s.Cron.AddFunc(reportCron, s.reportTask); err != nil {
			return fmt.Errorf("register report task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// RunAllNow starts every idle account (for cron / RUN_ON_START).
func (s *Scheduler) RunAllNow() {
	started := s.Supervisor.StartAll()
	log.Printf("[INFO] daily run: started %d account(s)", len(started))
}

// Consume records and announces every run event until events is closed.
// When the last live run finishes the report sinks are rendered.
func (s *Scheduler) Consume(events <-chan supervisor.Event) {
	for ev := range events {
		s.recordRun(ev)
		s.trySend(notifier.FormatOutcome(ev))
		if len(s.Supervisor.Active()) == 0 {
			s.render()
		}
	}
	log.Println("[INFO] event consumer stopped")
}

func (s *Scheduler) recordRun(ev supervisor.Event) {
	evt := &recorder.RunEvent{
		RunID:      ev.RunID,
		Account:    ev.Account,
		State:      string(ev.Outcome.State),
		Forced:     ev.Forced,
		StartedAt:  ev.StartedAt,
		FinishedAt: ev.FinishedAt,
	}
	if r := ev.Outcome.Result; r != nil {
		evt.HasResult = true
		evt.Wins, evt.Losses, evt.Profit = r.Wins, r.Losses, r.Profit
	}
	if ev.Outcome.Err != nil {
		evt.Error = ev.Outcome.Err.Error()
	}
	if err := s.Recorder.RecordRun(evt); err != nil {
		log.Printf("[ERROR] record run %s: %v", ev.RunID, err)
	}
}

func (s *Scheduler) reportTask() {
	log.Println("[INFO] running report task")
	s.render()
	s.trySend(notifier.FormatStats(stats.Collect(s.Store.List())))
}

func (s *Scheduler) render() {
	if len(s.Sinks) == 0 {
		return
	}
	if err := stats.RenderAccounts(s.Store.List(), s.Sinks...); err != nil {
		log.Printf("[ERROR] render report: %v", err)
	}
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}

	switch fields[0] {
	case "/run":
		if len(fields) < 2 {
			return "usage: /run &lt;account&gt;"
		}
		return s.startOne(fields[1])
	case "/runall":
		started := s.Supervisor.StartAll()
		return fmt.Sprintf("▶️ started %d account(s)", len(started))
	case "/stop":
		active := len(s.Supervisor.Active())
		if active == 0 {
			return "nothing is running"
		}
		go s.Supervisor.StopAll(s.Ctx)
		return fmt.Sprintf("⏹ stopping %d run(s), grace period %v", active, s.Supervisor.GracePeriod())
	case "/stats":
		return notifier.FormatStats(stats.Collect(s.Store.List()))
	case "/accounts":
		return notifier.FormatAccounts(s.Supervisor.List())
	case "/history":
		runs, err := s.Recorder.RecentRuns(10)
		if err != nil {
			log.Printf("[ERROR] load history: %v", err)
			return "❌ history unavailable"
		}
		return notifier.FormatHistory(runs)
	case "/add":
		if len(fields) < 2 {
			return "usage: /add &lt;account&gt; [cookie json]"
		}
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(command), fields[0]))
		return s.addAccount(fields[1], strings.TrimSpace(strings.TrimPrefix(rest, fields[1])))
	default:
		return helpText
	}
}

const helpText = "Available commands:\n" +
	"• /run &lt;account&gt;\n" +
	"• /runall\n" +
	"• /stop\n" +
	"• /stats\n" +
	"• /accounts\n" +
	"• /history\n" +
	"• /add &lt;account&gt; [cookie json]"

func (s *Scheduler) startOne(name string) string {
	h, err := s.Supervisor.Start(name)
	name = html.EscapeString(name)
	switch {
	case err == nil:
		return fmt.Sprintf("▶️ %s started (run %s)", name, h.ID)
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return fmt.Sprintf("%s is already running", name)
	case errors.Is(err, supervisor.ErrUnknownAccount):
		return fmt.Sprintf("unknown account %s", name)
	default:
		return "❌ " + html.EscapeString(err.Error())
	}
}

func (s *Scheduler) addAccount(name, cookieJSON string) string {
	var cred model.Credential
	if cookieJSON != "" {
		if err := json.Unmarshal([]byte(cookieJSON), &cred); err != nil {
			return "❌ invalid cookie json: " + html.EscapeString(err.Error())
		}
	}
	err := s.Store.Add(name, cred)
	name = html.EscapeString(strings.TrimSpace(name))
	if err != nil {
		var perr *account.PersistenceError
		if errors.As(err, &perr) {
			return fmt.Sprintf("⚠️ %s added but not saved: %s", name, html.EscapeString(perr.Err.Error()))
		}
		return "❌ " + html.EscapeString(err.Error())
	}
	return fmt.Sprintf("✅ %s added with %d cookie(s)", name, len(cred))
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.Ctx, 30*time.Second)
	defer cancel()
	if err := s.Notifier.SendWithRetry(ctx, text, 3); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
