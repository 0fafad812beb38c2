package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"DiceSentinel/internal/account"
	"DiceSentinel/internal/model"
	"DiceSentinel/internal/recorder"
	"DiceSentinel/internal/stats"
	"DiceSentinel/internal/supervisor"
)

// Server exposes the supervisor over HTTP.
type Server struct {
	sup   *supervisor.Supervisor
	store *account.Store
	rec   recorder.Recorder
}

func NewServer(sup *supervisor.Supervisor, store *account.Store, rec recorder.Recorder) *Server {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Server{sup: sup, store: store, rec: rec}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.listAccounts)
			r.Post("/", s.createAccount)
			r.Put("/{name}/cookie", s.updateCookie)
			r.Post("/{name}/run", s.runAccount)
			r.Get("/{name}/result", s.getResult)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Post("/start-all", s.startAll)
			r.Post("/stop", s.stopAll)
			r.Get("/history", s.listHistory)
		})
		r.Get("/stats", s.getStats)
	})
	return r
}

type accountResponse struct {
	Name    string              `json:"name"`
	Cookies int                 `json:"cookies"`
	Running bool                `json:"running"`
	RunID   string              `json:"run_id,omitempty"`
	Stats   *model.ResultRecord `json:"stats,omitempty"`
}

func (s *Server) listAccounts(w http.ResponseWriter, _ *http.Request) {
	list := s.sup.List()
	out := make([]accountResponse, len(list))
	for i, st := range list {
		out[i] = accountResponse{
			Name:    st.Account.Name,
			Cookies: len(st.Account.Cookie),
			Running: st.Running,
			RunID:   st.RunID,
			Stats:   st.Account.Stats,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type createAccountRequest struct {
	Name   string           `json:"name"`
	Cookie model.Credential `json:"cookie"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	err := s.store.Add(name, req.Cookie)
	var perr *account.PersistenceError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"name": name})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusCreated, map[string]string{"name": name, "warning": perr.Error()})
	case errors.Is(err, account.ErrEmptyName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) updateCookie(w http.ResponseWriter, r *http.Request) {
	var cred model.Credential
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cookie: "+err.Error())
		return
	}
	err := s.store.SetCookie(chi.URLParam(r, "name"), cred)
	var perr *account.PersistenceError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &perr):
		writeJSON(w, http.StatusOK, map[string]string{"warning": perr.Error()})
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) runAccount(w http.ResponseWriter, r *http.Request) {
	h, err := s.sup.Start(chi.URLParam(r, "name"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": h.ID, "account": h.Account})
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, supervisor.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, supervisor.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.sup.LastResult(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "no result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type runResponse struct {
	ID              string    `json:"id"`
	Account         string    `json:"account"`
	StartedAt       time.Time `json:"started_at"`
	CancelRequested bool      `json:"cancel_requested"`
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	active := s.sup.Active()
	out := make([]runResponse, len(active))
	for i, ri := range active {
		out[i] = runResponse{ID: ri.ID, Account: ri.Account, StartedAt: ri.StartedAt, CancelRequested: ri.CancelRequested}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) startAll(w http.ResponseWriter, _ *http.Request) {
	handles := s.sup.StartAll()
	ids := make(map[string]string, len(handles))
	for _, h := range handles {
		ids[h.Account] = h.ID
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"started": ids})
}

// stopAll blocks until every run has stopped. The request context is not
// used so a disconnecting client does not turn graceful stops into forced ones.
func (s *Server) stopAll(w http.ResponseWriter, r *http.Request) {
	n := len(s.sup.Active())
	s.sup.StopAll(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]int{"stopped": n})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.rec.RecentRuns(limit)
	if err != nil {
		log.Printf("[ERROR] load history: %v", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if runs == nil {
		runs = []recorder.RunEvent{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type statsResponse struct {
	Entries []stats.Entry `json:"entries"`
	Totals  stats.Totals  `json:"totals"`
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	entries := stats.Collect(s.store.List())
	writeJSON(w, http.StatusOK, statsResponse{Entries: entries, Totals: stats.Summarize(entries)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
