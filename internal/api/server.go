// Package api exposes the scheduler over HTTP: catalog reads, the manual
// generation trigger, instance status updates and the notification digest.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"choreflow/internal/catalog"
	"choreflow/internal/domain"
	"choreflow/internal/engine"
	"choreflow/internal/notify"
	"choreflow/internal/store"
)

type Server struct {
	r        *chi.Mux
	store    store.Store
	engine   *engine.Engine
	provider catalog.Provider
}

// NewServer wires routes onto a chi router.
func NewServer(st store.Store, eng *engine.Engine, provider catalog.Provider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, store: st, engine: eng, provider: provider}

	r.Get("/health", s.health)
	r.Get("/tasks", s.listTasks)
	r.Get("/tasks/{id}", s.getTask)
	r.Post("/generate-tasks", s.generate)
	r.Get("/scheduled-tasks/today", s.todayInstances)
	r.Get("/scheduled-tasks/{id}", s.getInstance)
	r.Put("/scheduled-tasks/{id}", s.updateInstanceStatus)
	r.Get("/users/{id}/pending-tasks", s.userPendingInstances)
	r.Put("/users/{id}/pending-tasks", s.updateUserPendingStatus)
	r.Get("/notifications/scheduled-tasks", s.notification)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.provider.Tasks()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", 400)
		return
	}
	tasks, err := s.provider.Tasks()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	for _, t := range tasks {
		if t.ID == id {
			writeJSON(w, 200, t)
			return
		}
	}
	http.Error(w, "task not found", 404)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.provider.Tasks()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	users, err := s.provider.Users()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	rep, err := s.engine.Generate(r.Context(), tasks, users, time.Now())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, rep)
}

func (s *Server) todayInstances(w http.ResponseWriter, r *http.Request) {
	today := domain.DateOnly(time.Now())
	f := store.Filter{Date: &today}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		f.Status = &status
	}
	instances, err := s.store.Query(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]any{"tasks": instanceModels(instances)})
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid scheduled task id", 400)
		return
	}
	inst, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "scheduled task not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, instanceModel(inst))
}

func (s *Server) updateInstanceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid scheduled task id", 400)
		return
	}
	status, ok := statusFromBody(w, r)
	if !ok {
		return
	}
	err = s.store.SetStatus(r.Context(), id, status)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "scheduled task not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]string{"result": "ok"})
}

func (s *Server) userPendingInstances(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", 400)
		return
	}
	status := domain.StatusPending
	instances, err := s.store.Query(r.Context(), store.Filter{UserID: &userID, Status: &status})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]any{"pending_tasks": instanceModels(instances)})
}

func (s *Server) updateUserPendingStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", 400)
		return
	}
	status, ok := statusFromBody(w, r)
	if !ok {
		return
	}
	if _, err := s.store.SetStatusForUser(r.Context(), userID, domain.StatusPending, status); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]string{"result": "ok"})
}

func (s *Server) notification(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.provider.Tasks()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	users, err := s.provider.Users()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	msg, err := notify.BuildMessage(r.Context(), s.store, domain.DateOnly(time.Now()), users, catalog.TasksByID(tasks), r.URL.Query().Get("language"))
	if errors.Is(err, notify.ErrUnsupportedLanguage) {
		http.Error(w, err.Error(), 400)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, msg)
}

type statusReq struct {
	Status string `json:"status"`
}

func statusFromBody(w http.ResponseWriter, r *http.Request) (domain.Status, bool) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return "", false
	}
	if req.Status == "" {
		http.Error(w, "status is required on payload", 400)
		return "", false
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return "", false
	}
	return status, true
}

type instanceResp struct {
	ID            int64  `json:"scheduled_task_id"`
	TaskID        int    `json:"task_id"`
	UserID        int    `json:"user_id"`
	ScheduledDate string `json:"scheduled_date"`
	Status        string `json:"status"`
}

func instanceModel(inst domain.ScheduledInstance) instanceResp {
	return instanceResp{
		ID:            inst.ID,
		TaskID:        inst.TaskID,
		UserID:        inst.UserID,
		ScheduledDate: inst.ScheduledDate.Format(domain.DateFormat),
		Status:        string(inst.Status),
	}
}

func instanceModels(instances []domain.ScheduledInstance) []instanceResp {
	out := make([]instanceResp, 0, len(instances))
	for _, inst := range instances {
		out = append(out, instanceModel(inst))
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
