package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/registry"
	"github.com/mtzanidakis/crew/internal/schedule"
	"github.com/mtzanidakis/crew/internal/scheduler"
	"github.com/mtzanidakis/crew/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Crews
	mux.HandleFunc("GET /api/crews", s.listCrews)
	mux.HandleFunc("GET /api/crews/{name}", s.getCrew)
	mux.HandleFunc("POST /api/crews/reload", s.reloadCrews)

	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.getRunEvents)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.getSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("GET /api/secrets/{name}", s.getSecret)
	mux.HandleFunc("PUT /api/secrets/{name}", s.updateSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func crewToAPI(d *registry.Definition) map[string]any {
	return map[string]any{
		"name":        d.Name,
		"description": d.Description,
		"mode":        d.Mode,
		"source":      d.Source,
		"params":      d.Params(),
		"agents":      len(d.Agents),
		"tasks":       len(d.Tasks),
	}
}

func (s *Server) listCrews(w http.ResponseWriter, r *http.Request) {
	defs := s.coord.Registry().List()
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, crewToAPI(d))
	}
	jsonResponse(w, out)
}

func (s *Server) getCrew(w http.ResponseWriter, r *http.Request) {
	def, ok := s.coord.Registry().Get(r.PathValue("name"))
	if !ok {
		jsonError(w, "crew not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, def)
}

func (s *Server) reloadCrews(w http.ResponseWriter, r *http.Request) {
	changes, err := s.coord.Registry().Reload()
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	jsonResponse(w, changes)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.Runs())
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.coord.Get(r.PathValue("id"))
	if !ok {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

// getRunEvents replays a run's stored lifecycle events, including runs the
// tracker already forgot.
func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.nats == nil {
		jsonError(w, "event history not available", http.StatusServiceUnavailable)
		return
	}
	events, err := s.nats.RunHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		jsonError(w, "no events for run", http.StatusNotFound)
		return
	}
	jsonResponse(w, events)
}

// runErrorStatus maps a rejected run request to an HTTP status.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnknownCrew):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrMissingParams), errors.Is(err, registry.ErrInvalidDefinition):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		coordinator.RunRequest
		Wait bool `json:"wait"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Crew == "" {
		jsonError(w, "crew is required", http.StatusBadRequest)
		return
	}
	req := body.RunRequest
	if req.Source == "" {
		req.Source = "web"
	}

	if !body.Wait {
		run, err := s.coord.Start(r.Context(), req)
		if err != nil {
			jsonError(w, err.Error(), runErrorStatus(err))
			return
		}
		w.Header().Set("Location", "/api/runs/"+run.ID)
		jsonStatus(w, run, http.StatusAccepted)
		return
	}

	run, err := s.coord.Run(r.Context(), req)
	if err != nil && run.ID == "" {
		jsonError(w, err.Error(), runErrorStatus(err))
		return
	}
	// A failed run is still a finished run; its error is in the body.
	jsonResponse(w, run)
}

func scheduleToAPI(sc store.Schedule) map[string]any {
	return map[string]any{
		"id":          sc.ID,
		"name":        sc.Name,
		"crew":        sc.Crew,
		"schedule":    sc.Schedule,
		"description": schedule.Describe(sc.Schedule),
		"params":      sc.Params,
		"mode":        sc.Mode,
		"status":      sc.Status,
		"next_run_at": sc.NextRunAt,
		"last_run_at": sc.LastRunAt,
		"last_status": sc.LastStatus,
		"last_error":  sc.LastError,
		"created_at":  sc.CreatedAt,
	}
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, scheduleToAPI(sc))
	}
	jsonResponse(w, out)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetSchedule(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sc == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, scheduleToAPI(*sc))
}

// checkScheduleCrew verifies that a schedule will be able to start its crew.
func (s *Server) checkScheduleCrew(sc *store.Schedule) error {
	def, ok := s.coord.Registry().Get(sc.Crew)
	if !ok {
		return fmt.Errorf("%w: %q", coordinator.ErrUnknownCrew, sc.Crew)
	}
	return def.CheckParams(sc.Params)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string            `json:"name"`
		Crew     string            `json:"crew"`
		Schedule string            `json:"schedule"`
		Params   map[string]string `json:"params"`
		Mode     string            `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sc := &store.Schedule{
		Name:     body.Name,
		Crew:     body.Crew,
		Schedule: body.Schedule,
		Params:   body.Params,
		Mode:     body.Mode,
	}
	if err := scheduler.Prepare(sc, time.Now()); err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.checkScheduleCrew(sc); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.SaveSchedule(sc); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	saved, err := s.store.GetSchedule(sc.ID)
	if err != nil || saved == nil {
		saved = sc
	}
	jsonStatus(w, scheduleToAPI(*saved), http.StatusCreated)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetSchedule(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name     *string           `json:"name"`
		Schedule *string           `json:"schedule"`
		Params   map[string]string `json:"params"`
		Mode     *string           `json:"mode"`
		Enabled  *bool             `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Params != nil {
		existing.Params = body.Params
	}
	if body.Mode != nil {
		existing.Mode = *body.Mode
	}

	// Handle enabled bool → status mapping
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	}

	// Handle schedule change
	if body.Schedule != nil {
		normalized, err := schedule.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
		if existing.Status == "completed" {
			existing.Status = "active"
		}
	}
	if err := s.checkScheduleCrew(existing); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Recalculate next_run_at
	if existing.Status == "active" {
		existing.NextRunAt = schedule.Next(existing.Schedule, time.Now())
		if existing.NextRunAt == nil {
			existing.Status = "completed"
		}
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveSchedule(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*existing))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs := s.coord.Runs()
	counts := map[coordinator.Status]int{}
	for _, run := range runs {
		counts[run.Status]++
	}

	activeSchedules := 0
	if schedules, err := s.store.ListSchedules(); err == nil {
		for _, sc := range schedules {
			if sc.Status == "active" {
				activeSchedules++
			}
		}
	}

	natsStatus := "disabled"
	if s.nats != nil {
		natsStatus = "ok"
	}

	jsonResponse(w, map[string]any{
		"status":           "ok",
		"crews":            len(s.coord.Registry().List()),
		"runs_running":     counts[coordinator.StatusRunning],
		"runs_completed":   counts[coordinator.StatusCompleted],
		"runs_failed":      counts[coordinator.StatusFailed],
		"active_schedules": activeSchedules,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"nats":             natsStatus,
		"timestamp":        time.Now().UTC(),
		"version":          s.version,
	})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	jsonStatus(w, data, http.StatusOK)
}

func jsonStatus(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, map[string]string{"error": msg}, code)
}
