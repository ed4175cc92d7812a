package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"name":    s.cfg.Name,
		"version": s.cfg.Version,
	})
}

// handleMetrics reports the orchestrator's running counters (§6). An
// empty summary is returned when no Metrics collector is wired.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		jsonResponse(w, http.StatusOK, map[string]interface{}{})
		return
	}
	jsonResponse(w, http.StatusOK, s.metrics.GetSummary())
}

// handleListTasks returns top-level tasks, newest first, optionally
// bounded by a `limit` query parameter (§6 "GET /tasks").
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = n
	}

	tasks, err := s.store.ListTasks(r.Context(), limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("task not found: %s", id))
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

// handleProcessTask manually resumes a task's state machine (§6 "POST
// /tasks/:id/process"). Processing runs in the background since a stage
// may invoke an LLM; the response reports the status observed at
// dispatch time, not the eventual outcome.
func (s *Server) handleProcessTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("task not found: %s", id))
		return
	}
	if task.Terminal() {
		jsonResponse(w, http.StatusOK, map[string]interface{}{"taskId": id, "status": task.Status, "processing": false})
		return
	}

	go s.processInBackground(id)
	jsonResponse(w, http.StatusAccepted, map[string]interface{}{"taskId": id, "status": task.Status, "processing": true})
}
