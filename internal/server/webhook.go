package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/autoforge/autoforge/internal/vcs"
)

// webhookPayload is the subset of a GitHub issue webhook this endpoint
// reads (§6 "ingest issue events").
type webhookPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type webhookResponse struct {
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason"`
	TaskID    string `json:"taskId,omitempty"`
}

// handleWebhook ingests an issue event, creating a Task when the
// configured trigger label is present. It is idempotent by
// (repo, issueNumber, delivery id) and always returns 2xx unless an
// internal failure prevents even recognizing the request (§6).
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source != "github" {
		jsonResponse(w, http.StatusOK, webhookResponse{Triggered: false, Reason: "unsupported source: " + source})
		return
	}

	var payload webhookPayload
	if err := decodeJSON(r, &payload); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if payload.Repository.FullName == "" || payload.Issue.Number == 0 {
		jsonResponse(w, http.StatusOK, webhookResponse{Triggered: false, Reason: "missing repository or issue number"})
		return
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = fmt.Sprintf("%s#%d:%s", payload.Repository.FullName, payload.Issue.Number, payload.Action)
	}

	firstSeen, err := s.store.MarkWebhookDelivery(r.Context(), payload.Repository.FullName, payload.Issue.Number, deliveryID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !firstSeen {
		jsonResponse(w, http.StatusOK, webhookResponse{Triggered: false, Reason: "duplicate delivery"})
		return
	}

	if !hasTriggerLabel(payload, s.cfg.Webhook.TriggerLabel) {
		jsonResponse(w, http.StatusOK, webhookResponse{Triggered: false, Reason: "trigger label not present"})
		return
	}

	ref, err := vcs.ParseRepo(payload.Repository.FullName)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	issue := &vcs.Issue{Title: payload.Issue.Title, Body: payload.Issue.Body}
	task, err := s.orch.CreateTask(r.Context(), ref.Owner, ref.Repo, payload.Issue.Number, issue)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go s.processInBackground(task.ID)

	jsonResponse(w, http.StatusAccepted, webhookResponse{Triggered: true, Reason: "task created", TaskID: task.ID})
}

func hasTriggerLabel(payload webhookPayload, triggerLabel string) bool {
	if triggerLabel == "" {
		return true
	}
	for _, l := range payload.Issue.Labels {
		if l.Name == triggerLabel {
			return true
		}
	}
	return false
}

func (s *Server) processInBackground(taskID string) {
	if err := s.orch.Process(context.Background(), taskID); err != nil {
		s.logger.Error("task processing failed", "taskId", taskID, "error", err.Error())
	}
}
