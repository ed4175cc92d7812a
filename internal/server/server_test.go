package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autoforge/autoforge/internal/agentrunner"
	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/llm"
	"github.com/autoforge/autoforge/internal/model"
	"github.com/autoforge/autoforge/internal/orchestrator"
	"github.com/autoforge/autoforge/internal/session"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/autoforge/autoforge/internal/telemetry"
	"github.com/autoforge/autoforge/internal/vcs/mock"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore, *telemetry.Metrics) {
	t.Helper()
	cfg := &config.Config{
		Name:    "autoforge-test",
		Version: "0.0.0",
		Webhook: config.WebhookConfig{TriggerLabel: "autoforge"},
	}
	st := store.NewMemoryStore()
	router := model.New(&config.ModelConfig{Models: map[string]string{}}, st)
	completer := llm.NewMockCompleter()
	ledger := session.New(st)
	logger := telemetry.NewLogger(false)
	bus := event.NewBus(logger)
	runner := agentrunner.New(router, completer, ledger, bus)
	v := mock.New()
	orch := orchestrator.New(st, ledger, runner, router, v, bus, 3, 3, 1000)
	metrics := telemetry.NewMetrics()
	orch.Metrics = metrics

	srv := New(cfg, st, orch, v, bus, logger)
	return srv, st, metrics
}

func doRequest(t *testing.T, mux http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func issuePayload(repo string, number int, labels ...string) []byte {
	type label struct {
		Name string `json:"name"`
	}
	payload := struct {
		Action string `json:"action"`
		Issue  struct {
			Number int     `json:"number"`
			Title  string  `json:"title"`
			Body   string  `json:"body"`
			Labels []label `json:"labels"`
		} `json:"issue"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}{Action: "labeled"}
	payload.Issue.Number = number
	payload.Issue.Title = "fix the thing"
	payload.Issue.Body = "it is broken"
	payload.Repository.FullName = repo
	for _, l := range labels {
		payload.Issue.Labels = append(payload.Issue.Labels, label{Name: l})
	}
	out, _ := json.Marshal(payload)
	return out
}

func TestHandleWebhook_TriggerLabelCreatesTask(t *testing.T) {
	srv, st, metrics := newTestServer(t)
	mux := srv.setupRoutes()

	rec := doRequest(t, mux, http.MethodPost, "/webhooks/github", issuePayload("acme/widget", 1, "autoforge"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Triggered || resp.TaskID == "" {
		t.Fatalf("expected triggered task, got %+v", resp)
	}

	if _, err := st.GetTask(context.Background(), resp.TaskID); err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
	if metrics.TasksStarted != 1 {
		t.Fatalf("expected TasksStarted=1, got %d", metrics.TasksStarted)
	}
}

func TestHandleWebhook_MissingTriggerLabelDoesNotCreateTask(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.setupRoutes()

	rec := doRequest(t, mux, http.MethodPost, "/webhooks/github", issuePayload("acme/widget", 2, "bug"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Triggered {
		t.Fatalf("expected untriggered response, got %+v", resp)
	}
}

func TestHandleWebhook_DuplicateDeliveryIsIgnored(t *testing.T) {
	srv, _, metrics := newTestServer(t)
	mux := srv.setupRoutes()

	body := issuePayload("acme/widget", 3, "autoforge")

	first := doRequest(t, mux, http.MethodPost, "/webhooks/github", body)
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected first delivery to trigger, got %d", first.Code)
	}

	second := doRequest(t, mux, http.MethodPost, "/webhooks/github", body)
	if second.Code != http.StatusOK {
		t.Fatalf("expected duplicate delivery to return 200, got %d", second.Code)
	}
	var resp webhookResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Triggered {
		t.Fatalf("expected duplicate delivery to not re-trigger, got %+v", resp)
	}
	if metrics.TasksStarted != 1 {
		t.Fatalf("expected a single task started, got %d", metrics.TasksStarted)
	}
}

func TestHandleWebhook_UnsupportedSource(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.setupRoutes()

	rec := doRequest(t, mux, http.MethodPost, "/webhooks/gitlab", issuePayload("acme/widget", 4, "autoforge"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Triggered {
		t.Fatalf("expected unsupported source to not trigger, got %+v", resp)
	}
}

func TestHandleListAndGetTask(t *testing.T) {
	srv, st, _ := newTestServer(t)
	mux := srv.setupRoutes()

	task := &store.Task{ID: "t1", Owner: "acme", Repo: "acme/widget", IssueNumber: 5, Status: store.StatusWaitingHuman}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	rec := doRequest(t, mux, http.MethodGet, "/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var tasks []*store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks list: %+v", tasks)
	}

	rec = doRequest(t, mux, http.MethodGet, "/tasks/t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/tasks/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing task, got %d", rec.Code)
	}
}

func TestHandleProcessTask_TerminalTaskDoesNotReprocess(t *testing.T) {
	srv, st, _ := newTestServer(t)
	mux := srv.setupRoutes()

	task := &store.Task{ID: "t2", Owner: "acme", Repo: "acme/widget", Status: store.StatusCompleted}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	rec := doRequest(t, mux, http.MethodPost, "/tasks/t2/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for terminal task, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if processing, _ := resp["processing"].(bool); processing {
		t.Fatalf("expected processing=false for a terminal task, got %+v", resp)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, _, metrics := newTestServer(t)
	mux := srv.setupRoutes()

	metrics.IncTasksStarted()

	rec := doRequest(t, mux, http.MethodGet, "/api/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if got, _ := summary["tasks_started"].(float64); got != 1 {
		t.Fatalf("expected tasks_started=1, got %v", summary["tasks_started"])
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.setupRoutes()

	rec := doRequest(t, mux, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
