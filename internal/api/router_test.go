package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loopcrm/engine/internal/api"
	"github.com/loopcrm/engine/internal/api/handlers"
	"github.com/loopcrm/engine/internal/config"
	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/pkg/models"
)

func newTestServer(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{Version: "test"}
	h := handlers.New(s, 100, 2)
	return api.NewRouter(cfg, h), s
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHealthAndVersion(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/version", nil)
	var version map[string]string
	decode(t, rec, &version)
	if version["version"] != "test" {
		t.Errorf("version = %q, want test", version["version"])
	}
}

func TestContactLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/contacts", map[string]any{
		"name": "Grace Hopper", "email": "grace@example.com", "industry": "fintech",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /contacts = %d, body %s", rec.Code, rec.Body.String())
	}
	var created models.Contact
	decode(t, rec, &created)
	if created.ID == "" {
		t.Fatal("Created contact has no ID")
	}
	if created.LifecycleStage != models.StageLead {
		t.Errorf("Default lifecycle stage = %q, want lead", created.LifecycleStage)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/contacts/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /contacts/{id} = %d, want 200", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/contacts/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown contact = %d, want 404", rec.Code)
	}
}

func TestComputeScoresEndpoint(t *testing.T) {
	router, s := newTestServer(t)
	seedHTTPContact(t, s, "c1")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/scores/compute", map[string]any{"contact_id": "c1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /scores/compute = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Processed     int            `json:"processed"`
		TriggersFired int            `json:"triggers_fired"`
		Scores        map[string]any `json:"scores"`
	}
	decode(t, rec, &resp)
	if resp.Processed != 1 {
		t.Errorf("processed = %d, want 1", resp.Processed)
	}
	if resp.TriggersFired != 0 {
		t.Errorf("triggers_fired = %d, want 0 (compute never fires triggers)", resp.TriggersFired)
	}
	if resp.Scores == nil {
		t.Error("single-contact compute should return scores")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/scores/compute", map[string]any{"compute_all": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("compute_all = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"errors":[]`) {
		t.Errorf("compute_all body = %s, want an empty errors array", rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/scores/compute", map[string]any{"contact_id": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("compute for unknown contact = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/scores/compute", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("compute with no target = %d, want 400", rec.Code)
	}
}

func TestEvaluateAndExecuteEndpoints(t *testing.T) {
	router, s := newTestServer(t)
	seedHTTPContact(t, s, "c1")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/triggers", map[string]any{
		"name":          "hot-lead",
		"trigger_event": "new_interaction",
		"priority":      5,
		"active":        true,
		"conditions":    map[string]any{"field": "contact.intent_score", "operator": "gte", "value": 0},
		"actions":       []map[string]any{{"type": "create_task", "title": "Call"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /triggers = %d, body %s", rec.Code, rec.Body.String())
	}
	var trig models.Trigger
	decode(t, rec, &trig)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/triggers/evaluate", map[string]any{
		"contact_id": "c1", "trigger_event": "new_interaction",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /triggers/evaluate = %d, body %s", rec.Code, rec.Body.String())
	}
	var eval struct {
		TriggersEvaluated int `json:"triggers_evaluated"`
		ActionsToExecute  []struct {
			TriggerID string        `json:"trigger_id"`
			Action    models.Action `json:"action"`
		} `json:"actions_to_execute"`
	}
	decode(t, rec, &eval)
	if eval.TriggersEvaluated != 1 || len(eval.ActionsToExecute) != 1 {
		t.Fatalf("evaluate = %+v, want 1 trigger and 1 pending action", eval)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/actions/execute", map[string]any{
		"contact_id":   "c1",
		"trigger_id":   trig.ID,
		"trigger_name": trig.Name,
		"action":       eval.ActionsToExecute[0].Action,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /actions/execute = %d, body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Success    bool   `json:"success"`
		ActionType string `json:"action_type"`
	}
	decode(t, rec, &result)
	if !result.Success || result.ActionType != "create_task" {
		t.Errorf("execute result = %+v, want success create_task", result)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/contacts/c1/executions", nil)
	var executions []models.TriggerExecution
	decode(t, rec, &executions)
	if len(executions) != 1 {
		t.Errorf("len(executions) = %d, want 1 audit row", len(executions))
	}

	// A bad action still answers 200 with an error payload.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/actions/execute", map[string]any{
		"contact_id": "c1", "action": map[string]any{"type": "launch_rocket"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute of unknown type = %d, want 200", rec.Code)
	}
	var failed struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decode(t, rec, &failed)
	if failed.Success || failed.Error == "" {
		t.Errorf("failed execute = %+v, want success=false with error", failed)
	}
}

func TestIngestionEndpoint(t *testing.T) {
	router, s := newTestServer(t)

	body := map[string]any{
		"contact":   map[string]any{"name": "New Lead", "phone": "+15550100", "industry": "saas", "user_type": "founder"},
		"channel":   "call",
		"direction": "inbound",
		"sentiment": "positive",
		"intents":   []string{"purchase_intent"},
		"variables": map[string]string{"budget": "$1,200,000", "timeline": "asap"},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/interactions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /interactions = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ContactID     string         `json:"contact_id"`
		InteractionID string         `json:"interaction_id"`
		Scores        map[string]any `json:"scores"`
	}
	decode(t, rec, &resp)
	if resp.ContactID == "" || resp.InteractionID == "" {
		t.Fatalf("ingestion response incomplete: %+v", resp)
	}
	if resp.Scores == nil {
		t.Error("Chained ingestion should return computed scores")
	}

	contact, err := s.GetContact(httptest.NewRequest("GET", "/", nil).Context(), resp.ContactID)
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}
	if contact.InteractionCount != 1 {
		t.Errorf("InteractionCount = %d, want 1", contact.InteractionCount)
	}
	if contact.IntentScore == 0 {
		t.Error("Chained scoring should have set the intent score")
	}

	// Same phone resolves to the same contact instead of creating another.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/interactions?chain=false", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("second POST /interactions = %d", rec.Code)
	}
	var second struct {
		ContactID string         `json:"contact_id"`
		Scores    map[string]any `json:"scores"`
	}
	decode(t, rec, &second)
	if second.ContactID != resp.ContactID {
		t.Errorf("Second ingest created a new contact: %q vs %q", second.ContactID, resp.ContactID)
	}
	if second.Scores != nil {
		t.Error("chain=false must skip scoring")
	}
}

func TestFlowRunEndpoint(t *testing.T) {
	router, s := newTestServer(t)
	seedHTTPContact(t, s, "c1")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/flows", map[string]any{
		"name": "welcome",
		"nodes": []map[string]any{
			{"id": "n1", "type": "trigger"},
			{"id": "n2", "type": "action", "config": map[string]any{"action_type": "create_task", "title": "Hi"}},
		},
		"edges": []map[string]any{{"id": "e1", "source": "n1", "target": "n2"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /flows = %d, body %s", rec.Code, rec.Body.String())
	}
	var fl models.Flow
	decode(t, rec, &fl)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/flows/"+fl.ID+"/run", map[string]any{"contact_id": "c1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /flows/{id}/run = %d, body %s", rec.Code, rec.Body.String())
	}
	var run struct {
		Success       bool   `json:"success"`
		ExecutionID   string `json:"execution_id"`
		Status        string `json:"status"`
		NodesExecuted int    `json:"nodes_executed"`
	}
	decode(t, rec, &run)
	if !run.Success || run.Status != "completed" || run.NodesExecuted != 2 {
		t.Errorf("flow run = %+v, want completed with 2 nodes", run)
	}
}

func seedHTTPContact(t *testing.T, s store.Store, id string) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	err := s.CreateContact(req.Context(), &models.Contact{
		ID: id, Name: "Seeded", LifecycleStage: models.StageLead,
	})
	if err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
}
