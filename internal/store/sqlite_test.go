package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/pkg/models"
)

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContactRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	c := &models.Contact{
		ID:             "c1",
		Name:           "Row One",
		Phone:          "+15550101",
		Email:          "row@example.com",
		LifecycleStage: models.StageLead,
		Tags:           []string{"vip", "beta"},
		IntentScore:    42,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.CreateContact(ctx, c); err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}

	got, err := s.GetContact(ctx, "c1")
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}
	if got.Name != "Row One" || got.IntentScore != 42 {
		t.Errorf("GetContact() = %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "vip" {
		t.Errorf("Tags = %v, want [vip beta]", got.Tags)
	}

	found, err := s.FindContact(ctx, "+15550101", "")
	if err != nil {
		t.Fatalf("FindContact() error = %v", err)
	}
	if found.ID != "c1" {
		t.Errorf("FindContact() ID = %q, want c1", found.ID)
	}

	got.Name = "Row Renamed"
	if err := s.UpdateContact(ctx, got); err != nil {
		t.Fatalf("UpdateContact() error = %v", err)
	}
	again, _ := s.GetContact(ctx, "c1")
	if again.Name != "Row Renamed" {
		t.Errorf("Name after update = %q", again.Name)
	}

	if err := s.DeleteContact(ctx, "c1"); err != nil {
		t.Fatalf("DeleteContact() error = %v", err)
	}
	var nf *store.ErrNotFound
	if _, err := s.GetContact(ctx, "c1"); !errors.As(err, &nf) {
		t.Errorf("GetContact() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteVariableVersioning(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	mustCreateContact(t, s, "c1")
	for i, v := range []string{"100k", "250k", "500k"} {
		err := s.SetCurrentVariable(ctx, &models.Variable{
			ID: string(rune('a' + i)), ContactID: "c1", Name: "budget", Value: v,
			Confidence: 0.9,
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SetCurrentVariable() error = %v", err)
		}
	}

	current, err := s.ListCurrentVariables(ctx, "c1")
	if err != nil {
		t.Fatalf("ListCurrentVariables() error = %v", err)
	}
	if len(current) != 1 || current[0].Value != "500k" {
		t.Errorf("current = %+v, want one entry 500k", current)
	}

	history, err := s.ListVariableHistory(ctx, "c1", "budget")
	if err != nil {
		t.Fatalf("ListVariableHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Errorf("len(history) = %d, want 3", len(history))
	}
}

func TestSQLiteTriggerAndExecutionFlow(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	mustCreateContact(t, s, "c1")

	trig := &models.Trigger{
		ID: "t1", Name: "hot", Event: models.EventNewInteraction, Active: true,
		Actions:   []models.Action{{Type: models.ActionCreateTask}},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreateTrigger(ctx, trig); err != nil {
		t.Fatalf("CreateTrigger() error = %v", err)
	}

	active, err := s.ListActiveTriggersByEvent(ctx, models.EventNewInteraction)
	if err != nil {
		t.Fatalf("ListActiveTriggersByEvent() error = %v", err)
	}
	if len(active) != 1 || len(active[0].Actions) != 1 {
		t.Fatalf("active = %+v, want one trigger with one action", active)
	}

	err = s.CreateExecution(ctx, &models.TriggerExecution{
		ID: "e1", TriggerID: "t1", ContactID: "c1", TriggerName: "hot",
		Status: models.ExecutionSuccess, Action: models.Action{Type: models.ActionCreateTask},
		ExecutedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	n, err := s.CountExecutions(ctx, "c1", "t1")
	if err != nil {
		t.Fatalf("CountExecutions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountExecutions() = %d, want 1", n)
	}

	latest, err := s.LatestExecution(ctx, "c1", "t1")
	if err != nil {
		t.Fatalf("LatestExecution() error = %v", err)
	}
	if latest.ID != "e1" {
		t.Errorf("LatestExecution() ID = %q, want e1", latest.ID)
	}
}

func TestSQLiteFlowAssignments(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	mustCreateContact(t, s, "c1")

	fl := &models.Flow{
		ID: "f1", Name: "welcome", Active: true,
		Nodes:     []models.FlowNode{{ID: "n1", Type: models.NodeTrigger}},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreateFlow(ctx, fl); err != nil {
		t.Fatalf("CreateFlow() error = %v", err)
	}

	cf := &models.ContactFlow{
		ID: "cf1", ContactID: "c1", FlowID: "f1", Enabled: true, Priority: 3,
	}
	if err := s.CreateContactFlow(ctx, cf); err != nil {
		t.Fatalf("CreateContactFlow() error = %v", err)
	}

	assigned, err := s.ListFlowAssignments(ctx, "f1")
	if err != nil {
		t.Fatalf("ListFlowAssignments() error = %v", err)
	}
	if len(assigned) != 1 || assigned[0].ContactID != "c1" {
		t.Errorf("assignments = %+v, want one for c1", assigned)
	}
}

func mustCreateContact(t *testing.T, s store.Store, id string) {
	t.Helper()
	err := s.CreateContact(context.Background(), &models.Contact{
		ID: id, Name: "Seed " + id, LifecycleStage: models.StageLead,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
}
