package trigger_test

import (
	"context"
	"testing"
	"time"

	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/internal/trigger"
	"github.com/loopcrm/engine/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func seedContact(t *testing.T, s store.Store) *models.Contact {
	t.Helper()
	c := &models.Contact{
		ID:             "c1",
		Name:           "Eval Target",
		LifecycleStage: models.StageLead,
		IntentScore:    75,
		Tags:           []string{"VIP"},
		LastChannel:    "call",
	}
	if err := s.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
	return c
}

func seedTrigger(t *testing.T, s store.Store, trig *models.Trigger) {
	t.Helper()
	trig.Active = true
	if trig.Event == "" {
		trig.Event = models.EventNewInteraction
	}
	if len(trig.Actions) == 0 {
		trig.Actions = []models.Action{{Type: models.ActionCreateTask, Title: "follow up"}}
	}
	if err := s.CreateTrigger(context.Background(), trig); err != nil {
		t.Fatalf("CreateTrigger() error = %v", err)
	}
}

// ─── Operator semantics ──────────────────────────────────────

func TestEvalCondition_Operators(t *testing.T) {
	contact := &models.Contact{
		ID:          "c1",
		Name:        "Op Target",
		IntentScore: 75,
		Tags:        []string{"VIP", "Founder"},
		LastChannel: "Email",
	}
	env := &trigger.Env{
		Contact:   contact,
		Variables: map[string]any{"budget": "500k"},
		Event:     map[string]any{"channel": "call"},
	}

	cases := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"gt true", models.Condition{Field: "contact.intent_score", Operator: "gt", Value: float64(70)}, true},
		{"gt false on equal", models.Condition{Field: "contact.intent_score", Operator: "gt", Value: float64(75)}, false},
		{"gte true on equal", models.Condition{Field: "contact.intent_score", Operator: "gte", Value: float64(75)}, true},
		{"lt false", models.Condition{Field: "contact.intent_score", Operator: "lt", Value: float64(70)}, false},
		{"eq string", models.Condition{Field: "contact.name", Operator: "eq", Value: "Op Target"}, true},
		{"neq string", models.Condition{Field: "contact.name", Operator: "neq", Value: "Other"}, true},
		{"eq numeric string coercion", models.Condition{Field: "contact.intent_score", Operator: "eq", Value: "75"}, true},
		{"contains case-insensitive", models.Condition{Field: "contact.last_channel", Operator: "contains", Value: "email"}, true},
		{"not_contains", models.Condition{Field: "contact.last_channel", Operator: "not_contains", Value: "sms"}, true},
		{"in list", models.Condition{Field: "contact.last_channel", Operator: "in", Value: []any{"Email", "call"}}, true},
		{"not_in list", models.Condition{Field: "contact.last_channel", Operator: "not_in", Value: []any{"sms"}}, true},
		{"exists variable", models.Condition{Field: "variable.budget", Operator: "exists"}, true},
		{"exists absent variable", models.Condition{Field: "variable.timeline", Operator: "exists"}, false},
		{"not_exists absent variable", models.Condition{Field: "variable.timeline", Operator: "not_exists"}, true},
		{"event namespace", models.Condition{Field: "event.channel", Operator: "eq", Value: "call"}, true},
		{"unprefixed contact field", models.Condition{Field: "intent_score", Operator: "gt", Value: float64(50)}, true},
		{"unprefixed variable fallback", models.Condition{Field: "budget", Operator: "exists"}, true},
		{"unknown operator is false", models.Condition{Field: "contact.intent_score", Operator: "between", Value: float64(1)}, false},
		{"unknown field gt is false", models.Condition{Field: "contact.shoe_size", Operator: "gt", Value: float64(1)}, false},
	}

	for _, tc := range cases {
		got, _ := trigger.EvalCondition(&tc.cond, env)
		if got != tc.want {
			t.Errorf("%s: EvalCondition() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvalCondition_Tree(t *testing.T) {
	env := &trigger.Env{
		Contact: &models.Contact{IntentScore: 75, LifecycleStage: models.StageLead},
	}

	all := &models.Condition{All: []models.Condition{
		{Field: "contact.intent_score", Operator: "gt", Value: float64(70)},
		{Field: "contact.lifecycle_stage", Operator: "eq", Value: "lead"},
	}}
	if ok, matches := trigger.EvalCondition(all, env); !ok {
		t.Error("all-branch with two true leaves should match")
	} else if len(matches) != 2 {
		t.Errorf("all-branch matched %d leaves, want 2", len(matches))
	}

	allShort := &models.Condition{All: []models.Condition{
		{Field: "contact.intent_score", Operator: "lt", Value: float64(10)},
		{Field: "contact.lifecycle_stage", Operator: "eq", Value: "lead"},
	}}
	if ok, _ := trigger.EvalCondition(allShort, env); ok {
		t.Error("all-branch with a false leaf should not match")
	}

	anyCond := &models.Condition{Any: []models.Condition{
		{Field: "contact.intent_score", Operator: "lt", Value: float64(10)},
		{Field: "contact.lifecycle_stage", Operator: "eq", Value: "lead"},
	}}
	if ok, _ := trigger.EvalCondition(anyCond, env); !ok {
		t.Error("any-branch with one true leaf should match")
	}

	if ok, _ := trigger.EvalCondition(nil, env); !ok {
		t.Error("nil condition should match everything")
	}
	if ok, _ := trigger.EvalCondition(&models.Condition{}, env); !ok {
		t.Error("empty condition should match everything")
	}
}

// ─── Evaluate against the store ──────────────────────────────

func TestEvaluate_MatchProducesPendingActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s)
	seedTrigger(t, s, &models.Trigger{
		ID:   "t1",
		Name: "hot-lead",
		Condition: &models.Condition{
			Field: "contact.intent_score", Operator: "gt", Value: float64(70),
		},
	})

	eval, err := trigger.NewEvaluator(s).Evaluate(ctx, "c1", models.EventNewInteraction, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if eval.TriggersEvaluated != 1 {
		t.Errorf("TriggersEvaluated = %d, want 1", eval.TriggersEvaluated)
	}
	if len(eval.Pending) != 1 {
		t.Fatalf("len(Pending) = %d, want 1", len(eval.Pending))
	}
	p := eval.Pending[0]
	if p.TriggerName != "hot-lead" {
		t.Errorf("Pending trigger name = %q, want hot-lead", p.TriggerName)
	}
	if len(p.MatchedConditions) != 1 || p.MatchedConditions[0].Field != "contact.intent_score" {
		t.Errorf("MatchedConditions = %+v, want the intent_score leaf", p.MatchedConditions)
	}

	// Evaluation is a pure read: nothing should have been recorded.
	if count, _ := s.CountExecutions(ctx, "c1", "t1"); count != 0 {
		t.Errorf("CountExecutions() after evaluate = %d, want 0", count)
	}
}

func TestEvaluate_Cooldown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s)
	seedTrigger(t, s, &models.Trigger{ID: "t1", Name: "throttled", CooldownMinutes: 60})

	s.CreateExecution(ctx, &models.TriggerExecution{
		ID: "e1", TriggerID: "t1", ContactID: "c1",
		Status: models.ExecutionSuccess, ExecutedAt: time.Now().UTC().Add(-10 * time.Minute),
	})

	eval, err := trigger.NewEvaluator(s).Evaluate(ctx, "c1", models.EventNewInteraction, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(eval.Pending) != 0 {
		t.Errorf("Trigger inside cooldown window produced %d pending actions, want 0", len(eval.Pending))
	}
}

func TestEvaluate_CooldownExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s)
	seedTrigger(t, s, &models.Trigger{ID: "t1", Name: "throttled", CooldownMinutes: 60})

	s.CreateExecution(ctx, &models.TriggerExecution{
		ID: "e1", TriggerID: "t1", ContactID: "c1",
		Status: models.ExecutionSuccess, ExecutedAt: time.Now().UTC().Add(-2 * time.Hour),
	})

	eval, err := trigger.NewEvaluator(s).Evaluate(ctx, "c1", models.EventNewInteraction, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(eval.Pending) != 1 {
		t.Errorf("Trigger past its cooldown produced %d pending actions, want 1", len(eval.Pending))
	}
}

func TestEvaluate_ExecutionCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s)
	seedTrigger(t, s, &models.Trigger{ID: "t1", Name: "capped", MaxExecutions: 2})

	for i, id := range []string{"e1", "e2"} {
		s.CreateExecution(ctx, &models.TriggerExecution{
			ID: id, TriggerID: "t1", ContactID: "c1",
			ExecutedAt: time.Now().UTC().Add(-time.Duration(i+1) * time.Hour),
		})
	}

	eval, err := trigger.NewEvaluator(s).Evaluate(ctx, "c1", models.EventNewInteraction, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(eval.Pending) != 0 {
		t.Errorf("Trigger at its execution cap produced %d pending actions, want 0", len(eval.Pending))
	}
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s)
	seedTrigger(t, s, &models.Trigger{ID: "t1", Name: "low", Priority: 1})
	seedTrigger(t, s, &models.Trigger{ID: "t2", Name: "high", Priority: 10})

	eval, err := trigger.NewEvaluator(s).Evaluate(ctx, "c1", models.EventNewInteraction, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(eval.Pending) != 2 {
		t.Fatalf("len(Pending) = %d, want 2", len(eval.Pending))
	}
	if eval.Pending[0].TriggerName != "high" {
		t.Errorf("First pending action from %q, want the higher priority trigger", eval.Pending[0].TriggerName)
	}
}

func TestEvaluate_MissingContact(t *testing.T) {
	s := newTestStore(t)
	_, err := trigger.NewEvaluator(s).Evaluate(context.Background(), "ghost", models.EventNewInteraction, nil)
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Fatalf("Evaluate() error = %v, want *ErrNotFound", err)
	}
}
