package action_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/loopcrm/engine/internal/action"
	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func seedContact(t *testing.T, s store.Store, c *models.Contact) {
	t.Helper()
	if c.ID == "" {
		c.ID = "c1"
	}
	if c.LifecycleStage == "" {
		c.LifecycleStage = models.StageLead
	}
	if err := s.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
}

func lastExecution(t *testing.T, s store.Store, contactID string) models.TriggerExecution {
	t.Helper()
	execs, err := s.ListExecutions(context.Background(), contactID, 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(execs) == 0 {
		t.Fatal("No execution rows recorded")
	}
	return execs[0]
}

func TestExecute_CreateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A"})

	exec := action.NewExecutor(s)
	result := exec.Execute(ctx, "c1", "t1", "hot-lead", models.Action{
		Type:     models.ActionCreateTask,
		Title:    "Call back",
		TaskType: "follow_up",
		Priority: "high",
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}

	tasks, _ := s.ListTasks(ctx, "c1")
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	task := tasks[0]
	if task.Title != "Call back" || task.Priority != "high" {
		t.Errorf("Task = {%q %q}, want {Call back high}", task.Title, task.Priority)
	}
	if task.Status != "open" {
		t.Errorf("Task status = %q, want open", task.Status)
	}
	due := time.Until(task.DueAt)
	if due < 23*time.Hour || due > 25*time.Hour {
		t.Errorf("Task due in %v, want about 24h", due)
	}

	row := lastExecution(t, s, "c1")
	if row.Status != models.ExecutionSuccess {
		t.Errorf("Execution status = %q, want success", row.Status)
	}
	if row.TriggerName != "hot-lead" {
		t.Errorf("Execution trigger name = %q, want hot-lead", row.TriggerName)
	}
}

func TestExecute_CreateTask_DefaultReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A"})

	action.NewExecutor(s).Execute(ctx, "c1", "t1", "stale-nudge", models.Action{
		Type: models.ActionCreateTask,
	}, nil)

	tasks, _ := s.ListTasks(ctx, "c1")
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if !strings.Contains(tasks[0].Reason, "stale-nudge") {
		t.Errorf("Default task reason %q should name the rule", tasks[0].Reason)
	}
}

func TestExecute_UpdateLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A", LifecycleStage: models.StageLead})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "qualify", models.Action{
		Type:  models.ActionUpdateLifecycle,
		Stage: models.StageQualified,
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	got, _ := s.GetContact(ctx, "c1")
	if got.LifecycleStage != models.StageQualified {
		t.Errorf("LifecycleStage = %q, want qualified", got.LifecycleStage)
	}
}

func TestExecute_UpdateLifecycle_InvalidStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A", LifecycleStage: models.StageLead})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "bad", models.Action{
		Type:  models.ActionUpdateLifecycle,
		Stage: "platinum",
	}, nil)

	if result.Success {
		t.Fatal("Execute() with an invalid stage should fail")
	}
	got, _ := s.GetContact(ctx, "c1")
	if got.LifecycleStage != models.StageLead {
		t.Errorf("LifecycleStage = %q, should be unchanged", got.LifecycleStage)
	}

	row := lastExecution(t, s, "c1")
	if row.Status != models.ExecutionFailed {
		t.Errorf("Execution status = %q, want failed (audit row still written)", row.Status)
	}
	if row.Error == "" {
		t.Error("Failed execution should carry an error message")
	}
}

func TestExecute_TagContact_Dedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A", Tags: []string{"vip"}})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "tagger", models.Action{
		Type: models.ActionTagContact,
		Tags: []string{"vip", "hot"},
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	got, _ := s.GetContact(ctx, "c1")
	if len(got.Tags) != 2 {
		t.Errorf("Tags = %v, want exactly [vip hot]", got.Tags)
	}
}

func TestExecute_UpdateScore_ClampsAndAudits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A", IntentScore: 95})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "boost", models.Action{
		Type:      models.ActionUpdateScore,
		Score:     "intent",
		Operation: models.ScoreOpAdd,
		Amount:    20,
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	got, _ := s.GetContact(ctx, "c1")
	if got.IntentScore != 100 {
		t.Errorf("IntentScore = %d, want 100 (clamped)", got.IntentScore)
	}

	events, _ := s.ListScoreEvents(ctx, "c1", 0)
	if len(events) != 1 {
		t.Fatalf("len(score events) = %d, want 1", len(events))
	}
	if events[0].Source != models.ScoreSourceManual {
		t.Errorf("Score event source = %q, want manual", events[0].Source)
	}
	if events[0].OldValue != 95 || events[0].NewValue != 100 {
		t.Errorf("Score event = %v -> %v, want 95 -> 100", events[0].OldValue, events[0].NewValue)
	}
}

func TestExecute_UpdateScore_Subtract(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A", ChurnRisk: 10})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "calm", models.Action{
		Type:      models.ActionUpdateScore,
		Score:     "churn_risk",
		Operation: models.ScoreOpSubtract,
		Amount:    30,
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	got, _ := s.GetContact(ctx, "c1")
	if got.ChurnRisk != 0 {
		t.Errorf("ChurnRisk = %d, want 0 (floored)", got.ChurnRisk)
	}
}

func TestExecute_AlliedIndustryTrigger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A", Industry: "real_estate"})
	s.CreateAlliedIndustry(ctx, &models.AlliedIndustry{
		ID: "r1", SourceIndustry: "real_estate", PartnerIndustry: "mortgage",
		Pitch: "Bundle a mortgage referral",
	})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "cross", models.Action{
		Type:           models.ActionAlliedIndustryTrigger,
		RelationshipID: "r1",
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	tasks, _ := s.ListTasks(ctx, "c1")
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if tasks[0].Type != "cross_sell" || tasks[0].Priority != "high" {
		t.Errorf("Cross-sell task = {%q %q}, want {cross_sell high}", tasks[0].Type, tasks[0].Priority)
	}
}

func TestExecute_AlliedIndustryTrigger_MissingRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A"})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "cross", models.Action{
		Type:           models.ActionAlliedIndustryTrigger,
		RelationshipID: "ghost",
	}, nil)

	if result.Success {
		t.Fatal("Execute() with an unknown relationship should fail")
	}
	row := lastExecution(t, s, "c1")
	if row.Status != models.ExecutionFailed {
		t.Errorf("Execution status = %q, want failed", row.Status)
	}
}

func TestExecute_SendNotification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A"})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "notify", models.Action{
		Type:    models.ActionSendNotification,
		Channel: "sms",
		Message: "Your advisor will call shortly",
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	notifications, _ := s.ListNotifications(ctx, "c1")
	if len(notifications) != 1 {
		t.Fatalf("len(notifications) = %d, want 1", len(notifications))
	}
	if notifications[0].Status != "queued" {
		t.Errorf("Notification status = %q, want queued", notifications[0].Status)
	}
}

func TestExecute_UnknownType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A"})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "weird", models.Action{
		Type: "launch_rocket",
	}, nil)

	if result.Success {
		t.Fatal("Execute() with an unknown action type should fail")
	}
	row := lastExecution(t, s, "c1")
	if row.Status != models.ExecutionFailed {
		t.Errorf("Execution status = %q, want failed", row.Status)
	}
}

func TestExecute_NestedConfigFlattened(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContact(t, s, &models.Contact{ID: "c1", Name: "A"})

	result := action.NewExecutor(s).Execute(ctx, "c1", "t1", "legacy", models.Action{
		Type: models.ActionCreateTask,
		Config: map[string]any{
			"title":    "From config",
			"priority": "low",
		},
	}, nil)

	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	tasks, _ := s.ListTasks(ctx, "c1")
	if tasks[0].Title != "From config" || tasks[0].Priority != "low" {
		t.Errorf("Task = {%q %q}, nested config was not flattened", tasks[0].Title, tasks[0].Priority)
	}
}

func TestExecute_MissingContactStillAudited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result := action.NewExecutor(s).Execute(ctx, "ghost", "t1", "rule", models.Action{
		Type:  models.ActionUpdateLifecycle,
		Stage: models.StageQualified,
	}, nil)

	if result.Success {
		t.Fatal("Execute() against a missing contact should fail")
	}
	row := lastExecution(t, s, "ghost")
	if row.Status != models.ExecutionFailed {
		t.Errorf("Execution status = %q, want failed", row.Status)
	}
}
