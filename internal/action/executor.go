// Package action executes trigger actions against the record store.
//
// Execution never propagates an error past its own boundary: failures are
// caught, recorded on the audit row as status=failed, and returned in the
// result, so a batch of many actions survives one bad action. Every attempt
// writes exactly one TriggerExecution row regardless of outcome.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// defaultTaskDue is how far out a created task is due when the action does
// not say otherwise.
const defaultTaskDue = 24 * time.Hour

// Executor runs trigger actions.
type Executor struct {
	store store.Store
}

func NewExecutor(s store.Store) *Executor {
	return &Executor{store: s}
}

// Result is the outcome of one action execution.
type Result struct {
	Success    bool              `json:"success"`
	ActionType models.ActionType `json:"action_type"`
	Result     map[string]any    `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Execute runs one action for a contact and records the audit row. Nested
// configuration is merged over the flat action fields before dispatch.
func (e *Executor) Execute(ctx context.Context, contactID, triggerID, triggerName string, action models.Action, matched []models.ConditionMatch) *Result {
	flat := action.Flatten()

	result, err := e.apply(ctx, contactID, triggerName, flat)

	exec := &models.TriggerExecution{
		ID:                uuid.New().String(),
		TriggerID:         triggerID,
		TriggerName:       triggerName,
		ContactID:         contactID,
		Status:            models.ExecutionSuccess,
		MatchedConditions: matched,
		Action:            flat,
		Result:            result,
		ExecutedAt:        time.Now().UTC(),
	}
	res := &Result{Success: true, ActionType: flat.Type, Result: result}

	if err != nil {
		exec.Status = models.ExecutionFailed
		exec.Error = err.Error()
		res.Success = false
		res.Error = err.Error()
		log.Warn().
			Err(err).
			Str("contact_id", contactID).
			Str("trigger", triggerName).
			Str("action_type", string(flat.Type)).
			Msg("Action failed")
	} else {
		log.Info().
			Str("contact_id", contactID).
			Str("trigger", triggerName).
			Str("action_type", string(flat.Type)).
			Msg("Action executed")
	}

	if storeErr := e.store.CreateExecution(ctx, exec); storeErr != nil {
		log.Error().Err(storeErr).Str("contact_id", contactID).Str("trigger", triggerName).Msg("Failed to persist execution audit")
	}

	return res
}

// Apply runs an action without writing a trigger audit row. Flow runs use
// it; they keep their own per-node trace instead.
func (e *Executor) Apply(ctx context.Context, contactID, origin string, action models.Action) (map[string]any, error) {
	return e.apply(ctx, contactID, origin, action.Flatten())
}

// apply dispatches on the action type. Each arm must handle every one of
// its failure modes by returning an error; nothing here panics or writes a
// partial audit row.
func (e *Executor) apply(ctx context.Context, contactID, triggerName string, a models.Action) (map[string]any, error) {
	switch a.Type {
	case models.ActionCreateTask:
		return e.createTask(ctx, contactID, triggerName, a)
	case models.ActionUpdateLifecycle:
		return e.updateLifecycle(ctx, contactID, a)
	case models.ActionTagContact:
		return e.tagContact(ctx, contactID, a)
	case models.ActionUpdateScore:
		return e.updateScore(ctx, contactID, a)
	case models.ActionAlliedIndustryTrigger:
		return e.alliedIndustryTrigger(ctx, contactID, a)
	case models.ActionSendNotification:
		return e.sendNotification(ctx, contactID, a)
	default:
		return nil, fmt.Errorf("unknown action type: %q", a.Type)
	}
}

func (e *Executor) createTask(ctx context.Context, contactID, triggerName string, a models.Action) (map[string]any, error) {
	title := a.Title
	if title == "" {
		title = "Follow up"
	}
	reason := a.Reason
	if reason == "" {
		reason = fmt.Sprintf("triggered by rule %q", triggerName)
	}
	task := &models.Task{
		ID:          uuid.New().String(),
		ContactID:   contactID,
		Title:       title,
		Description: a.Description,
		Type:        a.TaskType,
		Priority:    a.Priority,
		DueAt:       time.Now().UTC().Add(defaultTaskDue),
		AIGenerated: a.AIGenerated,
		Reason:      reason,
		Status:      "open",
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return map[string]any{"task_id": task.ID, "title": task.Title}, nil
}

func (e *Executor) updateLifecycle(ctx context.Context, contactID string, a models.Action) (map[string]any, error) {
	if !models.ValidLifecycleStage(a.Stage) {
		return nil, fmt.Errorf("invalid lifecycle stage: %q", a.Stage)
	}
	contact, err := e.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	old := contact.LifecycleStage
	contact.LifecycleStage = a.Stage
	if err := e.store.UpdateContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("updating lifecycle: %w", err)
	}
	return map[string]any{"old_stage": string(old), "new_stage": string(a.Stage)}, nil
}

func (e *Executor) tagContact(ctx context.Context, contactID string, a models.Action) (map[string]any, error) {
	if len(a.Tags) == 0 {
		return nil, fmt.Errorf("tag_contact requires at least one tag")
	}
	contact, err := e.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(contact.Tags))
	for _, t := range contact.Tags {
		seen[t] = struct{}{}
	}
	added := 0
	for _, t := range a.Tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		contact.Tags = append(contact.Tags, t)
		added++
	}

	if added > 0 {
		if err := e.store.UpdateContact(ctx, contact); err != nil {
			return nil, fmt.Errorf("updating tags: %w", err)
		}
	}
	return map[string]any{"tags": contact.Tags, "added": added}, nil
}

func (e *Executor) updateScore(ctx context.Context, contactID string, a models.Action) (map[string]any, error) {
	contact, err := e.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}

	var current int
	switch a.Score {
	case "intent":
		current = contact.IntentScore
	case "engagement":
		current = contact.EngagementScore
	case "urgency":
		current = contact.UrgencyScore
	case "churn_risk":
		current = contact.ChurnRisk
	default:
		return nil, fmt.Errorf("unknown score type: %q", a.Score)
	}

	var next int
	switch a.Operation {
	case models.ScoreOpSet, "":
		next = a.Amount
	case models.ScoreOpAdd:
		next = current + a.Amount
	case models.ScoreOpSubtract:
		next = current - a.Amount
	default:
		return nil, fmt.Errorf("unknown score operation: %q", a.Operation)
	}
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}

	switch a.Score {
	case "intent":
		contact.IntentScore = next
	case "engagement":
		contact.EngagementScore = next
	case "urgency":
		contact.UrgencyScore = next
	case "churn_risk":
		contact.ChurnRisk = next
	}
	if err := e.store.UpdateContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("updating score: %w", err)
	}

	event := &models.ScoreEvent{
		ID:        uuid.New().String(),
		ContactID: contactID,
		ScoreType: a.Score,
		OldValue:  float64(current),
		NewValue:  float64(next),
		Factors:   []string{fmt.Sprintf("manual %s %d", operationLabel(a.Operation), a.Amount)},
		Source:    models.ScoreSourceManual,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateScoreEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("contact_id", contactID).Msg("Failed to persist manual score event")
	}

	return map[string]any{"score": a.Score, "old_value": current, "new_value": next}, nil
}

func operationLabel(op models.ScoreOperation) string {
	if op == "" {
		return string(models.ScoreOpSet)
	}
	return string(op)
}

func (e *Executor) alliedIndustryTrigger(ctx context.Context, contactID string, a models.Action) (map[string]any, error) {
	if a.RelationshipID == "" {
		return nil, fmt.Errorf("allied_industry_trigger requires relationship_id")
	}
	rel, err := e.store.GetAlliedIndustry(ctx, a.RelationshipID)
	if err != nil {
		return nil, fmt.Errorf("resolving allied industry: %w", err)
	}

	task := &models.Task{
		ID:          uuid.New().String(),
		ContactID:   contactID,
		Title:       fmt.Sprintf("Cross-sell: %s", rel.PartnerIndustry),
		Description: rel.Pitch,
		Type:        "cross_sell",
		Priority:    "high",
		DueAt:       time.Now().UTC().Add(defaultTaskDue),
		AIGenerated: a.AIGenerated,
		Reason:      fmt.Sprintf("allied industry %s to %s", rel.SourceIndustry, rel.PartnerIndustry),
		Status:      "open",
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating cross-sell task: %w", err)
	}
	return map[string]any{"task_id": task.ID, "partner_industry": rel.PartnerIndustry}, nil
}

// sendNotification records intent to notify. Delivery belongs to an
// external collaborator; this action only queues.
func (e *Executor) sendNotification(ctx context.Context, contactID string, a models.Action) (map[string]any, error) {
	if a.Message == "" {
		return nil, fmt.Errorf("send_notification requires a message")
	}
	channel := a.Channel
	if channel == "" {
		channel = "email"
	}
	n := &models.Notification{
		ID:        uuid.New().String(),
		ContactID: contactID,
		Channel:   channel,
		Message:   a.Message,
		Status:    "queued",
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("queueing notification: %w", err)
	}
	return map[string]any{"notification_id": n.ID, "channel": channel}, nil
}
