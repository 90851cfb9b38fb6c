// Package trigger implements declarative rule evaluation.
//
// The evaluator is a pure decision function: it reads the contact, its
// current variables, and the trigger definitions, and returns the ordered
// list of actions that should run. It writes nothing; executing actions
// and recording the audit trail belongs to the action executor.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// Evaluator decides which trigger actions should fire for an event.
type Evaluator struct {
	store store.Store
}

func NewEvaluator(s store.Store) *Evaluator {
	return &Evaluator{store: s}
}

// PendingAction is one action selected for execution, tagged with its
// origin trigger and the leaf conditions that matched.
type PendingAction struct {
	TriggerID         string                  `json:"trigger_id"`
	TriggerName       string                  `json:"trigger_name"`
	Action            models.Action           `json:"action"`
	MatchedConditions []models.ConditionMatch `json:"matched_conditions,omitempty"`
}

// Evaluation is the result of one evaluate call.
type Evaluation struct {
	TriggersEvaluated int             `json:"triggers_evaluated"`
	Pending           []PendingAction `json:"actions_to_execute"`
}

// Evaluate loads the active triggers for the event (priority descending),
// filters out those blocked by cooldown or execution cap, evaluates each
// condition tree, and returns the actions of every matching trigger.
// Returns store.ErrNotFound if the contact does not exist.
func (e *Evaluator) Evaluate(ctx context.Context, contactID string, event models.TriggerEvent, payload map[string]any) (*Evaluation, error) {
	contact, err := e.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}

	triggers, err := e.store.ListActiveTriggersByEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("loading triggers: %w", err)
	}

	variables, err := e.store.ListCurrentVariables(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("loading variables: %w", err)
	}
	vars := make(map[string]any, len(variables))
	for _, v := range variables {
		vars[strings.ToLower(v.Name)] = v.Value
	}

	env := &Env{Contact: contact, Variables: vars, Event: payload}
	result := &Evaluation{TriggersEvaluated: len(triggers)}

	now := time.Now().UTC()
	for _, t := range triggers {
		blocked, err := e.blockedByCooldown(ctx, contactID, &t, now)
		if err != nil {
			return nil, err
		}
		if blocked {
			log.Debug().Str("trigger", t.Name).Str("contact_id", contactID).Msg("Trigger in cooldown, skipped")
			continue
		}

		capped, err := e.blockedByCap(ctx, contactID, &t)
		if err != nil {
			return nil, err
		}
		if capped {
			log.Debug().Str("trigger", t.Name).Str("contact_id", contactID).Msg("Trigger at execution cap, skipped")
			continue
		}

		matched, matches := EvalCondition(t.Condition, env)
		if !matched {
			continue
		}

		for _, action := range t.Actions {
			result.Pending = append(result.Pending, PendingAction{
				TriggerID:         t.ID,
				TriggerName:       t.Name,
				Action:            action,
				MatchedConditions: matches,
			})
		}
	}

	log.Info().
		Str("contact_id", contactID).
		Str("event", string(event)).
		Int("triggers", len(triggers)).
		Int("actions", len(result.Pending)).
		Msg("Triggers evaluated")
	return result, nil
}

// blockedByCooldown reports whether the trigger's last execution for the
// contact is newer than now − cooldown. A cooldown of 0 never blocks.
func (e *Evaluator) blockedByCooldown(ctx context.Context, contactID string, t *models.Trigger, now time.Time) (bool, error) {
	if t.CooldownMinutes <= 0 {
		return false, nil
	}
	last, err := e.store.LatestExecution(ctx, contactID, t.ID)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("checking cooldown: %w", err)
	}
	cutoff := now.Add(-time.Duration(t.CooldownMinutes) * time.Minute)
	return last.ExecutedAt.After(cutoff), nil
}

// blockedByCap reports whether the per-contact execution cap is exhausted.
// A cap of 0 means uncapped.
func (e *Evaluator) blockedByCap(ctx context.Context, contactID string, t *models.Trigger) (bool, error) {
	if t.MaxExecutions <= 0 {
		return false, nil
	}
	count, err := e.store.CountExecutions(ctx, contactID, t.ID)
	if err != nil {
		return false, fmt.Errorf("checking execution cap: %w", err)
	}
	return count >= t.MaxExecutions, nil
}

// ── Condition evaluation ─────────────────────────────────────

// Env is the field namespace a condition tree is evaluated against.
type Env struct {
	Contact   *models.Contact
	Variables map[string]any
	Event     map[string]any
}

// Resolve looks a field path up: "contact.*" reads the contact record,
// "variable.*" the current variables, "event.*" the event payload. An
// unprefixed field tries the contact first, then variables.
func (env *Env) Resolve(field string) (any, bool) {
	field = strings.ToLower(strings.TrimSpace(field))
	switch {
	case strings.HasPrefix(field, "contact."):
		return contactField(env.Contact, strings.TrimPrefix(field, "contact."))
	case strings.HasPrefix(field, "variable."):
		v, ok := env.Variables[strings.TrimPrefix(field, "variable.")]
		return v, ok
	case strings.HasPrefix(field, "event."):
		v, ok := env.Event[strings.TrimPrefix(field, "event.")]
		return v, ok
	default:
		if v, ok := contactField(env.Contact, field); ok {
			return v, ok
		}
		v, ok := env.Variables[field]
		return v, ok
	}
}

func contactField(c *models.Contact, name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	switch name {
	case "id":
		return c.ID, true
	case "name":
		return c.Name, true
	case "company":
		return c.Company, true
	case "phone":
		return c.Phone, true
	case "email":
		return c.Email, true
	case "user_type":
		return c.UserType, true
	case "industry":
		return c.Industry, true
	case "lifecycle_stage":
		return string(c.LifecycleStage), true
	case "intent_score":
		return c.IntentScore, true
	case "urgency_score":
		return c.UrgencyScore, true
	case "engagement_score":
		return c.EngagementScore, true
	case "churn_risk":
		return c.ChurnRisk, true
	case "lifetime_value":
		return c.LifetimeValue, true
	case "interaction_count":
		return c.InteractionCount, true
	case "last_channel":
		return c.LastChannel, true
	case "tags":
		return c.Tags, true
	default:
		return nil, false
	}
}

// EvalCondition evaluates a condition tree against env by structural
// recursion. It returns whether the tree matched and the snapshot of every
// leaf that contributed to the match. A nil or empty tree always matches.
// All branches short-circuit on the first non-match; Any branches
// short-circuit on the first match.
func EvalCondition(c *models.Condition, env *Env) (bool, []models.ConditionMatch) {
	if c.IsEmpty() {
		return true, nil
	}

	switch {
	case len(c.All) > 0:
		var matches []models.ConditionMatch
		for i := range c.All {
			ok, m := EvalCondition(&c.All[i], env)
			if !ok {
				return false, nil
			}
			matches = append(matches, m...)
		}
		return true, matches

	case len(c.Any) > 0:
		for i := range c.Any {
			if ok, m := EvalCondition(&c.Any[i], env); ok {
				return true, m
			}
		}
		return false, nil

	default:
		actual, present := env.Resolve(c.Field)
		if !evalLeaf(c.Operator, actual, present, c.Value) {
			return false, nil
		}
		return true, []models.ConditionMatch{{
			Field:    c.Field,
			Operator: c.Operator,
			Value:    c.Value,
			Actual:   actual,
		}}
	}
}

func evalLeaf(op string, actual any, present bool, expected any) bool {
	switch op {
	case models.OpEquals:
		return present && asText(actual) == asText(expected)
	case models.OpNotEquals:
		return !present || asText(actual) != asText(expected)
	case models.OpGreaterThan:
		a, e, ok := bothNumeric(actual, expected, present)
		return ok && a > e
	case models.OpLessThan:
		a, e, ok := bothNumeric(actual, expected, present)
		return ok && a < e
	case models.OpGreaterEq:
		a, e, ok := bothNumeric(actual, expected, present)
		return ok && a >= e
	case models.OpLessEq:
		a, e, ok := bothNumeric(actual, expected, present)
		return ok && a <= e
	case models.OpContains:
		return present && strings.Contains(strings.ToLower(asText(actual)), strings.ToLower(asText(expected)))
	case models.OpNotContains:
		return !present || !strings.Contains(strings.ToLower(asText(actual)), strings.ToLower(asText(expected)))
	case models.OpIn:
		return present && inList(actual, expected)
	case models.OpNotIn:
		return !present || !inList(actual, expected)
	case models.OpExists:
		return present && actual != nil
	case models.OpNotExists:
		return !present || actual == nil
	default:
		log.Warn().Str("operator", op).Msg("Unknown condition operator, evaluating false")
		return false
	}
}

func inList(actual, expected any) bool {
	target := asText(actual)
	switch list := expected.(type) {
	case []any:
		for _, item := range list {
			if asText(item) == target {
				return true
			}
		}
	case []string:
		for _, item := range list {
			if item == target {
				return true
			}
		}
	}
	return false
}

// bothNumeric coerces both operands to float64. Strings parse if they look
// numeric; a failed coercion fails the comparison rather than erroring.
func bothNumeric(actual, expected any, present bool) (float64, float64, bool) {
	if !present {
		return 0, 0, false
	}
	a, ok := asNumber(actual)
	if !ok {
		return 0, 0, false
	}
	e, ok := asNumber(expected)
	if !ok {
		return 0, 0, false
	}
	return a, e, true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
