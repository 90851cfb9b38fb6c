// Package flow runs automation graphs for a single contact.
//
// A run walks the graph breadth-first from its trigger node, visiting each
// node at most once, and records an execution trace with one result per
// visited node. The first node failure halts the walk and marks the run
// failed; everything visited before the failure stays in the trace.
package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/loopcrm/engine/internal/action"
	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/internal/trigger"
	"github.com/loopcrm/engine/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Runner executes flows.
type Runner struct {
	store   store.Store
	actions *action.Executor
}

func NewRunner(s store.Store, actions *action.Executor) *Runner {
	return &Runner{store: s, actions: actions}
}

// Run executes one flow for one contact and returns the full trace. The
// execution record is persisted before the walk starts and updated when it
// ends, so a crashed run is visible as status=running.
func (r *Runner) Run(ctx context.Context, contactID, flowID, contactFlowID string) (*models.FlowExecution, error) {
	contact, err := r.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	fl, err := r.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	exec := &models.FlowExecution{
		ID:            uuid.New().String(),
		FlowID:        fl.ID,
		ContactID:     contact.ID,
		ContactFlowID: contactFlowID,
		Status:        models.FlowRunRunning,
		StartedAt:     time.Now().UTC(),
	}
	if err := r.store.CreateFlowExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating flow execution: %w", err)
	}

	r.walk(ctx, contact, fl, exec)

	now := time.Now().UTC()
	exec.CompletedAt = &now
	if err := r.store.UpdateFlowExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("updating flow execution: %w", err)
	}

	if exec.Status == models.FlowRunCompleted && contactFlowID != "" {
		r.bumpContactFlow(ctx, contactFlowID, now)
	}

	log.Info().
		Str("contact_id", contact.ID).
		Str("flow_id", fl.ID).
		Str("status", string(exec.Status)).
		Int("nodes", len(exec.Nodes)).
		Msg("Flow run finished")
	return exec, nil
}

// walk traverses the graph breadth-first and fills in the trace. It sets
// the final run status on exec but does not persist it.
func (r *Runner) walk(ctx context.Context, contact *models.Contact, fl *models.Flow, exec *models.FlowExecution) {
	if len(fl.Nodes) == 0 {
		exec.Status = models.FlowRunCompleted
		return
	}

	nodes := make(map[string]models.FlowNode, len(fl.Nodes))
	for _, n := range fl.Nodes {
		nodes[n.ID] = n
	}
	next := make(map[string][]string, len(fl.Edges))
	for _, e := range fl.Edges {
		next[e.Source] = append(next[e.Source], e.Target)
	}

	start := fl.Nodes[0].ID
	for _, n := range fl.Nodes {
		if n.Type == models.NodeTrigger {
			start = n.ID
			break
		}
	}

	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node, ok := nodes[id]
		if !ok {
			// dangling edge target
			continue
		}

		result := r.runNode(ctx, contact, fl, node)
		exec.Nodes = append(exec.Nodes, result)

		if result.Status == models.NodeFailed {
			exec.Status = models.FlowRunFailed
			exec.Error = fmt.Sprintf("node %s: %s", node.ID, result.Error)
			return
		}

		for _, target := range next[id] {
			if visited[target] {
				continue
			}
			visited[target] = true
			queue = append(queue, target)
		}
	}

	exec.Status = models.FlowRunCompleted
}

func (r *Runner) runNode(ctx context.Context, contact *models.Contact, fl *models.Flow, node models.FlowNode) models.NodeResult {
	result := models.NodeResult{
		NodeID:     node.ID,
		Type:       node.Type,
		Label:      node.Label,
		Status:     models.NodeCompleted,
		ExecutedAt: time.Now().UTC(),
	}

	switch node.Type {
	case models.NodeTrigger:
		// The entry node. In a manual run it has already fired.
		result.Detail = map[string]any{"event": cfgString(node.Config, "event")}

	case models.NodeAction:
		detail, err := r.runActionNode(ctx, contact.ID, fl.Name, node)
		if err != nil {
			result.Status = models.NodeFailed
			result.Error = err.Error()
			return result
		}
		result.Detail = detail

	case models.NodeCondition:
		matched, err := r.evalConditionNode(ctx, contact, node)
		if err != nil {
			result.Status = models.NodeFailed
			result.Error = err.Error()
			return result
		}
		// The outcome is informational: traversal continues down every
		// outgoing edge either way.
		result.Detail = map[string]any{"matched": matched}

	case models.NodeDelay:
		result.Status = models.NodeSkipped
		result.Detail = map[string]any{"note": "delay skipped in manual run"}

	case models.NodeAI:
		result.Status = models.NodeProcessed
		result.Detail = map[string]any{"prompt": cfgString(node.Config, "prompt")}

	default:
		result.Status = models.NodeFailed
		result.Error = fmt.Sprintf("unknown node type: %q", node.Type)
	}

	return result
}

func (r *Runner) runActionNode(ctx context.Context, contactID, flowName string, node models.FlowNode) (map[string]any, error) {
	a := models.Action{Config: node.Config}
	if t := cfgString(node.Config, "action_type"); t != "" {
		a.Type = models.ActionType(t)
	} else if t := cfgString(node.Config, "type"); t != "" {
		a.Type = models.ActionType(t)
	}
	if a.Type == "" {
		return nil, fmt.Errorf("action node %s has no action_type", node.ID)
	}
	return r.actions.Apply(ctx, contactID, fmt.Sprintf("flow %q", flowName), a)
}

// evalConditionNode evaluates a condition node. A node with an
// "expression" entry in its config is compiled and run with expr; the
// expression must yield a boolean. Otherwise the node's field, operator
// and value entries are evaluated as a single leaf against the contact.
func (r *Runner) evalConditionNode(ctx context.Context, contact *models.Contact, node models.FlowNode) (bool, error) {
	if src := cfgString(node.Config, "expression"); src != "" {
		return r.evalExpression(ctx, contact, src)
	}

	cond := &models.Condition{
		Field:    cfgString(node.Config, "field"),
		Operator: strings.ToLower(cfgString(node.Config, "operator")),
		Value:    node.Config["value"],
	}
	if cond.Field == "" || cond.Operator == "" {
		return false, fmt.Errorf("condition node %s has neither an expression nor a field/operator pair", node.ID)
	}
	matched, _ := trigger.EvalCondition(cond, &trigger.Env{Contact: contact})
	return matched, nil
}

func (r *Runner) evalExpression(ctx context.Context, contact *models.Contact, src string) (bool, error) {
	variables, err := r.store.ListCurrentVariables(ctx, contact.ID)
	if err != nil {
		return false, fmt.Errorf("loading variables: %w", err)
	}
	vars := make(map[string]any, len(variables))
	for _, v := range variables {
		vars[strings.ToLower(v.Name)] = v.Value
	}

	env := map[string]any{
		"contact":   contact,
		"variables": vars,
	}
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compiling expression: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluating expression: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not yield a boolean")
	}
	return matched, nil
}

func (r *Runner) bumpContactFlow(ctx context.Context, contactFlowID string, ranAt time.Time) {
	cf, err := r.store.GetContactFlow(ctx, contactFlowID)
	if err != nil {
		log.Warn().Err(err).Str("contact_flow_id", contactFlowID).Msg("Failed to load contact flow for bookkeeping")
		return
	}
	cf.ExecutionCount++
	cf.LastRunAt = &ranAt
	if err := r.store.UpdateContactFlow(ctx, cf); err != nil {
		log.Warn().Err(err).Str("contact_flow_id", contactFlowID).Msg("Failed to update contact flow bookkeeping")
	}
}

func cfgString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	s, _ := cfg[key].(string)
	return s
}
