package models

import "time"

// ── Flow graph ───────────────────────────────────────────────

type NodeType string

const (
	NodeTrigger   NodeType = "trigger"
	NodeAction    NodeType = "action"
	NodeCondition NodeType = "condition"
	NodeDelay     NodeType = "delay"
	NodeAI        NodeType = "ai"
)

// Flow is a user-authored automation graph, run on demand for one contact.
type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	Nodes       []FlowNode `json:"nodes"`
	Edges       []FlowEdge `json:"edges"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FlowNode is one node in the graph. X/Y are editor display coordinates and
// play no part in execution.
type FlowNode struct {
	ID     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
	X      float64        `json:"x,omitempty"`
	Y      float64        `json:"y,omitempty"`
}

// FlowEdge is a directed edge between two nodes.
type FlowEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// ── Flow execution trace ─────────────────────────────────────

type FlowRunStatus string

const (
	FlowRunRunning   FlowRunStatus = "running"
	FlowRunCompleted FlowRunStatus = "completed"
	FlowRunFailed    FlowRunStatus = "failed"
)

// Node result statuses.
const (
	NodeCompleted = "completed"
	NodeFailed    = "failed"
	NodeSkipped   = "skipped"
	NodeProcessed = "processed"
)

// FlowExecution captures one run of a flow for one contact.
type FlowExecution struct {
	ID            string        `json:"id"`
	FlowID        string        `json:"flow_id"`
	ContactID     string        `json:"contact_id"`
	ContactFlowID string        `json:"contact_flow_id,omitempty"`
	Status        FlowRunStatus `json:"status"`
	Nodes         []NodeResult  `json:"nodes"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// NodeResult is the outcome of one visited node.
type NodeResult struct {
	NodeID     string         `json:"node_id"`
	Type       NodeType       `json:"type"`
	Label      string         `json:"label,omitempty"`
	Status     string         `json:"status"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// ContactFlow assigns a flow to a contact with run bookkeeping.
type ContactFlow struct {
	ID             string     `json:"id"`
	ContactID      string     `json:"contact_id"`
	FlowID         string     `json:"flow_id"`
	Enabled        bool       `json:"enabled"`
	Priority       int        `json:"priority"`
	ExecutionCount int        `json:"execution_count"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}
