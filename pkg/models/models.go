// Package models defines the domain model for the LoopCRM automation engine:
// contacts, their interaction history and extracted variables, declarative
// triggers with their execution audit trail, and the flow graph types.
package models

import "time"

// ── Contact ──────────────────────────────────────────────────

// LifecycleStage is the contact's position in the pipeline.
type LifecycleStage string

const (
	StageLead        LifecycleStage = "lead"
	StageQualified   LifecycleStage = "qualified"
	StageOpportunity LifecycleStage = "opportunity"
	StageCustomer    LifecycleStage = "customer"
	StageChurned     LifecycleStage = "churned"
)

// ValidLifecycleStage reports whether s is one of the known pipeline stages.
func ValidLifecycleStage(s LifecycleStage) bool {
	switch s {
	case StageLead, StageQualified, StageOpportunity, StageCustomer, StageChurned:
		return true
	}
	return false
}

// Contact is the central customer/lead record. Scores are written only by
// the score computer and the update_score action; counters and
// last-interaction metadata are written by ingestion.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`

	UserType       string         `json:"user_type,omitempty"` // enterprise, investor, founder, developer, ...
	Industry       string         `json:"industry,omitempty"`
	LifecycleStage LifecycleStage `json:"lifecycle_stage"`

	IntentScore     int     `json:"intent_score"`     // 0–100
	UrgencyScore    int     `json:"urgency_score"`    // 0–100
	EngagementScore int     `json:"engagement_score"` // 0–100
	ChurnRisk       int     `json:"churn_risk"`       // 0–100
	LifetimeValue   float64 `json:"lifetime_value"`   // monetary estimate, ≥ 0

	InteractionCount  int        `json:"interaction_count"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	LastChannel       string     `json:"last_channel,omitempty"`

	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ── Interaction ──────────────────────────────────────────────

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Interaction is one logged communication event. Append-only: created by
// ingestion, read-only to the engine.
type Interaction struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Channel   string    `json:"channel"` // call, email, sms, chat, ...
	Direction Direction `json:"direction"`

	Sentiment      string  `json:"sentiment,omitempty"` // positive, neutral, negative
	SentimentScore float64 `json:"sentiment_score,omitempty"`

	Intents  []string       `json:"intents,omitempty"` // e.g. purchase_intent, complaint
	Entities map[string]any `json:"entities,omitempty"`

	Summary      string    `json:"summary,omitempty"`
	DurationSecs int       `json:"duration_secs,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ── Variable ─────────────────────────────────────────────────

// Variable is a named fact extracted about a contact, versioned via the
// is-current flag. At most one row per (contact, name) has IsCurrent=true;
// the store's SetCurrentVariable enforces that.
type Variable struct {
	ID            string    `json:"id"`
	ContactID     string    `json:"contact_id"`
	Name          string    `json:"name"` // budget, timeline, ...
	Value         string    `json:"value"`
	Type          string    `json:"type,omitempty"` // text, number, date
	Confidence    float64   `json:"confidence"`     // 0–1
	SourceChannel string    `json:"source_channel,omitempty"`
	IsCurrent     bool      `json:"is_current"`
	CreatedAt     time.Time `json:"created_at"`
}

// ── Trigger ──────────────────────────────────────────────────

// TriggerEvent is the event kind a trigger listens to.
type TriggerEvent string

const (
	EventNewInteraction  TriggerEvent = "new_interaction"
	EventScoreChange     TriggerEvent = "score_change"
	EventLifecycleChange TriggerEvent = "lifecycle_change"
	EventManual          TriggerEvent = "manual"
)

// Trigger is a declarative rule: when its event fires and its condition tree
// matches, its actions run. Cooldown and the per-contact execution cap are
// enforced against the TriggerExecution history.
type Trigger struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Event     TriggerEvent `json:"trigger_event"`
	Condition *Condition   `json:"conditions,omitempty"` // nil matches everything
	Actions   []Action     `json:"actions"`
	Priority  int          `json:"priority"` // higher evaluated first

	CooldownMinutes int  `json:"cooldown_minutes,omitempty"` // 0 = no throttling
	MaxExecutions   int  `json:"max_executions_per_contact,omitempty"` // 0 = uncapped
	Active          bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ── Action ───────────────────────────────────────────────────

type ActionType string

const (
	ActionCreateTask            ActionType = "create_task"
	ActionUpdateLifecycle       ActionType = "update_lifecycle"
	ActionTagContact            ActionType = "tag_contact"
	ActionUpdateScore           ActionType = "update_score"
	ActionAlliedIndustryTrigger ActionType = "allied_industry_trigger"
	ActionSendNotification      ActionType = "send_notification"
)

// ScoreOperation selects how update_score applies its amount.
type ScoreOperation string

const (
	ScoreOpSet      ScoreOperation = "set"
	ScoreOpAdd      ScoreOperation = "add"
	ScoreOpSubtract ScoreOperation = "subtract"
)

// Action is one typed effect in a trigger's action list (or a flow action
// node). Older rule definitions nest settings under Config; Flatten merges
// those over the flat fields before dispatch.
type Action struct {
	Type ActionType `json:"type"`

	// create_task
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	TaskType    string `json:"task_type,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AIGenerated bool   `json:"ai_generated,omitempty"`

	// update_lifecycle
	Stage LifecycleStage `json:"stage,omitempty"`

	// tag_contact
	Tags []string `json:"tags,omitempty"`

	// update_score
	Score     string         `json:"score,omitempty"` // intent, engagement, urgency, churn_risk
	Operation ScoreOperation `json:"operation,omitempty"`
	Amount    int            `json:"amount,omitempty"`

	// allied_industry_trigger
	RelationshipID string `json:"relationship_id,omitempty"`

	// send_notification
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`

	// Nested configuration, merged over the flat fields by Flatten.
	Config map[string]any `json:"config,omitempty"`
}

// ── Trigger execution audit ──────────────────────────────────

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// TriggerExecution is the append-only audit record written once per action
// execution attempt. It doubles as the cooldown and execution-cap source of
// truth.
type TriggerExecution struct {
	ID          string          `json:"id"`
	TriggerID   string          `json:"trigger_id"`
	TriggerName string          `json:"trigger_name"`
	ContactID   string          `json:"contact_id"`
	Status      ExecutionStatus `json:"status"`

	MatchedConditions []ConditionMatch `json:"matched_conditions,omitempty"`
	Action            Action           `json:"action"`
	Result            map[string]any   `json:"result,omitempty"`
	Error             string           `json:"error,omitempty"`

	ExecutedAt time.Time `json:"executed_at"`
}

// ── Task ─────────────────────────────────────────────────────

// Task is a follow-up item created by the create_task and
// allied_industry_trigger actions.
type Task struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contact_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"` // follow_up, cross_sell, ...
	Priority    string    `json:"priority,omitempty"`
	DueAt       time.Time `json:"due_at"`
	AIGenerated bool      `json:"ai_generated"`
	Reason      string    `json:"reason,omitempty"`
	Status      string    `json:"status"` // open, done
	CreatedAt   time.Time `json:"created_at"`
}

// ── Score audit ──────────────────────────────────────────────

type ScoreSource string

const (
	ScoreSourceComputed ScoreSource = "computed"
	ScoreSourceManual   ScoreSource = "manual"
)

// ScoreEvent records one score change with the factors that produced it.
// The score computer writes one per score type per run; the update_score
// action writes manual ones.
type ScoreEvent struct {
	ID        string      `json:"id"`
	ContactID string      `json:"contact_id"`
	ScoreType string      `json:"score_type"` // intent, urgency, engagement, churn_risk, ltv
	OldValue  float64     `json:"old_value"`
	NewValue  float64     `json:"new_value"`
	Factors   []string    `json:"factors,omitempty"`
	Source    ScoreSource `json:"source"`
	CreatedAt time.Time   `json:"created_at"`
}

// ScoreSet is the result of one score computation.
type ScoreSet struct {
	Intent     int     `json:"intent"`
	Urgency    int     `json:"urgency"`
	Engagement int     `json:"engagement"`
	ChurnRisk  int     `json:"churn_risk"`
	LTV        float64 `json:"ltv"`
}

// ── Cross-sell configuration ─────────────────────────────────

// AlliedIndustry is a configured cross-sell relationship between industries.
// Read-only to the engine; the allied_industry_trigger action resolves one
// by ID and creates a cross-sell task against it.
type AlliedIndustry struct {
	ID              string `json:"id"`
	SourceIndustry  string `json:"source_industry"`
	PartnerIndustry string `json:"partner_industry"`
	Pitch           string `json:"pitch,omitempty"`
	Priority        string `json:"priority,omitempty"`
}

// ── Notification intent ──────────────────────────────────────

// Notification is a queued notify intent. Delivery belongs to an external
// collaborator; the engine only records it.
type Notification struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	Status    string    `json:"status"` // queued
	CreatedAt time.Time `json:"created_at"`
}
