// Package store provides the storage interface and implementations for the
// LoopCRM automation engine. The memory store backs tests and zero-config
// runs; the sqlite store is the persistent backend.
package store

import (
	"context"
	"time"

	"github.com/loopcrm/engine/pkg/models"
)

// Store is the primary storage interface for the engine. All engine and
// handler code depends on this interface, making it easy to swap between
// in-memory (tests) and SQLite (production) implementations.
type Store interface {
	ContactStore
	InteractionStore
	VariableStore
	TriggerStore
	ExecutionStore
	TaskStore
	ScoreEventStore
	NotificationStore
	AlliedIndustryStore
	FlowStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Contact Store ────────────────────────────────────────────

type ContactStore interface {
	ListContacts(ctx context.Context, limit int) ([]models.Contact, error)
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	// FindContact looks a contact up by phone or email, whichever is set.
	FindContact(ctx context.Context, phone, email string) (*models.Contact, error)
	CreateContact(ctx context.Context, contact *models.Contact) error
	UpdateContact(ctx context.Context, contact *models.Contact) error
	DeleteContact(ctx context.Context, id string) error
}

// ── Interaction Store ────────────────────────────────────────

// InteractionStore is append-only: interactions are immutable once written.
type InteractionStore interface {
	CreateInteraction(ctx context.Context, in *models.Interaction) error
	// ListInteractions returns a contact's interactions newest-first,
	// up to limit (0 = all).
	ListInteractions(ctx context.Context, contactID string, limit int) ([]models.Interaction, error)
}

// ── Variable Store ───────────────────────────────────────────

type VariableStore interface {
	// SetCurrentVariable demotes any existing current row for
	// (contact, name) and inserts v as the new current record, atomically
	// with respect to other writers.
	SetCurrentVariable(ctx context.Context, v *models.Variable) error

	// ListCurrentVariables returns the current value of every variable
	// known for the contact.
	ListCurrentVariables(ctx context.Context, contactID string) ([]models.Variable, error)

	// ListVariableHistory returns all versions of one variable, newest first.
	ListVariableHistory(ctx context.Context, contactID, name string) ([]models.Variable, error)
}

// ── Trigger Store ────────────────────────────────────────────

type TriggerStore interface {
	ListTriggers(ctx context.Context) ([]models.Trigger, error)
	// ListActiveTriggersByEvent returns active triggers for the event,
	// ordered by priority descending.
	ListActiveTriggersByEvent(ctx context.Context, event models.TriggerEvent) ([]models.Trigger, error)
	GetTrigger(ctx context.Context, id string) (*models.Trigger, error)
	CreateTrigger(ctx context.Context, trigger *models.Trigger) error
	UpdateTrigger(ctx context.Context, trigger *models.Trigger) error
	DeleteTrigger(ctx context.Context, id string) error
}

// ── Execution Store ──────────────────────────────────────────

// ExecutionStore persists the append-only trigger execution audit trail,
// which is also the cooldown and execution-cap source of truth.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.TriggerExecution) error
	// LatestExecution returns the most recent execution for the pair, or
	// ErrNotFound if the trigger has never run for the contact.
	LatestExecution(ctx context.Context, contactID, triggerID string) (*models.TriggerExecution, error)
	CountExecutions(ctx context.Context, contactID, triggerID string) (int, error)
	ListExecutions(ctx context.Context, contactID string, limit int) ([]models.TriggerExecution, error)
}

// ── Task Store ───────────────────────────────────────────────

type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context, contactID string) ([]models.Task, error)
}

// ── Score Event Store ────────────────────────────────────────

type ScoreEventStore interface {
	CreateScoreEvent(ctx context.Context, event *models.ScoreEvent) error
	ListScoreEvents(ctx context.Context, contactID string, limit int) ([]models.ScoreEvent, error)
}

// ── Notification Store ───────────────────────────────────────

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, contactID string) ([]models.Notification, error)
}

// ── Allied Industry Store ────────────────────────────────────

// AlliedIndustryStore holds cross-sell relationship configuration.
type AlliedIndustryStore interface {
	GetAlliedIndustry(ctx context.Context, id string) (*models.AlliedIndustry, error)
	ListAlliedIndustries(ctx context.Context) ([]models.AlliedIndustry, error)
	CreateAlliedIndustry(ctx context.Context, ai *models.AlliedIndustry) error
}

// ── Flow Store ───────────────────────────────────────────────

type FlowStore interface {
	ListFlows(ctx context.Context) ([]models.Flow, error)
	GetFlow(ctx context.Context, id string) (*models.Flow, error)
	CreateFlow(ctx context.Context, flow *models.Flow) error
	UpdateFlow(ctx context.Context, flow *models.Flow) error
	DeleteFlow(ctx context.Context, id string) error

	CreateFlowExecution(ctx context.Context, exec *models.FlowExecution) error
	UpdateFlowExecution(ctx context.Context, exec *models.FlowExecution) error
	GetFlowExecution(ctx context.Context, id string) (*models.FlowExecution, error)

	GetContactFlow(ctx context.Context, id string) (*models.ContactFlow, error)
	ListContactFlows(ctx context.Context, contactID string) ([]models.ContactFlow, error)
	// ListFlowAssignments returns every contact assignment of one flow.
	ListFlowAssignments(ctx context.Context, flowID string) ([]models.ContactFlow, error)
	CreateContactFlow(ctx context.Context, cf *models.ContactFlow) error
	UpdateContactFlow(ctx context.Context, cf *models.ContactFlow) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ── Filter helpers ──────────────────────────────────────────

// ListFilter provides common pagination/filter options.
type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
}
