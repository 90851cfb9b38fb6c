// Package handlers implements the HTTP handlers for the LoopCRM automation
// engine. All handlers use the Store interface and the engine components
// (score computer, trigger evaluator, action executor, flow runner), so the
// same handlers serve both the memory and SQLite backends.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/loopcrm/engine/internal/action"
	"github.com/loopcrm/engine/internal/contactlock"
	"github.com/loopcrm/engine/internal/flow"
	"github.com/loopcrm/engine/internal/scoring"
	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/internal/trigger"
	"github.com/loopcrm/engine/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Scores   *scoring.Computer
	Triggers *trigger.Evaluator
	Actions  *action.Executor
	Flows    *flow.Runner
	Locks    *contactlock.Keyed
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, batchLimit, workers int) *Handlers {
	exec := action.NewExecutor(s)
	locks := contactlock.New()
	return &Handlers{
		Store:    s,
		Scores:   scoring.NewComputer(s, locks, batchLimit, workers),
		Triggers: trigger.NewEvaluator(s),
		Actions:  exec,
		Flows:    flow.NewRunner(s, exec),
		Locks:    locks,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Score computation ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ComputeScores recomputes heuristic scores: for one contact when
// contact_id is set, for every contact when compute_all is set. Scoring
// never fires triggers; the stages are independently invocable.
func (h *Handlers) ComputeScores(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID  string `json:"contact_id"`
		ComputeAll bool   `json:"compute_all"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ContactID == "" && !req.ComputeAll {
		respondError(w, http.StatusBadRequest, "contact_id or compute_all is required")
		return
	}

	if req.ComputeAll {
		batch, err := h.Scores.ComputeAll(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"processed":      batch.Processed,
			"triggers_fired": 0,
			"tasks_created":  0,
			"errors":         batch.Errors,
		})
		return
	}

	h.Locks.Lock(req.ContactID)
	scores, err := h.Scores.Compute(r.Context(), req.ContactID)
	h.Locks.Unlock(req.ContactID)
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"processed":      1,
		"triggers_fired": 0,
		"tasks_created":  0,
		"errors":         []string{},
		"scores":         scores,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Trigger evaluation ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// EvaluateTriggers evaluates the active rules for an event against one
// contact. Pure read: nothing executes, nothing is written.
func (h *Handlers) EvaluateTriggers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string         `json:"contact_id"`
		Event     string         `json:"trigger_event"`
		EventData map[string]any `json:"event_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ContactID == "" || req.Event == "" {
		respondError(w, http.StatusBadRequest, "contact_id and trigger_event are required")
		return
	}

	eval, err := h.Triggers.Evaluate(r.Context(), req.ContactID, models.TriggerEvent(req.Event), req.EventData)
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	pending := eval.Pending
	if pending == nil {
		pending = []trigger.PendingAction{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"triggers_evaluated": eval.TriggersEvaluated,
		"actions_to_execute": pending,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Action execution ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ExecuteAction runs one action and records the audit row. Failures come
// back as success=false with an error string, not as an HTTP error; only a
// malformed request is a 4xx.
func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID         string                  `json:"contact_id"`
		TriggerID         string                  `json:"trigger_id"`
		TriggerName       string                  `json:"trigger_name"`
		Action            models.Action           `json:"action"`
		MatchedConditions []models.ConditionMatch `json:"matched_conditions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ContactID == "" {
		respondError(w, http.StatusBadRequest, "contact_id is required")
		return
	}

	h.Locks.Lock(req.ContactID)
	result := h.Actions.Execute(r.Context(), req.ContactID, req.TriggerID, req.TriggerName, req.Action, req.MatchedConditions)
	h.Locks.Unlock(req.ContactID)

	respondJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════
// ── Flow runs ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) RunFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	var req struct {
		ContactID     string `json:"contact_id"`
		ContactFlowID string `json:"contact_flow_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ContactID == "" {
		respondError(w, http.StatusBadRequest, "contact_id is required")
		return
	}

	h.Locks.Lock(req.ContactID)
	exec, err := h.Flows.Run(r.Context(), req.ContactID, flowID, req.ContactFlowID)
	h.Locks.Unlock(req.ContactID)
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	resp := map[string]any{
		"success":        exec.Status == models.FlowRunCompleted,
		"execution_id":   exec.ID,
		"status":         exec.Status,
		"nodes_executed": len(exec.Nodes),
	}
	if exec.Error != "" {
		resp["error"] = exec.Error
	}
	respondJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════
// ── Ingestion ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type ingestContact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	UserType string `json:"user_type"`
	Industry string `json:"industry"`
}

type ingestRequest struct {
	Contact        ingestContact     `json:"contact"`
	Channel        string            `json:"channel"`
	Direction      models.Direction  `json:"direction"`
	Sentiment      string            `json:"sentiment"`
	SentimentScore float64           `json:"sentiment_score"`
	Intents        []string          `json:"intents"`
	Entities       map[string]any    `json:"entities"`
	Summary        string            `json:"summary"`
	DurationSecs   int               `json:"duration_secs"`
	OccurredAt     *time.Time        `json:"occurred_at"`
	Variables      map[string]string `json:"variables"`
}

// IngestInteraction is the collaborator entry point: an upstream channel
// processor posts one analyzed interaction. The contact is located by phone
// or email (created when unknown), the interaction and variables are
// recorded, and unless ?chain=false the scoring and trigger stages run
// in-process while the contact's lock is held. Chain-stage failures are
// logged but never fail the ingestion itself.
func (h *Handlers) IngestInteraction(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Channel == "" {
		respondError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if req.Contact.Phone == "" && req.Contact.Email == "" {
		respondError(w, http.StatusBadRequest, "contact phone or email is required")
		return
	}
	if req.Direction == "" {
		req.Direction = models.DirectionInbound
	}

	ctx := r.Context()

	// Serialize contact resolution on the identity key so two concurrent
	// ingests for the same unknown contact cannot both create one.
	identity := req.Contact.Phone + "|" + req.Contact.Email
	h.Locks.Lock(identity)
	contact, err := h.resolveContact(r, req.Contact)
	h.Locks.Unlock(identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Locks.Lock(contact.ID)
	defer h.Locks.Unlock(contact.ID)

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	interaction := &models.Interaction{
		ID:             uuid.New().String(),
		ContactID:      contact.ID,
		Channel:        req.Channel,
		Direction:      req.Direction,
		Sentiment:      req.Sentiment,
		SentimentScore: req.SentimentScore,
		Intents:        req.Intents,
		Entities:       req.Entities,
		Summary:        req.Summary,
		DurationSecs:   req.DurationSecs,
		OccurredAt:     occurredAt,
	}
	if err := h.Store.CreateInteraction(ctx, interaction); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for name, value := range req.Variables {
		v := &models.Variable{
			ID:            uuid.New().String(),
			ContactID:     contact.ID,
			Name:          name,
			Value:         value,
			SourceChannel: req.Channel,
			IsCurrent:     true,
			CreatedAt:     time.Now().UTC(),
		}
		if err := h.Store.SetCurrentVariable(ctx, v); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	contact.InteractionCount++
	contact.LastInteractionAt = &occurredAt
	contact.LastChannel = req.Channel
	contact.UpdatedAt = time.Now().UTC()
	if err := h.Store.UpdateContact(ctx, contact); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"contact_id":     contact.ID,
		"interaction_id": interaction.ID,
		"triggers_fired": 0,
	}

	if r.URL.Query().Get("chain") != "false" {
		scores, fired := h.runIngestChain(ctx, contact.ID, req)
		if scores != nil {
			resp["scores"] = scores
		}
		resp["triggers_fired"] = fired
	}

	log.Info().
		Str("contact_id", contact.ID).
		Str("channel", req.Channel).
		Str("interaction_id", interaction.ID).
		Msg("Interaction ingested")
	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) resolveContact(r *http.Request, in ingestContact) (*models.Contact, error) {
	ctx := r.Context()
	contact, err := h.Store.FindContact(ctx, in.Phone, in.Email)
	if err == nil {
		return contact, nil
	}
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		return nil, err
	}

	name := in.Name
	if name == "" {
		name = "Unknown"
	}
	contact = &models.Contact{
		ID:             uuid.New().String(),
		Name:           name,
		Company:        in.Company,
		Phone:          in.Phone,
		Email:          in.Email,
		UserType:       in.UserType,
		Industry:       in.Industry,
		LifecycleStage: models.StageLead,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := h.Store.CreateContact(ctx, contact); err != nil {
		return nil, err
	}
	log.Info().Str("contact_id", contact.ID).Str("name", contact.Name).Msg("Contact created from ingestion")
	return contact, nil
}

// runIngestChain runs scoring and trigger evaluation+execution after an
// ingest. The caller already holds the contact's lock. Errors are logged
// and swallowed so they never fail the ingestion.
func (h *Handlers) runIngestChain(ctx context.Context, contactID string, req ingestRequest) (*models.ScoreSet, int) {
	scores, err := h.Scores.Compute(ctx, contactID)
	if err != nil {
		log.Warn().Err(err).Str("contact_id", contactID).Msg("Chained score computation failed")
	}

	payload := map[string]any{
		"channel":   req.Channel,
		"direction": string(req.Direction),
		"sentiment": req.Sentiment,
		"intents":   req.Intents,
	}
	eval, err := h.Triggers.Evaluate(ctx, contactID, models.EventNewInteraction, payload)
	if err != nil {
		log.Warn().Err(err).Str("contact_id", contactID).Msg("Chained trigger evaluation failed")
		return scores, 0
	}

	fired := 0
	for _, p := range eval.Pending {
		result := h.Actions.Execute(ctx, contactID, p.TriggerID, p.TriggerName, p.Action, p.MatchedConditions)
		if result.Success {
			fired++
		}
	}
	return scores, fired
}

// ── Response helpers ─────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondNotFoundOr500(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
	} else {
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
