package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/loopcrm/engine/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Contact Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	contacts, err := h.Store.ListContacts(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	respondJSON(w, http.StatusOK, contacts)
}

func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req models.Contact
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.LifecycleStage == "" {
		req.LifecycleStage = models.StageLead
	}
	if !models.ValidLifecycleStage(req.LifecycleStage) {
		respondError(w, http.StatusBadRequest, "invalid lifecycle_stage")
		return
	}

	req.ID = uuid.New().String()
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.CreateContact(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("contact_id", req.ID).Str("name", req.Name).Msg("Contact created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	contact, err := h.Store.GetContact(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, contact)
}

// UpdateContact replaces the contact's editable identity fields. Scores and
// interaction counters belong to the engine and keep their stored values.
func (h *Handlers) UpdateContact(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	existing, err := h.Store.GetContact(r.Context(), contactID)
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	var req models.Contact
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.LifecycleStage != "" && !models.ValidLifecycleStage(req.LifecycleStage) {
		respondError(w, http.StatusBadRequest, "invalid lifecycle_stage")
		return
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Company != "" {
		existing.Company = req.Company
	}
	if req.Phone != "" {
		existing.Phone = req.Phone
	}
	if req.Email != "" {
		existing.Email = req.Email
	}
	if req.UserType != "" {
		existing.UserType = req.UserType
	}
	if req.Industry != "" {
		existing.Industry = req.Industry
	}
	if req.LifecycleStage != "" {
		existing.LifecycleStage = req.LifecycleStage
	}
	if req.Tags != nil {
		existing.Tags = req.Tags
	}

	h.Locks.Lock(contactID)
	err = h.Store.UpdateContact(r.Context(), existing)
	h.Locks.Unlock(contactID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

func (h *Handlers) DeleteContact(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	if err := h.Store.DeleteContact(r.Context(), contactID); err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	log.Info().Str("contact_id", contactID).Msg("Contact deleted")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "contact_id": contactID})
}

// ── Contact sub-resources ────────────────────────────────────

func (h *Handlers) ListContactVariables(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	if name := r.URL.Query().Get("name"); name != "" {
		history, err := h.Store.ListVariableHistory(r.Context(), contactID, name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if history == nil {
			history = []models.Variable{}
		}
		respondJSON(w, http.StatusOK, history)
		return
	}

	variables, err := h.Store.ListCurrentVariables(r.Context(), contactID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if variables == nil {
		variables = []models.Variable{}
	}
	respondJSON(w, http.StatusOK, variables)
}

func (h *Handlers) SetContactVariable(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")

	var req models.Variable
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	if _, err := h.Store.GetContact(r.Context(), contactID); err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	req.ID = uuid.New().String()
	req.ContactID = contactID
	req.IsCurrent = true
	req.CreatedAt = time.Now().UTC()

	h.Locks.Lock(contactID)
	err := h.Store.SetCurrentVariable(r.Context(), &req)
	h.Locks.Unlock(contactID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) ListContactInteractions(w http.ResponseWriter, r *http.Request) {
	interactions, err := h.Store.ListInteractions(r.Context(), chi.URLParam(r, "contactID"), queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if interactions == nil {
		interactions = []models.Interaction{}
	}
	respondJSON(w, http.StatusOK, interactions)
}

func (h *Handlers) ListContactTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) ListContactScoreHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.ListScoreEvents(r.Context(), chi.URLParam(r, "contactID"), queryInt(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []models.ScoreEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handlers) ListContactExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := h.Store.ListExecutions(r.Context(), chi.URLParam(r, "contactID"), queryInt(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if executions == nil {
		executions = []models.TriggerExecution{}
	}
	respondJSON(w, http.StatusOK, executions)
}

// ══════════════════════════════════════════════════════════════
// ── Trigger Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.Store.ListTriggers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if triggers == nil {
		triggers = []models.Trigger{}
	}
	respondJSON(w, http.StatusOK, triggers)
}

func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req models.Trigger
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Event == "" {
		respondError(w, http.StatusBadRequest, "name and trigger_event are required")
		return
	}
	if len(req.Actions) == 0 {
		respondError(w, http.StatusBadRequest, "at least one action is required")
		return
	}

	req.ID = uuid.New().String()
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.CreateTrigger(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("trigger", req.Name).Str("id", req.ID).Str("event", string(req.Event)).Msg("Trigger created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.GetTrigger(r.Context(), chi.URLParam(r, "triggerID"))
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *Handlers) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerID")
	existing, err := h.Store.GetTrigger(r.Context(), triggerID)
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	var req models.Trigger
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.ID = existing.ID
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateTrigger(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerID")
	if err := h.Store.DeleteTrigger(r.Context(), triggerID); err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "trigger_id": triggerID})
}

// ══════════════════════════════════════════════════════════════
// ── Flow Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.Store.ListFlows(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flows == nil {
		flows = []models.Flow{}
	}
	respondJSON(w, http.StatusOK, flows)
}

func (h *Handlers) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req models.Flow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	req.ID = uuid.New().String()
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.CreateFlow(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("flow", req.Name).Str("id", req.ID).Int("nodes", len(req.Nodes)).Msg("Flow created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	fl, err := h.Store.GetFlow(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fl)
}

func (h *Handlers) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	existing, err := h.Store.GetFlow(r.Context(), flowID)
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	var req models.Flow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.ID = existing.ID
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateFlow(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	if err := h.Store.DeleteFlow(r.Context(), flowID); err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "flow_id": flowID})
}

// ── Flow assignments ─────────────────────────────────────────

func (h *Handlers) ListFlowAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Store.ListFlowAssignments(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if assignments == nil {
		assignments = []models.ContactFlow{}
	}
	respondJSON(w, http.StatusOK, assignments)
}

func (h *Handlers) AssignFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	if _, err := h.Store.GetFlow(r.Context(), flowID); err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	var req struct {
		ContactID string `json:"contact_id"`
		Enabled   *bool  `json:"enabled"`
		Priority  int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ContactID == "" {
		respondError(w, http.StatusBadRequest, "contact_id is required")
		return
	}
	if _, err := h.Store.GetContact(r.Context(), req.ContactID); err != nil {
		respondNotFoundOr500(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	cf := &models.ContactFlow{
		ID:        uuid.New().String(),
		ContactID: req.ContactID,
		FlowID:    flowID,
		Enabled:   enabled,
		Priority:  req.Priority,
	}
	if err := h.Store.CreateContactFlow(r.Context(), cf); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, cf)
}

// ══════════════════════════════════════════════════════════════
// ── Allied Industry Handlers ─────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAlliedIndustries(w http.ResponseWriter, r *http.Request) {
	industries, err := h.Store.ListAlliedIndustries(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if industries == nil {
		industries = []models.AlliedIndustry{}
	}
	respondJSON(w, http.StatusOK, industries)
}

func (h *Handlers) CreateAlliedIndustry(w http.ResponseWriter, r *http.Request) {
	var req models.AlliedIndustry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SourceIndustry == "" || req.PartnerIndustry == "" {
		respondError(w, http.StatusBadRequest, "source_industry and partner_industry are required")
		return
	}

	req.ID = uuid.New().String()
	if err := h.Store.CreateAlliedIndustry(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

// ── Query helpers ────────────────────────────────────────────

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
