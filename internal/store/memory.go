// In-memory Store implementation.
// Used as the zero-config default and by tests. Supports file-based
// snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loopcrm/engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Contacts       map[string]*models.Contact          `json:"contacts"`
	Interactions   map[string][]*models.Interaction    `json:"interactions"`    // key: contact_id
	Variables      map[string][]*models.Variable       `json:"variables"`       // key: contact_id, full history
	Triggers       map[string]*models.Trigger          `json:"triggers"`        // key: id
	Executions     map[string][]*models.TriggerExecution `json:"executions"`    // key: contact_id
	Tasks          map[string][]*models.Task           `json:"tasks"`           // key: contact_id
	ScoreEvents    map[string][]*models.ScoreEvent     `json:"score_events"`    // key: contact_id
	Notifications  map[string][]*models.Notification   `json:"notifications"`   // key: contact_id
	Allied         map[string]*models.AlliedIndustry   `json:"allied"`          // key: id
	Flows          map[string]*models.Flow             `json:"flows"`           // key: id
	FlowExecutions map[string]*models.FlowExecution    `json:"flow_executions"` // key: id
	ContactFlows   map[string]*models.ContactFlow      `json:"contact_flows"`   // key: id
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu             sync.RWMutex
	contacts       map[string]*models.Contact
	interactions   map[string][]*models.Interaction // key: contact_id, append order
	variables      map[string][]*models.Variable    // key: contact_id, full history
	triggers       map[string]*models.Trigger
	executions     map[string][]*models.TriggerExecution // key: contact_id
	tasks          map[string][]*models.Task
	scoreEvents    map[string][]*models.ScoreEvent
	notifications  map[string][]*models.Notification
	allied         map[string]*models.AlliedIndustry
	flows          map[string]*models.Flow
	flowExecutions map[string]*models.FlowExecution
	contactFlows   map[string]*models.ContactFlow

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty,
// data is persisted to a JSON snapshot file in that directory.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		contacts:       make(map[string]*models.Contact),
		interactions:   make(map[string][]*models.Interaction),
		variables:      make(map[string][]*models.Variable),
		triggers:       make(map[string]*models.Trigger),
		executions:     make(map[string][]*models.TriggerExecution),
		tasks:          make(map[string][]*models.Task),
		scoreEvents:    make(map[string][]*models.ScoreEvent),
		notifications:  make(map[string][]*models.Notification),
		allied:         make(map[string]*models.AlliedIndustry),
		flows:          make(map[string]*models.Flow),
		flowExecutions: make(map[string]*models.FlowExecution),
		contactFlows:   make(map[string]*models.ContactFlow),
		saveCh:         make(chan struct{}, 1),
		doneCh:         make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Contacts:       m.contacts,
		Interactions:   m.interactions,
		Variables:      m.variables,
		Triggers:       m.triggers,
		Executions:     m.executions,
		Tasks:          m.tasks,
		ScoreEvents:    m.scoreEvents,
		Notifications:  m.notifications,
		Allied:         m.allied,
		Flows:          m.flows,
		FlowExecutions: m.flowExecutions,
		ContactFlows:   m.contactFlows,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Contacts != nil {
		m.contacts = snap.Contacts
	}
	if snap.Interactions != nil {
		m.interactions = snap.Interactions
	}
	if snap.Variables != nil {
		m.variables = snap.Variables
	}
	if snap.Triggers != nil {
		m.triggers = snap.Triggers
	}
	if snap.Executions != nil {
		m.executions = snap.Executions
	}
	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.ScoreEvents != nil {
		m.scoreEvents = snap.ScoreEvents
	}
	if snap.Notifications != nil {
		m.notifications = snap.Notifications
	}
	if snap.Allied != nil {
		m.allied = snap.Allied
	}
	if snap.Flows != nil {
		m.flows = snap.Flows
	}
	if snap.FlowExecutions != nil {
		m.flowExecutions = snap.FlowExecutions
	}
	if snap.ContactFlows != nil {
		m.contactFlows = snap.ContactFlows
	}

	log.Info().
		Int("contacts", len(m.contacts)).
		Int("triggers", len(m.triggers)).
		Int("flows", len(m.flows)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}
	return nil
}

// ── Contact Store ────────────────────────────────────────────

func (m *MemoryStore) ListContacts(_ context.Context, limit int) ([]models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) GetContact(_ context.Context, id string) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "contact", Key: id}
	}
	copy := *c
	return &copy, nil
}

func (m *MemoryStore) FindContact(_ context.Context, phone, email string) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.contacts {
		if (phone != "" && c.Phone == phone) || (email != "" && c.Email == email) {
			copy := *c
			return &copy, nil
		}
	}
	return nil, &ErrNotFound{Entity: "contact", Key: phone + email}
}

func (m *MemoryStore) CreateContact(_ context.Context, contact *models.Contact) error {
	m.mu.Lock()
	copy := *contact
	m.contacts[contact.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateContact(_ context.Context, contact *models.Contact) error {
	m.mu.Lock()
	if _, ok := m.contacts[contact.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "contact", Key: contact.ID}
	}
	contact.UpdatedAt = time.Now().UTC()
	copy := *contact
	m.contacts[contact.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// DeleteContact removes the contact record. Its interaction, variable and
// execution history is kept; audit trails are append-only.
func (m *MemoryStore) DeleteContact(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.contacts[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "contact", Key: id}
	}
	delete(m.contacts, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Interaction Store ────────────────────────────────────────

func (m *MemoryStore) CreateInteraction(_ context.Context, in *models.Interaction) error {
	m.mu.Lock()
	copy := *in
	m.interactions[in.ContactID] = append(m.interactions[in.ContactID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListInteractions(_ context.Context, contactID string, limit int) ([]models.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.interactions[contactID]
	result := make([]models.Interaction, 0, len(list))
	for _, in := range list {
		result = append(result, *in)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OccurredAt.After(result[j].OccurredAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ── Variable Store ───────────────────────────────────────────

func (m *MemoryStore) SetCurrentVariable(_ context.Context, v *models.Variable) error {
	m.mu.Lock()
	// Demote the prior current record for this name, if any.
	for _, existing := range m.variables[v.ContactID] {
		if existing.Name == v.Name && existing.IsCurrent {
			existing.IsCurrent = false
		}
	}
	copy := *v
	copy.IsCurrent = true
	m.variables[v.ContactID] = append(m.variables[v.ContactID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListCurrentVariables(_ context.Context, contactID string) ([]models.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Variable
	for _, v := range m.variables[contactID] {
		if v.IsCurrent {
			result = append(result, *v)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListVariableHistory(_ context.Context, contactID, name string) ([]models.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Variable
	for _, v := range m.variables[contactID] {
		if v.Name == name {
			result = append(result, *v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// ── Trigger Store ────────────────────────────────────────────

func (m *MemoryStore) ListTriggers(_ context.Context) ([]models.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Priority > result[j].Priority })
	return result, nil
}

func (m *MemoryStore) ListActiveTriggersByEvent(_ context.Context, event models.TriggerEvent) ([]models.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Trigger
	for _, t := range m.triggers {
		if t.Active && t.Event == event {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Priority > result[j].Priority })
	return result, nil
}

func (m *MemoryStore) GetTrigger(_ context.Context, id string) (*models.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "trigger", Key: id}
	}
	copy := *t
	return &copy, nil
}

func (m *MemoryStore) CreateTrigger(_ context.Context, trigger *models.Trigger) error {
	m.mu.Lock()
	copy := *trigger
	m.triggers[trigger.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateTrigger(_ context.Context, trigger *models.Trigger) error {
	m.mu.Lock()
	if _, ok := m.triggers[trigger.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "trigger", Key: trigger.ID}
	}
	trigger.UpdatedAt = time.Now().UTC()
	copy := *trigger
	m.triggers[trigger.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTrigger(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.triggers[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "trigger", Key: id}
	}
	delete(m.triggers, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Execution Store ──────────────────────────────────────────

func (m *MemoryStore) CreateExecution(_ context.Context, exec *models.TriggerExecution) error {
	m.mu.Lock()
	copy := *exec
	m.executions[exec.ContactID] = append(m.executions[exec.ContactID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) LatestExecution(_ context.Context, contactID, triggerID string) (*models.TriggerExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.TriggerExecution
	for _, e := range m.executions[contactID] {
		if e.TriggerID != triggerID {
			continue
		}
		if latest == nil || e.ExecutedAt.After(latest.ExecutedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, &ErrNotFound{Entity: "trigger execution", Key: contactID + ":" + triggerID}
	}
	copy := *latest
	return &copy, nil
}

func (m *MemoryStore) CountExecutions(_ context.Context, contactID, triggerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.executions[contactID] {
		if e.TriggerID == triggerID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, contactID string, limit int) ([]models.TriggerExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.executions[contactID]
	result := make([]models.TriggerExecution, 0, len(list))
	for _, e := range list {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExecutedAt.After(result[j].ExecutedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ── Task Store ───────────────────────────────────────────────

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	copy := *task
	m.tasks[task.ContactID] = append(m.tasks[task.ContactID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, contactID string) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.tasks[contactID]
	result := make([]models.Task, 0, len(list))
	for _, t := range list {
		result = append(result, *t)
	}
	return result, nil
}

// ── Score Event Store ────────────────────────────────────────

func (m *MemoryStore) CreateScoreEvent(_ context.Context, event *models.ScoreEvent) error {
	m.mu.Lock()
	copy := *event
	m.scoreEvents[event.ContactID] = append(m.scoreEvents[event.ContactID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListScoreEvents(_ context.Context, contactID string, limit int) ([]models.ScoreEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.scoreEvents[contactID]
	result := make([]models.ScoreEvent, 0, len(list))
	for _, e := range list {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ── Notification Store ───────────────────────────────────────

func (m *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	copy := *n
	m.notifications[n.ContactID] = append(m.notifications[n.ContactID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, contactID string) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.notifications[contactID]
	result := make([]models.Notification, 0, len(list))
	for _, n := range list {
		result = append(result, *n)
	}
	return result, nil
}

// ── Allied Industry Store ────────────────────────────────────

func (m *MemoryStore) GetAlliedIndustry(_ context.Context, id string) (*models.AlliedIndustry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ai, ok := m.allied[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "allied industry", Key: id}
	}
	copy := *ai
	return &copy, nil
}

func (m *MemoryStore) ListAlliedIndustries(_ context.Context) ([]models.AlliedIndustry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.AlliedIndustry, 0, len(m.allied))
	for _, ai := range m.allied {
		result = append(result, *ai)
	}
	return result, nil
}

func (m *MemoryStore) CreateAlliedIndustry(_ context.Context, ai *models.AlliedIndustry) error {
	m.mu.Lock()
	copy := *ai
	m.allied[ai.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Flow Store ───────────────────────────────────────────────

func (m *MemoryStore) ListFlows(_ context.Context) ([]models.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Flow, 0, len(m.flows))
	for _, f := range m.flows {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetFlow(_ context.Context, id string) (*models.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "flow", Key: id}
	}
	copy := *f
	return &copy, nil
}

func (m *MemoryStore) CreateFlow(_ context.Context, flow *models.Flow) error {
	m.mu.Lock()
	copy := *flow
	m.flows[flow.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateFlow(_ context.Context, flow *models.Flow) error {
	m.mu.Lock()
	if _, ok := m.flows[flow.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "flow", Key: flow.ID}
	}
	flow.UpdatedAt = time.Now().UTC()
	copy := *flow
	m.flows[flow.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteFlow(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.flows[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "flow", Key: id}
	}
	delete(m.flows, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) CreateFlowExecution(_ context.Context, exec *models.FlowExecution) error {
	m.mu.Lock()
	copy := *exec
	m.flowExecutions[exec.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateFlowExecution(_ context.Context, exec *models.FlowExecution) error {
	m.mu.Lock()
	if _, ok := m.flowExecutions[exec.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "flow execution", Key: exec.ID}
	}
	copy := *exec
	m.flowExecutions[exec.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetFlowExecution(_ context.Context, id string) (*models.FlowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.flowExecutions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "flow execution", Key: id}
	}
	copy := *e
	return &copy, nil
}

func (m *MemoryStore) GetContactFlow(_ context.Context, id string) (*models.ContactFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cf, ok := m.contactFlows[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "contact flow", Key: id}
	}
	copy := *cf
	return &copy, nil
}

func (m *MemoryStore) ListContactFlows(_ context.Context, contactID string) ([]models.ContactFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.ContactFlow
	for _, cf := range m.contactFlows {
		if cf.ContactID == contactID {
			result = append(result, *cf)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Priority > result[j].Priority })
	return result, nil
}

func (m *MemoryStore) ListFlowAssignments(_ context.Context, flowID string) ([]models.ContactFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.ContactFlow
	for _, cf := range m.contactFlows {
		if cf.FlowID == flowID {
			result = append(result, *cf)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Priority > result[j].Priority })
	return result, nil
}

func (m *MemoryStore) CreateContactFlow(_ context.Context, cf *models.ContactFlow) error {
	m.mu.Lock()
	copy := *cf
	m.contactFlows[cf.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateContactFlow(_ context.Context, cf *models.ContactFlow) error {
	m.mu.Lock()
	if _, ok := m.contactFlows[cf.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "contact flow", Key: cf.ID}
	}
	copy := *cf
	m.contactFlows[cf.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}
