// SQLite Store implementation on modernc.org/sqlite (no cgo).
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loopcrm/engine/pkg/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "loopcrm.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// parseMigrationVersion extracts the leading number from "0001_init.sql".
func parseMigrationVersion(name string) (int, error) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, fmt.Errorf("migration file %q has no version prefix", name)
	}
	v, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, fmt.Errorf("migration file %q has invalid version: %w", name, err)
	}
	return v, nil
}

// ── JSON column helpers ──────────────────────────────────────

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func fromJSON(data string, out any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), out)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ── Contact Store ────────────────────────────────────────────

const contactCols = `id, name, company, phone, email, user_type, industry, lifecycle_stage,
	intent_score, urgency_score, engagement_score, churn_risk, lifetime_value,
	interaction_count, last_interaction_at, last_channel, tags, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*models.Contact, error) {
	var c models.Contact
	var tags string
	var lastAt sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Company, &c.Phone, &c.Email, &c.UserType, &c.Industry,
		&c.LifecycleStage, &c.IntentScore, &c.UrgencyScore, &c.EngagementScore, &c.ChurnRisk,
		&c.LifetimeValue, &c.InteractionCount, &lastAt, &c.LastChannel, &tags, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.LastInteractionAt = scanTimePtr(lastAt)
	fromJSON(tags, &c.Tags)
	return &c, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, limit int) ([]models.Contact, error) {
	q := "SELECT " + contactCols + " FROM contacts ORDER BY created_at"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var result []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+contactCols+" FROM contacts WHERE id = ?", id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "contact", Key: id}
	}
	return c, err
}

func (s *SQLiteStore) FindContact(ctx context.Context, phone, email string) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+contactCols+` FROM contacts WHERE (? != '' AND phone = ?) OR (? != '' AND email = ?) LIMIT 1`,
		phone, phone, email, email)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "contact", Key: phone + email}
	}
	return c, err
}

func (s *SQLiteStore) CreateContact(ctx context.Context, c *models.Contact) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO contacts (`+contactCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Company, c.Phone, c.Email, c.UserType, c.Industry, c.LifecycleStage,
		c.IntentScore, c.UrgencyScore, c.EngagementScore, c.ChurnRisk, c.LifetimeValue,
		c.InteractionCount, nullTime(c.LastInteractionAt), c.LastChannel, toJSON(c.Tags),
		c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateContact(ctx context.Context, c *models.Contact) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE contacts SET name = ?, company = ?, phone = ?, email = ?,
		user_type = ?, industry = ?, lifecycle_stage = ?, intent_score = ?, urgency_score = ?,
		engagement_score = ?, churn_risk = ?, lifetime_value = ?, interaction_count = ?,
		last_interaction_at = ?, last_channel = ?, tags = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Company, c.Phone, c.Email, c.UserType, c.Industry, c.LifecycleStage,
		c.IntentScore, c.UrgencyScore, c.EngagementScore, c.ChurnRisk, c.LifetimeValue,
		c.InteractionCount, nullTime(c.LastInteractionAt), c.LastChannel, toJSON(c.Tags),
		c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "contact", Key: c.ID}
	}
	return nil
}

// DeleteContact removes the contact row only. History tables are
// append-only and keep their rows.
func (s *SQLiteStore) DeleteContact(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM contacts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "contact", Key: id}
	}
	return nil
}

// ── Interaction Store ────────────────────────────────────────

func (s *SQLiteStore) CreateInteraction(ctx context.Context, in *models.Interaction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO interactions
		(id, contact_id, channel, direction, sentiment, sentiment_score, intents, entities, summary, duration_secs, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.ContactID, in.Channel, in.Direction, in.Sentiment, in.SentimentScore,
		toJSON(in.Intents), toJSON(in.Entities), in.Summary, in.DurationSecs, in.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListInteractions(ctx context.Context, contactID string, limit int) ([]models.Interaction, error) {
	q := `SELECT id, contact_id, channel, direction, sentiment, sentiment_score, intents, entities, summary, duration_secs, occurred_at
		FROM interactions WHERE contact_id = ? ORDER BY occurred_at DESC`
	args := []any{contactID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	defer rows.Close()

	var result []models.Interaction
	for rows.Next() {
		var in models.Interaction
		var intents, entities string
		if err := rows.Scan(&in.ID, &in.ContactID, &in.Channel, &in.Direction, &in.Sentiment,
			&in.SentimentScore, &intents, &entities, &in.Summary, &in.DurationSecs, &in.OccurredAt); err != nil {
			return nil, err
		}
		fromJSON(intents, &in.Intents)
		fromJSON(entities, &in.Entities)
		result = append(result, in)
	}
	return result, rows.Err()
}

// ── Variable Store ───────────────────────────────────────────

func (s *SQLiteStore) SetCurrentVariable(ctx context.Context, v *models.Variable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning variable transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE variables SET is_current = 0 WHERE contact_id = ? AND name = ? AND is_current = 1",
		v.ContactID, v.Name); err != nil {
		return fmt.Errorf("demoting prior variable: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO variables
		(id, contact_id, name, value, type, confidence, source_channel, is_current, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		v.ID, v.ContactID, v.Name, v.Value, v.Type, v.Confidence, v.SourceChannel, v.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting variable: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListCurrentVariables(ctx context.Context, contactID string) ([]models.Variable, error) {
	return s.queryVariables(ctx,
		"SELECT id, contact_id, name, value, type, confidence, source_channel, is_current, created_at FROM variables WHERE contact_id = ? AND is_current = 1",
		contactID)
}

func (s *SQLiteStore) ListVariableHistory(ctx context.Context, contactID, name string) ([]models.Variable, error) {
	return s.queryVariables(ctx,
		"SELECT id, contact_id, name, value, type, confidence, source_channel, is_current, created_at FROM variables WHERE contact_id = ? AND name = ? ORDER BY created_at DESC",
		contactID, name)
}

func (s *SQLiteStore) queryVariables(ctx context.Context, q string, args ...any) ([]models.Variable, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying variables: %w", err)
	}
	defer rows.Close()

	var result []models.Variable
	for rows.Next() {
		var v models.Variable
		if err := rows.Scan(&v.ID, &v.ContactID, &v.Name, &v.Value, &v.Type, &v.Confidence,
			&v.SourceChannel, &v.IsCurrent, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// ── Trigger Store ────────────────────────────────────────────

const triggerCols = "id, name, trigger_event, conditions, actions, priority, cooldown_minutes, max_executions, active, created_at, updated_at"

func scanTrigger(row interface{ Scan(...any) error }) (*models.Trigger, error) {
	var t models.Trigger
	var conditions sql.NullString
	var actions string
	if err := row.Scan(&t.ID, &t.Name, &t.Event, &conditions, &actions, &t.Priority,
		&t.CooldownMinutes, &t.MaxExecutions, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if conditions.Valid && conditions.String != "" {
		var c models.Condition
		fromJSON(conditions.String, &c)
		t.Condition = &c
	}
	fromJSON(actions, &t.Actions)
	return &t, nil
}

func (s *SQLiteStore) ListTriggers(ctx context.Context) ([]models.Trigger, error) {
	return s.queryTriggers(ctx, "SELECT "+triggerCols+" FROM triggers ORDER BY priority DESC")
}

func (s *SQLiteStore) ListActiveTriggersByEvent(ctx context.Context, event models.TriggerEvent) ([]models.Trigger, error) {
	return s.queryTriggers(ctx,
		"SELECT "+triggerCols+" FROM triggers WHERE active = 1 AND trigger_event = ? ORDER BY priority DESC", event)
}

func (s *SQLiteStore) queryTriggers(ctx context.Context, q string, args ...any) ([]models.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	var result []models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+triggerCols+" FROM triggers WHERE id = ?", id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "trigger", Key: id}
	}
	return t, err
}

func (s *SQLiteStore) CreateTrigger(ctx context.Context, t *models.Trigger) error {
	var conditions any
	if t.Condition != nil {
		conditions = toJSON(t.Condition)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO triggers (`+triggerCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Event, conditions, toJSON(t.Actions), t.Priority,
		t.CooldownMinutes, t.MaxExecutions, t.Active, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting trigger: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTrigger(ctx context.Context, t *models.Trigger) error {
	t.UpdatedAt = time.Now().UTC()
	var conditions any
	if t.Condition != nil {
		conditions = toJSON(t.Condition)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE triggers SET name = ?, trigger_event = ?, conditions = ?,
		actions = ?, priority = ?, cooldown_minutes = ?, max_executions = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Event, conditions, toJSON(t.Actions), t.Priority, t.CooldownMinutes,
		t.MaxExecutions, t.Active, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("updating trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "trigger", Key: t.ID}
	}
	return nil
}

func (s *SQLiteStore) DeleteTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "trigger", Key: id}
	}
	return nil
}

// ── Execution Store ──────────────────────────────────────────

const executionCols = "id, trigger_id, trigger_name, contact_id, status, matched_conditions, action, result, error, executed_at"

func scanExecution(row interface{ Scan(...any) error }) (*models.TriggerExecution, error) {
	var e models.TriggerExecution
	var matched, action, result string
	if err := row.Scan(&e.ID, &e.TriggerID, &e.TriggerName, &e.ContactID, &e.Status,
		&matched, &action, &result, &e.Error, &e.ExecutedAt); err != nil {
		return nil, err
	}
	fromJSON(matched, &e.MatchedConditions)
	fromJSON(action, &e.Action)
	fromJSON(result, &e.Result)
	return &e, nil
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, e *models.TriggerExecution) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO trigger_executions (`+executionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TriggerID, e.TriggerName, e.ContactID, e.Status,
		toJSON(e.MatchedConditions), toJSON(e.Action), toJSON(e.Result), e.Error, e.ExecutedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting trigger execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestExecution(ctx context.Context, contactID, triggerID string) (*models.TriggerExecution, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+executionCols+" FROM trigger_executions WHERE contact_id = ? AND trigger_id = ? ORDER BY executed_at DESC LIMIT 1",
		contactID, triggerID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "trigger execution", Key: contactID + ":" + triggerID}
	}
	return e, err
}

func (s *SQLiteStore) CountExecutions(ctx context.Context, contactID, triggerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM trigger_executions WHERE contact_id = ? AND trigger_id = ?",
		contactID, triggerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting executions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, contactID string, limit int) ([]models.TriggerExecution, error) {
	q := "SELECT " + executionCols + " FROM trigger_executions WHERE contact_id = ? ORDER BY executed_at DESC"
	args := []any{contactID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var result []models.TriggerExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// ── Task Store ───────────────────────────────────────────────

func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(id, contact_id, title, description, type, priority, due_at, ai_generated, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ContactID, t.Title, t.Description, t.Type, t.Priority, t.DueAt.UTC(),
		t.AIGenerated, t.Reason, t.Status, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, contactID string) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, title, description, type, priority, due_at, ai_generated, reason, status, created_at
		FROM tasks WHERE contact_id = ? ORDER BY created_at`, contactID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var result []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.ContactID, &t.Title, &t.Description, &t.Type, &t.Priority,
			&t.DueAt, &t.AIGenerated, &t.Reason, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ── Score Event Store ────────────────────────────────────────

func (s *SQLiteStore) CreateScoreEvent(ctx context.Context, e *models.ScoreEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO score_events
		(id, contact_id, score_type, old_value, new_value, factors, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ContactID, e.ScoreType, e.OldValue, e.NewValue, toJSON(e.Factors), e.Source, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting score event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListScoreEvents(ctx context.Context, contactID string, limit int) ([]models.ScoreEvent, error) {
	q := `SELECT id, contact_id, score_type, old_value, new_value, factors, source, created_at
		FROM score_events WHERE contact_id = ? ORDER BY created_at DESC`
	args := []any{contactID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing score events: %w", err)
	}
	defer rows.Close()

	var result []models.ScoreEvent
	for rows.Next() {
		var e models.ScoreEvent
		var factors string
		if err := rows.Scan(&e.ID, &e.ContactID, &e.ScoreType, &e.OldValue, &e.NewValue,
			&factors, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		fromJSON(factors, &e.Factors)
		result = append(result, e)
	}
	return result, rows.Err()
}

// ── Notification Store ───────────────────────────────────────

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notifications (id, contact_id, channel, message, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.ContactID, n.Channel, n.Message, n.Status, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, contactID string) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, contact_id, channel, message, status, created_at FROM notifications WHERE contact_id = ? ORDER BY created_at",
		contactID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var result []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.ContactID, &n.Channel, &n.Message, &n.Status, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// ── Allied Industry Store ────────────────────────────────────

func (s *SQLiteStore) GetAlliedIndustry(ctx context.Context, id string) (*models.AlliedIndustry, error) {
	var ai models.AlliedIndustry
	err := s.db.QueryRowContext(ctx,
		"SELECT id, source_industry, partner_industry, pitch, priority FROM allied_industries WHERE id = ?", id).
		Scan(&ai.ID, &ai.SourceIndustry, &ai.PartnerIndustry, &ai.Pitch, &ai.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "allied industry", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &ai, nil
}

func (s *SQLiteStore) ListAlliedIndustries(ctx context.Context) ([]models.AlliedIndustry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, source_industry, partner_industry, pitch, priority FROM allied_industries")
	if err != nil {
		return nil, fmt.Errorf("listing allied industries: %w", err)
	}
	defer rows.Close()

	var result []models.AlliedIndustry
	for rows.Next() {
		var ai models.AlliedIndustry
		if err := rows.Scan(&ai.ID, &ai.SourceIndustry, &ai.PartnerIndustry, &ai.Pitch, &ai.Priority); err != nil {
			return nil, err
		}
		result = append(result, ai)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) CreateAlliedIndustry(ctx context.Context, ai *models.AlliedIndustry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO allied_industries (id, source_industry, partner_industry, pitch, priority) VALUES (?, ?, ?, ?, ?)",
		ai.ID, ai.SourceIndustry, ai.PartnerIndustry, ai.Pitch, ai.Priority)
	if err != nil {
		return fmt.Errorf("inserting allied industry: %w", err)
	}
	return nil
}

// ── Flow Store ───────────────────────────────────────────────

func (s *SQLiteStore) ListFlows(ctx context.Context) ([]models.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, active, created_at, updated_at FROM flows ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("listing flows: %w", err)
	}
	defer rows.Close()

	var result []models.Flow
	for rows.Next() {
		var f models.Flow
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if err := s.loadFlowGraph(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SQLiteStore) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	var f models.Flow
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, active, created_at, updated_at FROM flows WHERE id = ?", id).
		Scan(&f.ID, &f.Name, &f.Description, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "flow", Key: id}
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadFlowGraph(ctx, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) loadFlowGraph(ctx context.Context, f *models.Flow) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, label, config, x, y FROM flow_nodes WHERE flow_id = ?", f.ID)
	if err != nil {
		return fmt.Errorf("loading flow nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n models.FlowNode
		var config string
		if err := rows.Scan(&n.ID, &n.Type, &n.Label, &config, &n.X, &n.Y); err != nil {
			return err
		}
		fromJSON(config, &n.Config)
		f.Nodes = append(f.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	edgeRows, err := s.db.QueryContext(ctx,
		"SELECT id, source, target, label FROM flow_edges WHERE flow_id = ?", f.ID)
	if err != nil {
		return fmt.Errorf("loading flow edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e models.FlowEdge
		if err := edgeRows.Scan(&e.ID, &e.Source, &e.Target, &e.Label); err != nil {
			return err
		}
		f.Edges = append(f.Edges, e)
	}
	return edgeRows.Err()
}

func (s *SQLiteStore) CreateFlow(ctx context.Context, f *models.Flow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning flow transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO flows (id, name, description, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		f.ID, f.Name, f.Description, f.Active, f.CreatedAt.UTC(), f.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting flow: %w", err)
	}
	if err := insertFlowGraph(ctx, tx, f); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateFlow(ctx context.Context, f *models.Flow) error {
	f.UpdatedAt = time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning flow transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE flows SET name = ?, description = ?, active = ?, updated_at = ? WHERE id = ?",
		f.Name, f.Description, f.Active, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("updating flow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "flow", Key: f.ID}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_nodes WHERE flow_id = ?", f.ID); err != nil {
		return fmt.Errorf("clearing flow nodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_edges WHERE flow_id = ?", f.ID); err != nil {
		return fmt.Errorf("clearing flow edges: %w", err)
	}
	if err := insertFlowGraph(ctx, tx, f); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFlowGraph(ctx context.Context, tx *sql.Tx, f *models.Flow) error {
	for _, n := range f.Nodes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO flow_nodes (id, flow_id, type, label, config, x, y) VALUES (?, ?, ?, ?, ?, ?, ?)",
			n.ID, f.ID, n.Type, n.Label, toJSON(n.Config), n.X, n.Y); err != nil {
			return fmt.Errorf("inserting flow node: %w", err)
		}
	}
	for _, e := range f.Edges {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO flow_edges (id, flow_id, source, target, label) VALUES (?, ?, ?, ?, ?)",
			e.ID, f.ID, e.Source, e.Target, e.Label); err != nil {
			return fmt.Errorf("inserting flow edge: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteFlow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning flow transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM flows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting flow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "flow", Key: id}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_nodes WHERE flow_id = ?", id); err != nil {
		return fmt.Errorf("deleting flow nodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_edges WHERE flow_id = ?", id); err != nil {
		return fmt.Errorf("deleting flow edges: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateFlowExecution(ctx context.Context, e *models.FlowExecution) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO flow_executions
		(id, flow_id, contact_id, contact_flow_id, status, nodes, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FlowID, e.ContactID, e.ContactFlowID, e.Status, toJSON(e.Nodes),
		e.StartedAt.UTC(), nullTime(e.CompletedAt), e.Error)
	if err != nil {
		return fmt.Errorf("inserting flow execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateFlowExecution(ctx context.Context, e *models.FlowExecution) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE flow_executions SET status = ?, nodes = ?, completed_at = ?, error = ? WHERE id = ?",
		e.Status, toJSON(e.Nodes), nullTime(e.CompletedAt), e.Error, e.ID)
	if err != nil {
		return fmt.Errorf("updating flow execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "flow execution", Key: e.ID}
	}
	return nil
}

func (s *SQLiteStore) GetFlowExecution(ctx context.Context, id string) (*models.FlowExecution, error) {
	var e models.FlowExecution
	var nodes string
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT id, flow_id, contact_id, contact_flow_id, status, nodes, started_at, completed_at, error
		FROM flow_executions WHERE id = ?`, id).
		Scan(&e.ID, &e.FlowID, &e.ContactID, &e.ContactFlowID, &e.Status, &nodes, &e.StartedAt, &completed, &e.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "flow execution", Key: id}
	}
	if err != nil {
		return nil, err
	}
	fromJSON(nodes, &e.Nodes)
	e.CompletedAt = scanTimePtr(completed)
	return &e, nil
}

func (s *SQLiteStore) GetContactFlow(ctx context.Context, id string) (*models.ContactFlow, error) {
	var cf models.ContactFlow
	var lastRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, contact_id, flow_id, enabled, priority, execution_count, last_run_at FROM contact_flows WHERE id = ?", id).
		Scan(&cf.ID, &cf.ContactID, &cf.FlowID, &cf.Enabled, &cf.Priority, &cf.ExecutionCount, &lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "contact flow", Key: id}
	}
	if err != nil {
		return nil, err
	}
	cf.LastRunAt = scanTimePtr(lastRun)
	return &cf, nil
}

func (s *SQLiteStore) ListContactFlows(ctx context.Context, contactID string) ([]models.ContactFlow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, contact_id, flow_id, enabled, priority, execution_count, last_run_at FROM contact_flows WHERE contact_id = ? ORDER BY priority DESC",
		contactID)
	if err != nil {
		return nil, fmt.Errorf("listing contact flows: %w", err)
	}
	defer rows.Close()

	var result []models.ContactFlow
	for rows.Next() {
		var cf models.ContactFlow
		var lastRun sql.NullTime
		if err := rows.Scan(&cf.ID, &cf.ContactID, &cf.FlowID, &cf.Enabled, &cf.Priority, &cf.ExecutionCount, &lastRun); err != nil {
			return nil, err
		}
		cf.LastRunAt = scanTimePtr(lastRun)
		result = append(result, cf)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) ListFlowAssignments(ctx context.Context, flowID string) ([]models.ContactFlow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, contact_id, flow_id, enabled, priority, execution_count, last_run_at FROM contact_flows WHERE flow_id = ? ORDER BY priority DESC",
		flowID)
	if err != nil {
		return nil, fmt.Errorf("listing flow assignments: %w", err)
	}
	defer rows.Close()

	var result []models.ContactFlow
	for rows.Next() {
		var cf models.ContactFlow
		var lastRun sql.NullTime
		if err := rows.Scan(&cf.ID, &cf.ContactID, &cf.FlowID, &cf.Enabled, &cf.Priority, &cf.ExecutionCount, &lastRun); err != nil {
			return nil, err
		}
		cf.LastRunAt = scanTimePtr(lastRun)
		result = append(result, cf)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) CreateContactFlow(ctx context.Context, cf *models.ContactFlow) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO contact_flows (id, contact_id, flow_id, enabled, priority, execution_count, last_run_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		cf.ID, cf.ContactID, cf.FlowID, cf.Enabled, cf.Priority, cf.ExecutionCount, nullTime(cf.LastRunAt))
	if err != nil {
		return fmt.Errorf("inserting contact flow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateContactFlow(ctx context.Context, cf *models.ContactFlow) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE contact_flows SET enabled = ?, priority = ?, execution_count = ?, last_run_at = ? WHERE id = ?",
		cf.Enabled, cf.Priority, cf.ExecutionCount, nullTime(cf.LastRunAt), cf.ID)
	if err != nil {
		return fmt.Errorf("updating contact flow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "contact flow", Key: cf.ID}
	}
	return nil
}
