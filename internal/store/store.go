// Package store provides SQLite-backed persistence for the evaluation
// pipeline. It is the single source of truth for task and component state;
// every state transition is a conditional update so that concurrent writers
// cannot double-apply a transition.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vaakshakti/pipeline/internal/models"
)

// Sentinel errors for store lookups.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrSessionNotFound   = errors.New("practice session not found")
)

// Store provides access to the pipeline SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		status_message TEXT,
		topic TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		question TEXT NOT NULL,
		ideal_answer TEXT NOT NULL,
		audio_ref TEXT NOT NULL,
		model TEXT,
		required TEXT NOT NULL,
		result TEXT,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		parent_task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		status_message TEXT,
		result TEXT,
		error_message TEXT,
		attempt INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME,
		FOREIGN KEY (parent_task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS practice_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_task_id TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		question TEXT NOT NULL,
		ideal_answer TEXT NOT NULL,
		transcript TEXT NOT NULL,
		grammar_feedback TEXT,
		pronunciation_feedback TEXT,
		content_evaluation TEXT,
		audio_features TEXT,
		linguistic_features TEXT,
		sentiment_emotion TEXT,
		speaking_rate_wpm REAL,
		rating REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		component TEXT,
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	CREATE INDEX IF NOT EXISTS idx_components_task ON components(parent_task_id);
	CREATE INDEX IF NOT EXISTS idx_components_state ON components(state);
	CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// CreateEvaluation inserts a task and all of its components in a single
// transaction, everything pending.
func (s *Store) CreateEvaluation(topic, difficulty, question, idealAnswer, audioRef, model string, required []models.ComponentKind) (*models.Task, []models.Component, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:            uuid.New().String(),
		State:         models.TaskPending,
		Progress:      0,
		StatusMessage: "Task submitted...",
		Topic:         topic,
		Difficulty:    difficulty,
		Question:      question,
		IdealAnswer:   idealAnswer,
		AudioRef:      audioRef,
		Model:         model,
		Required:      required,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO tasks (id, state, progress, status_message, topic, difficulty, question, ideal_answer, audio_ref, model, required, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.State, task.Progress, task.StatusMessage, task.Topic, task.Difficulty,
		task.Question, task.IdealAnswer, task.AudioRef, task.Model, joinKinds(required),
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert task: %w", err)
	}

	components := make([]models.Component, 0, len(models.AllKinds()))
	for _, kind := range models.AllKinds() {
		comp := models.Component{
			ID:            uuid.New().String(),
			ParentTaskID:  task.ID,
			Kind:          kind,
			State:         models.ComponentPending,
			StatusMessage: "Component submitted...",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, err = tx.Exec(
			`INSERT INTO components (id, parent_task_id, kind, state, status_message, attempt, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			comp.ID, comp.ParentTaskID, comp.Kind, comp.State, comp.StatusMessage, comp.CreatedAt, comp.UpdatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("insert component %s: %w", kind, err)
		}
		components = append(components, comp)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}
	return task, components, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task := &models.Task{}
	var required string
	var statusMessage, model, result, errMsg sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRow(
		`SELECT id, state, progress, status_message, topic, difficulty, question, ideal_answer, audio_ref, model, required, result, error_message, created_at, updated_at, completed_at
		 FROM tasks WHERE id = ?`, id,
	).Scan(&task.ID, &task.State, &task.Progress, &statusMessage, &task.Topic, &task.Difficulty,
		&task.Question, &task.IdealAnswer, &task.AudioRef, &model, &required, &result, &errMsg,
		&task.CreatedAt, &task.UpdatedAt, &completedAt)

	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	task.StatusMessage = statusMessage.String
	task.Model = model.String
	task.Result = result.String
	task.ErrorMessage = errMsg.String
	task.Required = splitKinds(required)
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

// MarkTaskProcessing transitions a task pending -> processing.
func (s *Store) MarkTaskProcessing(id, statusMessage string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET state = ?, status_message = ?, updated_at = ? WHERE id = ? AND state = ?`,
		models.TaskProcessing, statusMessage, time.Now().UTC(), id, models.TaskPending,
	)
	return err
}

// SetTaskProgress raises the task progress; it never lowers it.
func (s *Store) SetTaskProgress(id string, progress int, statusMessage string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET progress = MAX(progress, ?), status_message = ?, updated_at = ? WHERE id = ? AND state NOT IN (?, ?)`,
		progress, statusMessage, time.Now().UTC(), id, models.TaskCompleted, models.TaskFailed,
	)
	return err
}

// FinalizeTask transitions a task processing -> terminal. It returns true only
// for the caller that won the transition, so a task is finalized exactly once
// even when completion events race.
func (s *Store) FinalizeTask(id string, state models.TaskState, resultJSON, errorMessage, statusMessage string) (bool, error) {
	if !state.Terminal() {
		return false, fmt.Errorf("finalize to non-terminal state %q", state)
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE tasks SET state = ?, result = ?, error_message = ?, status_message = ?, progress = CASE WHEN ? = 'completed' THEN 100 ELSE progress END, updated_at = ?, completed_at = ?
		 WHERE id = ? AND state = ?`,
		state, nullIfEmpty(resultJSON), nullIfEmpty(errorMessage), statusMessage, state, now, now,
		id, models.TaskProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("finalize task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// ListUnfinishedTaskIDs returns the ids of every task not yet terminal,
// oldest first. The sweeper re-drives these after a restart.
func (s *Store) ListUnfinishedTaskIDs() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM tasks WHERE state IN (?, ?) ORDER BY created_at`,
		models.TaskPending, models.TaskProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("query unfinished tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Component Operations ---

// GetComponents returns all components of a task in creation order.
func (s *Store) GetComponents(taskID string) ([]models.Component, error) {
	rows, err := s.db.Query(
		`SELECT id, parent_task_id, kind, state, status_message, result, error_message, attempt, created_at, updated_at, completed_at
		 FROM components WHERE parent_task_id = ? ORDER BY created_at, kind`, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	var components []models.Component
	for rows.Next() {
		comp, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		components = append(components, *comp)
	}
	return components, rows.Err()
}

// GetComponent retrieves a component by ID.
func (s *Store) GetComponent(id string) (*models.Component, error) {
	row := s.db.QueryRow(
		`SELECT id, parent_task_id, kind, state, status_message, result, error_message, attempt, created_at, updated_at, completed_at
		 FROM components WHERE id = ?`, id,
	)
	comp, err := scanComponent(row)
	if err == sql.ErrNoRows {
		return nil, ErrComponentNotFound
	}
	return comp, err
}

// ClaimComponent transitions a component pending -> processing and increments
// its attempt counter. Returns false if another scheduler pass won the claim.
func (s *Store) ClaimComponent(id, statusMessage string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE components SET state = ?, status_message = ?, attempt = attempt + 1, updated_at = ? WHERE id = ? AND state = ?`,
		models.ComponentProcessing, statusMessage, time.Now().UTC(), id, models.ComponentPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim component: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// CompleteComponent transitions a component processing -> completed with its
// result. Returns false if the component was not processing (a duplicate
// delivery observing an already-terminal component).
func (s *Store) CompleteComponent(id, resultJSON, statusMessage string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE components SET state = ?, result = ?, error_message = NULL, status_message = ?, updated_at = ?, completed_at = ? WHERE id = ? AND state = ?`,
		models.ComponentCompleted, resultJSON, statusMessage, now, now, id, models.ComponentProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("complete component: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// FailComponent transitions a component processing -> failed.
func (s *Store) FailComponent(id, errorMessage, statusMessage string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE components SET state = ?, error_message = ?, status_message = ?, updated_at = ?, completed_at = ? WHERE id = ? AND state = ?`,
		models.ComponentFailed, errorMessage, statusMessage, now, now, id, models.ComponentProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("fail component: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// RequeueComponent transitions a component processing -> pending for a retry.
func (s *Store) RequeueComponent(id, statusMessage string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE components SET state = ?, status_message = ?, updated_at = ? WHERE id = ? AND state = ?`,
		models.ComponentPending, statusMessage, time.Now().UTC(), id, models.ComponentProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("requeue component: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// ReclaimStaleComponents returns components stuck in processing since before
// the cutoff to pending, so the scheduler can claim and dispatch them again.
// A component goes stale when the worker that claimed it died before writing
// back. Each requeue is the usual compare-and-set, so a worker finishing
// concurrently keeps its write. Returns the reclaimed components.
func (s *Store) ReclaimStaleComponents(cutoff time.Time, statusMessage string) ([]models.Component, error) {
	rows, err := s.db.Query(
		`SELECT id, parent_task_id, kind, updated_at FROM components WHERE state = ?`,
		models.ComponentProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("query processing components: %w", err)
	}
	var stale []models.Component
	for rows.Next() {
		var comp models.Component
		if err := rows.Scan(&comp.ID, &comp.ParentTaskID, &comp.Kind, &comp.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan component: %w", err)
		}
		if comp.UpdatedAt.Before(cutoff) {
			stale = append(stale, comp)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close rows: %w", err)
	}

	var reclaimed []models.Component
	for _, comp := range stale {
		applied, err := s.RequeueComponent(comp.ID, statusMessage)
		if err != nil {
			return reclaimed, err
		}
		if applied {
			reclaimed = append(reclaimed, comp)
		}
	}
	return reclaimed, nil
}

// MarkComponentUpstreamFailed transitions a component pending -> failed
// because one of its dependencies failed. It is never enqueued.
func (s *Store) MarkComponentUpstreamFailed(id, errorMessage string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE components SET state = ?, error_message = ?, status_message = ?, updated_at = ?, completed_at = ? WHERE id = ? AND state = ?`,
		models.ComponentFailed, errorMessage, "Skipped: upstream dependency failed.", now, now, id, models.ComponentPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark upstream failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkComponentSkipped transitions an optional component pending -> skipped.
func (s *Store) MarkComponentSkipped(id, statusMessage string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE components SET state = ?, status_message = ?, updated_at = ?, completed_at = ? WHERE id = ? AND state = ?`,
		models.ComponentSkipped, statusMessage, now, now, id, models.ComponentPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark skipped: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// --- Practice Session Operations ---

// SavePracticeSession persists the consolidated report and returns its id.
// parent_task_id is unique, so when two aggregation passes race the second
// insert is a no-op and both observe the same id.
func (s *Store) SavePracticeSession(ps *models.PracticeSession) (int64, error) {
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO practice_sessions (parent_task_id, topic, difficulty, question, ideal_answer, transcript, grammar_feedback, pronunciation_feedback, content_evaluation, audio_features, linguistic_features, sentiment_emotion, speaking_rate_wpm, rating, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(parent_task_id) DO NOTHING`,
		ps.ParentTaskID, ps.Topic, ps.Difficulty, ps.Question, ps.IdealAnswer, ps.Transcript,
		nullIfEmpty(ps.GrammarFeedback), nullIfEmpty(ps.PronunciationFeedback), nullIfEmpty(ps.ContentEvaluation),
		nullIfEmpty(ps.AudioFeatures), nullIfEmpty(ps.LinguisticFeatures), nullIfEmpty(ps.SentimentEmotion),
		ps.SpeakingRateWPM, ps.Rating, ps.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert practice session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		// A concurrent pass already stored the report for this task.
		var id int64
		err := s.db.QueryRow(`SELECT id FROM practice_sessions WHERE parent_task_id = ?`, ps.ParentTaskID).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("lookup existing practice session: %w", err)
		}
		ps.ID = id
		return id, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	ps.ID = id
	return id, nil
}

// GetPracticeSession retrieves a stored report by id.
func (s *Store) GetPracticeSession(id int64) (*models.PracticeSession, error) {
	ps := &models.PracticeSession{}
	var grammar, pron, content, audio, ling, sent sql.NullString
	var wpm sql.NullFloat64

	err := s.db.QueryRow(
		`SELECT id, parent_task_id, topic, difficulty, question, ideal_answer, transcript, grammar_feedback, pronunciation_feedback, content_evaluation, audio_features, linguistic_features, sentiment_emotion, speaking_rate_wpm, rating, created_at
		 FROM practice_sessions WHERE id = ?`, id,
	).Scan(&ps.ID, &ps.ParentTaskID, &ps.Topic, &ps.Difficulty, &ps.Question, &ps.IdealAnswer, &ps.Transcript,
		&grammar, &pron, &content, &audio, &ling, &sent, &wpm, &ps.Rating, &ps.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query practice session: %w", err)
	}
	ps.GrammarFeedback = grammar.String
	ps.PronunciationFeedback = pron.String
	ps.ContentEvaluation = content.String
	ps.AudioFeatures = audio.String
	ps.LinguisticFeatures = ling.String
	ps.SentimentEmotion = sent.String
	if wpm.Valid {
		ps.SpeakingRateWPM = wpm.Float64
	}
	return ps, nil
}

// --- Event Operations ---

// AppendEvent writes an audit event for a pipeline transition.
func (s *Store) AppendEvent(e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO events (id, task_id, component, action, outcome, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.Component, e.Action, e.Outcome, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents returns the audit trail for a task, oldest first.
func (s *Store) GetEvents(taskID string) ([]models.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, component, action, outcome, detail, created_at FROM events WHERE task_id = ? ORDER BY created_at`, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var component, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &component, &e.Action, &e.Outcome, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Component = component.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanComponent(row rowScanner) (*models.Component, error) {
	comp := &models.Component{}
	var statusMessage, result, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&comp.ID, &comp.ParentTaskID, &comp.Kind, &comp.State, &statusMessage,
		&result, &errMsg, &comp.Attempt, &comp.CreatedAt, &comp.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	comp.StatusMessage = statusMessage.String
	comp.Result = result.String
	comp.ErrorMessage = errMsg.String
	if completedAt.Valid {
		comp.CompletedAt = &completedAt.Time
	}
	return comp, nil
}

func joinKinds(kinds []models.ComponentKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

func splitKinds(joined string) []models.ComponentKind {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	kinds := make([]models.ComponentKind, len(parts))
	for i, p := range parts {
		kinds[i] = models.ComponentKind(p)
	}
	return kinds
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
