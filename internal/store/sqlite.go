package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers from concurrent poll subscriptions.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Submissions ---

// SaveSubmission inserts or updates a cached submission. A cached status
// never moves backwards: an update that would regress it is rejected with an
// invalid-state error. Empty fields and a missing result keep what is cached.
func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		return apperr.Validation("submission id is required")
	}
	now := time.Now().UTC()
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save submission: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM submissions WHERE id = ?", sub.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read cached status: %w", err)
	default:
		if !models.Status(current).Advances(sub.Status) {
			return apperr.InvalidState("submission %s is %s locally, refusing to move it to %s", sub.ID, current, sub.Status)
		}
	}

	var result sql.NullString
	if sub.HasResult() {
		result = sql.NullString{String: string(sub.Result), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, filename, language, status, message, batch_id, project_name, result_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename     = CASE WHEN excluded.filename = '' THEN submissions.filename ELSE excluded.filename END,
			language     = CASE WHEN excluded.language = '' THEN submissions.language ELSE excluded.language END,
			status       = excluded.status,
			message      = excluded.message,
			batch_id     = CASE WHEN excluded.batch_id = '' THEN submissions.batch_id ELSE excluded.batch_id END,
			project_name = CASE WHEN excluded.project_name = '' THEN submissions.project_name ELSE excluded.project_name END,
			result_json  = COALESCE(excluded.result_json, submissions.result_json),
			updated_at   = excluded.updated_at`,
		sub.ID, sub.Filename, string(sub.Language), string(sub.Status), sub.Message, sub.BatchID, sub.ProjectName,
		result, createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("save submission: %w", err)
	}
	return tx.Commit()
}

const submissionColumns = `id, filename, language, status, message, batch_id, project_name, result_json, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	sub := &models.Submission{}
	var lang, status string
	var result sql.NullString
	if err := row.Scan(&sub.ID, &sub.Filename, &lang, &status, &sub.Message, &sub.BatchID, &sub.ProjectName, &result, &sub.CreatedAt); err != nil {
		return nil, err
	}
	sub.Language = models.Language(lang)
	sub.Status = models.Status(status)
	if result.Valid {
		sub.Result = json.RawMessage(result.String)
	}
	return sub, nil
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("submission not found locally: %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns cached submissions, newest first.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*models.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE 1=1"
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, filter.BatchID)
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) DeleteSubmission(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM submissions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperr.NotFound(fmt.Sprintf("submission not found locally: %s", id), nil)
	}
	return nil
}

// --- Chat transcripts ---

// SaveTranscript stores a snapshot of a chat session under a new id.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, tr *models.ChatTranscript) error {
	if tr.SubmissionID == "" {
		return apperr.Validation("transcript needs a submission id")
	}
	if tr.ID == "" {
		tr.ID = newULID()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save transcript: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chat_transcripts (id, submission_id, session_id, created_at) VALUES (?, ?, ?, ?)",
		tr.ID, tr.SubmissionID, tr.SessionID, tr.CreatedAt,
	); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	for i, m := range tr.Messages {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chat_messages (transcript_id, seq, role, content) VALUES (?, ?, ?, ?)",
			tr.ID, i, string(m.Role), m.Content,
		); err != nil {
			return fmt.Errorf("save transcript message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, id string) (*models.ChatTranscript, error) {
	tr := &models.ChatTranscript{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, submission_id, session_id, created_at FROM chat_transcripts WHERE id = ?", id,
	).Scan(&tr.ID, &tr.SubmissionID, &tr.SessionID, &tr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("transcript not found: %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}

	msgs, err := s.transcriptMessages(ctx, tr.ID)
	if err != nil {
		return nil, err
	}
	tr.Messages = msgs
	return tr, nil
}

// ListTranscripts returns the transcripts saved for a submission, oldest
// first, with their messages. An empty submissionID lists all of them.
func (s *SQLiteStore) ListTranscripts(ctx context.Context, submissionID string) ([]*models.ChatTranscript, error) {
	query := "SELECT id, submission_id, session_id, created_at FROM chat_transcripts"
	var args []any
	if submissionID != "" {
		query += " WHERE submission_id = ?"
		args = append(args, submissionID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	var out []*models.ChatTranscript
	for rows.Next() {
		tr := &models.ChatTranscript{}
		if err := rows.Scan(&tr.ID, &tr.SubmissionID, &tr.SessionID, &tr.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, tr := range out {
		if tr.Messages, err = s.transcriptMessages(ctx, tr.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) transcriptMessages(ctx context.Context, transcriptID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content FROM chat_messages WHERE transcript_id = ? ORDER BY seq", transcriptID)
	if err != nil {
		return nil, fmt.Errorf("list transcript messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []models.ChatMessage
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan transcript message: %w", err)
		}
		msgs = append(msgs, models.ChatMessage{Role: models.Role(role), Content: content})
	}
	return msgs, rows.Err()
}
