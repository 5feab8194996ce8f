package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/soaringjerry/Checkin/internal/services"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ services.Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at path, applies migrations
// and returns a ready store. ":memory:" gives a private in-memory database.
func Open(path, migrationsDir string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	inMemory := path == ":memory:"
	const params = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	dsn := "file::memory:?" + params
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?%s&_journal_mode=WAL&_synchronous=NORMAL", filepath.ToSlash(path), params)
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(8)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	store, err := NewSQLiteStore(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := RunMigrations(sqlDB, migrationsDir); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		log.Errorf("sqlite store: %s: %v", prefix, err)
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Templates ---

const templateColumns = `id, title, questions, owner_kind, owner_coach_id, parent_template_id, created_at, updated_at`

func scanTemplate(row rowScanner) (*models.Template, error) {
	var (
		t                   models.Template
		questions           string
		ownerKind           string
		ownerCoach, parent  sql.NullString
		createdAt, updateAt string
	)
	if err := row.Scan(&t.ID, &t.Title, &questions, &ownerKind, &ownerCoach, &parent, &createdAt, &updateAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of %s: %w", t.ID, err)
	}
	t.Owner = models.Owner{Kind: models.OwnerKind(ownerKind), CoachID: ownerCoach.String}
	t.ParentTemplateID = parent.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updateAt)
	return &t, nil
}

func (s *SQLiteStore) InsertTemplate(ctx context.Context, t *models.Template) error {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, string(questions), string(t.Owner.Kind), toNullString(t.Owner.CoachID), toNullString(t.ParentTemplateID),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("insert template %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (s *SQLiteStore) ListTemplatesVisibleTo(ctx context.Context, coachID string) ([]*models.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates
      WHERE owner_kind = 'system' OR (owner_kind = 'coach' AND owner_coach_id = ?)
      ORDER BY rowid ASC`, coachID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr("ListTemplatesVisibleTo: rows.Close", cerr)
		}
	}()
	out := []*models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTemplate runs fn inside an immediate transaction and writes back with
// an updated_at guard. A guard miss means another writer got in first.
func (s *SQLiteStore) UpdateTemplate(ctx context.Context, id string, fn func(t *models.Template) error) (updated *models.Template, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	cur, err := scanTemplate(tx.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err = fn(next); err != nil {
		return nil, err
	}
	questions, err := json.Marshal(next.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE templates SET title = ?, questions = ?, updated_at = ?
      WHERE id = ? AND updated_at = ?`, next.Title, string(questions), formatTime(next.UpdatedAt), id, formatTime(cur.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("update template %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		err = models.ErrConflict
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	next.ID = cur.ID
	return next, nil
}

// --- Assignments ---

const assignmentColumns = `id, coach_id, trainee_id, source_template_id, title, questions, status, assigned_at, answered_at`

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var (
		a          models.Assignment
		questions  string
		status     string
		assignedAt string
		answeredAt sql.NullString
	)
	if err := row.Scan(&a.ID, &a.CoachID, &a.TraineeID, &a.SourceTemplateID, &a.Title, &questions, &status, &assignedAt, &answeredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(questions), &a.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of %s: %w", a.ID, err)
	}
	a.Status = models.AssignmentStatus(status)
	a.AssignedAt = parseTime(assignedAt)
	if answeredAt.Valid {
		t := parseTime(answeredAt.String)
		a.AnsweredAt = &t
	}
	return &a, nil
}

func (s *SQLiteStore) InsertAssignment(ctx context.Context, a *models.Assignment) error {
	questions, err := json.Marshal(a.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO assignments (`+assignmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		a.ID, a.CoachID, a.TraineeID, a.SourceTemplateID, a.Title, string(questions), string(a.Status), formatTime(a.AssignedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("insert assignment %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	return scanAssignment(s.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
}

func (s *SQLiteStore) ListAssignmentsByTrainee(ctx context.Context, traineeID string) ([]*models.Assignment, error) {
	return s.listAssignments(ctx, `trainee_id = ?`, traineeID)
}

func (s *SQLiteStore) ListAssignmentsByCoach(ctx context.Context, coachID string) ([]*models.Assignment, error) {
	return s.listAssignments(ctx, `coach_id = ?`, coachID)
}

func (s *SQLiteStore) listAssignments(ctx context.Context, where string, arg string) ([]*models.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE `+where+` ORDER BY assigned_at DESC, id DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr("listAssignments: rows.Close", cerr)
		}
	}()
	out := []*models.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FinalizeAnswers flips the assignment with a conditional update and stores
// the answer set in the same transaction.
func (s *SQLiteStore) FinalizeAnswers(ctx context.Context, set *models.AnswerSet) (err error) {
	answers, err := json.Marshal(set.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status = 'answered', answered_at = ?
      WHERE id = ? AND status = 'pending'`, formatTime(set.SubmittedAt), set.AssignmentID)
	if err != nil {
		return fmt.Errorf("mark answered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		if qerr := tx.QueryRowContext(ctx, `SELECT 1 FROM assignments WHERE id = ?`, set.AssignmentID).Scan(&one); errors.Is(qerr, sql.ErrNoRows) {
			err = models.ErrNotFound
		} else {
			err = models.ErrConflict
		}
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO answer_sets (assignment_id, trainee_id, answers, submitted_at) VALUES (?, ?, ?, ?)`,
		set.AssignmentID, set.TraineeID, string(answers), formatTime(set.SubmittedAt)); err != nil {
		if isUniqueViolation(err) {
			err = models.ErrConflict
			return err
		}
		return fmt.Errorf("insert answer set: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAnswerSet(ctx context.Context, assignmentID string) (*models.AnswerSet, error) {
	var (
		set         models.AnswerSet
		answers     string
		submittedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT assignment_id, trainee_id, answers, submitted_at FROM answer_sets WHERE assignment_id = ?`, assignmentID).
		Scan(&set.AssignmentID, &set.TraineeID, &answers, &submittedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &set.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of %s: %w", assignmentID, err)
	}
	set.SubmittedAt = parseTime(submittedAt)
	return &set, nil
}

// --- Audit ---

func (s *SQLiteStore) AddAudit(ctx context.Context, e models.AuditEntry) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (time, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		formatTime(e.Time), e.Actor, e.Action, e.Target, e.Note)
	s.logErr("AddAudit", err)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, actor string) ([]models.AuditEntry, error) {
	query := `SELECT time, actor, action, target, note FROM audit_log`
	args := []any{}
	if actor != "" {
		query += ` WHERE actor = ?`
		args = append(args, actor)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr("ListAudit: rows.Close", cerr)
		}
	}()
	out := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var ts string
		if err := rows.Scan(&ts, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, err
		}
		e.Time = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Users ---

func (s *SQLiteStore) AddUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, pass_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.PassHash, string(u.Role), formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var (
		u         models.User
		role      string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, email, pass_hash, role, created_at FROM users WHERE email = ?`, strings.ToLower(email)).
		Scan(&u.ID, &u.Email, &u.PassHash, &role, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	u.Role = models.Role(role)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}
