package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

func (s *sqliteStore) CreateTask(ctx context.Context, t Task) (int64, error) {
	dests, err := encodeDestinations(t.Destinations)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(owner_id, template_id, destinations, start_time, end_time, interval_seconds, is_active)
		 VALUES(?,?,?,?,?,?,1)`,
		t.OwnerID, t.TemplateID, dests, t.StartTime, t.EndTime, t.IntervalSeconds,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ActiveTasks(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx,
		`SELECT id, owner_id, template_id, destinations, start_time, end_time, interval_seconds, last_run, is_active, created_at
		 FROM tasks WHERE is_active = 1 ORDER BY id`)
}

func (s *sqliteStore) ActiveTasksForOwner(ctx context.Context, ownerID int64) ([]Task, error) {
	return s.queryTasks(ctx,
		`SELECT id, owner_id, template_id, destinations, start_time, end_time, interval_seconds, last_run, is_active, created_at
		 FROM tasks WHERE is_active = 1 AND owner_id = ? ORDER BY id`, ownerID)
}

func (s *sqliteStore) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t        Task
			dests    string
			lastRun  sql.NullString
			created  sql.NullString
			isActive int
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.TemplateID, &dests, &t.StartTime, &t.EndTime,
			&t.IntervalSeconds, &lastRun, &isActive, &created); err != nil {
			return nil, err
		}
		t.Active = isActive != 0
		if t.Destinations, err = decodeDestinations(dests); err != nil {
			// A corrupt row should not block rehydration of the others.
			s.log.Warn("skipping task with corrupt destinations", logx.Int64("task_id", t.ID), logx.Err(err))
			continue
		}
		if ts, ok := parseSQLiteTime(lastRun); ok {
			t.LastRun = &ts
		}
		if ts, ok := parseSQLiteTime(created); ok {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkLastRun(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_run = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), taskID)
	return err
}

func (s *sqliteStore) DeactivateTask(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET is_active = 0 WHERE id = ?`, taskID)
	return err
}

// ---- templates ----

func (s *sqliteStore) CreateTemplate(ctx context.Context, t Template) (int64, error) {
	ents, err := encodeEntities(t.Entities)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates(owner_id, name, content, media_kind, caption, entities) VALUES(?,?,?,?,?,?)`,
		t.OwnerID, t.Name, t.Content, t.MediaKind, t.Caption, ents,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) Template(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, content, media_kind, caption, entities, created_at FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (s *sqliteStore) TemplatesForOwner(ctx context.Context, ownerID int64) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, content, media_kind, caption, entities, created_at
		 FROM templates WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTemplate(ctx context.Context, ownerID, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE template_id = ? AND owner_id = ?`, id, ownerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = ? AND owner_id = ?`, id, ownerID); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- accounts ----

func (s *sqliteStore) Account(ctx context.Context, telegramID int64) (*Account, error) {
	var (
		a       Account
		session sql.NullString
		phone   sql.NullString
		created sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram_id, session_string, phone, role, created_at FROM accounts WHERE telegram_id = ?`,
		telegramID).Scan(&a.TelegramID, &session, &phone, &a.Role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.SessionString = session.String
	a.Phone = phone.String
	if ts, ok := parseSQLiteTime(created); ok {
		a.CreatedAt = ts
	}
	return &a, nil
}

func (s *sqliteStore) SaveAccount(ctx context.Context, a Account) error {
	role := a.Role
	if role == "" {
		role = "user"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(telegram_id, session_string, phone, role) VALUES(?,?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		   session_string = excluded.session_string,
		   phone = excluded.phone,
		   role = excluded.role`,
		a.TelegramID, nullStr(a.SessionString), nullStr(a.Phone), role,
	)
	return err
}

func (s *sqliteStore) ClearSession(ctx context.Context, telegramID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET session_string = NULL WHERE telegram_id = ?`, telegramID)
	return err
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		t       Template
		ents    string
		created sql.NullString
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Content, &t.MediaKind, &t.Caption, &ents, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Entities, err = decodeEntities(ents); err != nil {
		return nil, err
	}
	if ts, ok := parseSQLiteTime(created); ok {
		t.CreatedAt = ts
	}
	return &t, nil
}

func parseSQLiteTime(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, v.String); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
