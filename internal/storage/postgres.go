package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"relaybot/pkg/logx"
)

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	st := &postgresStore{db: db, log: log}
	if err := st.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS accounts (
            telegram_id    BIGINT PRIMARY KEY,
            session_string TEXT,
            phone          TEXT,
            role           TEXT NOT NULL DEFAULT 'user',
            created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE TABLE IF NOT EXISTS templates (
            id         BIGSERIAL PRIMARY KEY,
            owner_id   BIGINT NOT NULL,
            name       TEXT NOT NULL DEFAULT '',
            content    TEXT NOT NULL DEFAULT '',
            media_kind TEXT NOT NULL DEFAULT 'text',
            caption    TEXT NOT NULL DEFAULT '',
            entities   TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS idx_templates_owner ON templates(owner_id);
        CREATE TABLE IF NOT EXISTS tasks (
            id               BIGSERIAL PRIMARY KEY,
            owner_id         BIGINT NOT NULL,
            template_id      BIGINT NOT NULL,
            destinations     TEXT NOT NULL DEFAULT '[]',
            start_time       TEXT NOT NULL DEFAULT '00:00',
            end_time         TEXT NOT NULL DEFAULT '23:59',
            interval_seconds INTEGER NOT NULL,
            last_run         TIMESTAMPTZ,
            is_active        BOOLEAN NOT NULL DEFAULT TRUE,
            created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS idx_tasks_active ON tasks(is_active);
        CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, is_active)`)
	return err
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

func (s *postgresStore) CreateTask(ctx context.Context, t Task) (int64, error) {
	dests, err := encodeDestinations(t.Destinations)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO tasks(owner_id, template_id, destinations, start_time, end_time, interval_seconds, is_active)
		 VALUES($1,$2,$3,$4,$5,$6,TRUE) RETURNING id`,
		t.OwnerID, t.TemplateID, dests, t.StartTime, t.EndTime, t.IntervalSeconds,
	).Scan(&id)
	return id, err
}

func (s *postgresStore) ActiveTasks(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx,
		`SELECT id, owner_id, template_id, destinations, start_time, end_time, interval_seconds, last_run, is_active, created_at
		 FROM tasks WHERE is_active ORDER BY id`)
}

func (s *postgresStore) ActiveTasksForOwner(ctx context.Context, ownerID int64) ([]Task, error) {
	return s.queryTasks(ctx,
		`SELECT id, owner_id, template_id, destinations, start_time, end_time, interval_seconds, last_run, is_active, created_at
		 FROM tasks WHERE is_active AND owner_id = $1 ORDER BY id`, ownerID)
}

func (s *postgresStore) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t       Task
			dests   string
			lastRun sql.NullTime
			created time.Time
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.TemplateID, &dests, &t.StartTime, &t.EndTime,
			&t.IntervalSeconds, &lastRun, &t.Active, &created); err != nil {
			return nil, err
		}
		if t.Destinations, err = decodeDestinations(dests); err != nil {
			s.log.Warn("skipping task with corrupt destinations", logx.Int64("task_id", t.ID), logx.Err(err))
			continue
		}
		if lastRun.Valid {
			ts := lastRun.Time
			t.LastRun = &ts
		}
		t.CreatedAt = created
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *postgresStore) MarkLastRun(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_run = now() WHERE id = $1`, taskID)
	return err
}

func (s *postgresStore) DeactivateTask(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET is_active = FALSE WHERE id = $1`, taskID)
	return err
}

// ---- templates ----

func (s *postgresStore) CreateTemplate(ctx context.Context, t Template) (int64, error) {
	ents, err := encodeEntities(t.Entities)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO templates(owner_id, name, content, media_kind, caption, entities)
		 VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
		t.OwnerID, t.Name, t.Content, t.MediaKind, t.Caption, ents,
	).Scan(&id)
	return id, err
}

func (s *postgresStore) Template(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, content, media_kind, caption, entities, created_at FROM templates WHERE id = $1`, id)
	return scanPGTemplate(row)
}

func (s *postgresStore) TemplatesForOwner(ctx context.Context, ownerID int64) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, content, media_kind, caption, entities, created_at
		 FROM templates WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanPGTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteTemplate(ctx context.Context, ownerID, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE template_id = $1 AND owner_id = $2`, id, ownerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = $1 AND owner_id = $2`, id, ownerID); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- accounts ----

func (s *postgresStore) Account(ctx context.Context, telegramID int64) (*Account, error) {
	var (
		a       Account
		session sql.NullString
		phone   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram_id, session_string, phone, role, created_at FROM accounts WHERE telegram_id = $1`,
		telegramID).Scan(&a.TelegramID, &session, &phone, &a.Role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.SessionString = session.String
	a.Phone = phone.String
	return &a, nil
}

func (s *postgresStore) SaveAccount(ctx context.Context, a Account) error {
	role := a.Role
	if role == "" {
		role = "user"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(telegram_id, session_string, phone, role) VALUES($1,$2,$3,$4)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		   session_string = EXCLUDED.session_string,
		   phone = EXCLUDED.phone,
		   role = EXCLUDED.role`,
		a.TelegramID, nullStr(a.SessionString), nullStr(a.Phone), role,
	)
	return err
}

func (s *postgresStore) ClearSession(ctx context.Context, telegramID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET session_string = NULL WHERE telegram_id = $1`, telegramID)
	return err
}

func scanPGTemplate(row rowScanner) (*Template, error) {
	var (
		t    Template
		ents string
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Content, &t.MediaKind, &t.Caption, &ents, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Entities, err = decodeEntities(ents); err != nil {
		return nil, err
	}
	return &t, nil
}
