package storage

import (
	"context"
	"errors"
	"strings"

	"relaybot/pkg/logx"
)

// Store is the persistence API used by the mailing core and the UI layer.
type Store interface {
	// Tasks.
	CreateTask(ctx context.Context, t Task) (int64, error)
	ActiveTasks(ctx context.Context) ([]Task, error)
	ActiveTasksForOwner(ctx context.Context, ownerID int64) ([]Task, error)
	MarkLastRun(ctx context.Context, taskID int64) error
	// DeactivateTask is idempotent: deactivating a missing or already
	// inactive task is a no-op, never an error.
	DeactivateTask(ctx context.Context, taskID int64) error

	// Templates.
	CreateTemplate(ctx context.Context, t Template) (int64, error)
	Template(ctx context.Context, id int64) (*Template, error)
	TemplatesForOwner(ctx context.Context, ownerID int64) ([]Template, error)
	// DeleteTemplate removes the template and every task referencing it.
	DeleteTemplate(ctx context.Context, ownerID, id int64) error

	// Accounts.
	Account(ctx context.Context, telegramID int64) (*Account, error)
	SaveAccount(ctx context.Context, a Account) error
	ClearSession(ctx context.Context, telegramID int64) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
