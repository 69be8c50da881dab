// Package store is the gateway to the persistent task and user collections.
// It owns the SQLite database, classifies driver failures into the error
// taxonomy shared with the transport, and tracks its own reachability so the
// health endpoint can answer without probing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Options bound the store's concurrency: PoolSize is the fixed number of
// outstanding database connections, OpTimeout caps every single operation.
type Options struct {
	PoolSize  int
	OpTimeout time.Duration
}

type Store struct {
	sql       *sql.DB
	opTimeout time.Duration
	reachable atomic.Bool
}

func Open(path string, opts Options) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pool := opts.PoolSize
	if pool <= 0 {
		pool = 1
	}
	conn.SetMaxOpenConns(pool)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	timeout := opts.OpTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Store{sql: conn, opTimeout: timeout}
	s.reachable.Store(true)
	return s, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) Migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			owner_email TEXT NOT NULL,
			fields      TEXT NOT NULL DEFAULT '{}',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}
	if _, err := s.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_email)`); err != nil {
		return fmt.Errorf("index tasks: %w", err)
	}
	_, err = s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create users: %w", err)
	}
	return nil
}

// Reachable reports the store's connection state as of the last operation.
// It never touches the database; the health endpoint depends on that.
func (s *Store) Reachable() bool {
	return s.reachable.Load()
}

// Ping issues a live connectivity check and updates the reachability flag.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.track(s.sql.PingContext(ctx))
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// track classifies err and folds the outcome into the reachability flag.
// NotFound and InvalidRequest count as reachable: the store answered.
func (s *Store) track(err error) error {
	err = classify(err)
	s.reachable.Store(!errors.Is(err, ErrUnavailable))
	return err
}

// CreateTask inserts t and returns the stored task with its assigned
// identifier. The owner email is required.
func (s *Store) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	if strings.TrimSpace(t.Owner) == "" {
		return nil, fmt.Errorf("%w: task owner email is required", ErrInvalidRequest)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now()
	stored := &Task{
		ID:        uuid.NewString(),
		Owner:     t.Owner,
		Fields:    t.Fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if stored.Fields == nil {
		stored.Fields = map[string]any{}
	}
	fields, err := json.Marshal(stored.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	_, err = s.sql.ExecContext(ctx,
		`INSERT INTO tasks (id, owner_email, fields, created_at, updated_at) VALUES (?,?,?,?,?)`,
		stored.ID, stored.Owner, string(fields), now.UnixMilli(), now.UnixMilli(),
	)
	if err := s.track(err); err != nil {
		return nil, err
	}
	return stored, nil
}

// ListTasksByOwner returns every task owned by email, oldest first. The
// result is never nil so an empty list encodes as a JSON array.
func (s *Store) ListTasksByOwner(ctx context.Context, email string) ([]*Task, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: owner email is required", ErrInvalidRequest)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, owner_email, fields, created_at, updated_at
		 FROM tasks WHERE owner_email = ? ORDER BY created_at, id`, email)
	if err := s.track(err); err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, s.track(err)
		}
		tasks = append(tasks, t)
	}
	if err := s.track(rows.Err()); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask replaces the mutable field set of the task with id: Fields are
// replaced wholesale, the owner only when patch.Owner is non-empty, and the
// identifier never. Returns the full updated document, or ErrNotFound when
// no row matched (zero documents modified).
func (s *Store) UpdateTask(ctx context.Context, id string, patch *Task) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidRequest)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	fieldsMap := patch.Fields
	if fieldsMap == nil {
		fieldsMap = map[string]any{}
	}
	fields, err := json.Marshal(fieldsMap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	tx, err := s.sql.BeginTx(ctx, nil)
	if err := s.track(err); err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	var res sql.Result
	if patch.Owner != "" {
		res, err = tx.ExecContext(ctx,
			`UPDATE tasks SET owner_email = ?, fields = ?, updated_at = ? WHERE id = ?`,
			patch.Owner, string(fields), now.UnixMilli(), id)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE tasks SET fields = ?, updated_at = ? WHERE id = ?`,
			string(fields), now.UnixMilli(), id)
	}
	if err := s.track(err); err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err := s.track(err); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, owner_email, fields, created_at, updated_at FROM tasks WHERE id = ?`, id)
	updated, err := scanTask(row)
	if err := s.track(err); err != nil {
		return nil, err
	}
	if err := s.track(tx.Commit()); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes the task with id. ErrNotFound when no row was deleted.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidRequest)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.sql.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err := s.track(err); err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err := s.track(err); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts u and returns the stored user with its assigned
// identifier. Email is required and unique.
func (s *Store) CreateUser(ctx context.Context, u *User) (*User, error) {
	if strings.TrimSpace(u.Email) == "" {
		return nil, fmt.Errorf("%w: user email is required", ErrInvalidRequest)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	stored := &User{
		ID:           uuid.NewString(),
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		CreatedAt:    time.Now(),
	}
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?,?,?,?,?)`,
		stored.ID, stored.Email, stored.Name, stored.PasswordHash, stored.CreatedAt.UnixMilli(),
	)
	if err := s.track(err); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: user email is required", ErrInvalidRequest)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.sql.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?`, email)
	var u User
	var createdAt int64
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &createdAt)
	if err := s.track(err); err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	return &u, nil
}

// UpdateUserPassword replaces the stored password hash for email.
func (s *Store) UpdateUserPassword(ctx context.Context, email, passwordHash string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: user email is required", ErrInvalidRequest)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.sql.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE email = ?`, passwordHash, email)
	if err := s.track(err); err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err := s.track(err); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var fields string
	var createdAt, updatedAt int64
	if err := row.Scan(&t.ID, &t.Owner, &fields, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &t.Fields); err != nil {
		return nil, fmt.Errorf("decode task fields: %w", err)
	}
	if t.Fields == nil {
		t.Fields = map[string]any{}
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return &t, nil
}
