package renderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-tone/internal/config"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("render not found")

// timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Render is one catalogued WAV file.
type Render struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id,omitempty"`
	Name            string    `json:"name"`
	Mode            string    `json:"mode"`
	Waveform        string    `json:"waveform"`
	SampleRate      int       `json:"sample_rate"`
	Channels        int       `json:"channels"`
	BitDepth        int       `json:"bit_depth"`
	DurationSeconds float64   `json:"duration_seconds"`
	Frames          int       `json:"frames"`
	SizeBytes       int64     `json:"size_bytes"`
	Path            string    `json:"path,omitempty"`
	Params          []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListOptions filters List.
type ListOptions struct {
	SessionID string
	Limit     int
}

// Store wraps a SQLite-backed catalog of rendered files.
type Store struct {
	db    *sql.DB
	cfg   config.RenderStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the catalog according to config. Ephemeral retention
// keeps nothing and never touches disk.
func Open(ctx context.Context, cfg config.RenderStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("render store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if _, err := s.Prune(ctx); err != nil {
		log.Warn("render store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS renders (
    id TEXT PRIMARY KEY,
    session_id TEXT,
    name TEXT NOT NULL,
    mode TEXT NOT NULL,
    waveform TEXT NOT NULL,
    sample_rate INTEGER NOT NULL,
    channels INTEGER NOT NULL,
    bit_depth INTEGER NOT NULL,
    duration_seconds REAL NOT NULL,
    frames INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    path TEXT,
    params BLOB,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_renders_created ON renders(created_at);
CREATE INDEX IF NOT EXISTS idx_renders_session_created ON renders(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persistent reports whether records survive in the database.
func (s *Store) Persistent() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Record inserts a render. A zero CreatedAt is stamped from the store clock.
func (s *Store) Record(ctx context.Context, r Render) (Render, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	if !s.Persistent() {
		return r, nil
	}
	if r.ID == "" {
		return r, errors.New("render id must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO renders(id, session_id, name, mode, waveform, sample_rate, channels, bit_depth,
		     duration_seconds, frames, size_bytes, path, params, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Name, r.Mode, r.Waveform, r.SampleRate, r.Channels, r.BitDepth,
		r.DurationSeconds, r.Frames, r.SizeBytes, r.Path, r.Params, r.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return r, fmt.Errorf("insert render: %w", err)
	}
	return r, nil
}

const selectColumns = `SELECT id, session_id, name, mode, waveform, sample_rate, channels, bit_depth,
    duration_seconds, frames, size_bytes, path, params, created_at FROM renders`

type scanner interface {
	Scan(dest ...any) error
}

func scanRender(row scanner) (Render, error) {
	var r Render
	var session, path sql.NullString
	var created string
	if err := row.Scan(&r.ID, &session, &r.Name, &r.Mode, &r.Waveform, &r.SampleRate, &r.Channels,
		&r.BitDepth, &r.DurationSeconds, &r.Frames, &r.SizeBytes, &path, &r.Params, &created); err != nil {
		return Render{}, err
	}
	r.SessionID = session.String
	r.Path = path.String
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = ts
	}
	return r, nil
}

// Get returns one render by id.
func (s *Store) Get(ctx context.Context, id string) (Render, error) {
	if !s.Persistent() {
		return Render{}, ErrNotFound
	}
	r, err := scanRender(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Render{}, ErrNotFound
	}
	if err != nil {
		return Render{}, fmt.Errorf("get render: %w", err)
	}
	return r, nil
}

// List returns renders newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Render, error) {
	if !s.Persistent() {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if opts.SessionID != "" {
		rows, err = s.db.QueryContext(ctx, selectColumns+` WHERE session_id = ? ORDER BY created_at DESC, id LIMIT ?`, opts.SessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list renders: %w", err)
	}
	defer rows.Close()

	var renders []Render
	for rows.Next() {
		r, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		renders = append(renders, r)
	}
	return renders, rows.Err()
}

// Prune applies configured retention and returns the removed rows so the
// caller can delete their files. It runs on startup and can be scheduled.
func (s *Store) Prune(ctx context.Context) (removed []Render, err error) {
	if !s.Persistent() {
		return nil, nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var where []string
	var args []any
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		where = append(where, `created_at < ?`)
		args = append(args, cutoff.UTC().Format(timeLayout))
	}
	if s.cfg.MaxRenders > 0 {
		where = append(where, `id IN (SELECT id FROM renders ORDER BY created_at DESC, id LIMIT -1 OFFSET ?)`)
		args = append(args, s.cfg.MaxRenders)
	}
	if len(where) == 0 {
		err = tx.Commit()
		return nil, err
	}
	cond := where[0]
	if len(where) == 2 {
		cond = where[0] + ` OR ` + where[1]
	}

	rows, err := tx.QueryContext(ctx, selectColumns+` WHERE `+cond, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var r Render
		if r, err = scanRender(rows); err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, r)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM renders WHERE `+cond, args...); err != nil {
		return nil, err
	}
	err = tx.Commit()
	return removed, err
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
