package viewstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/lllypuk/actuality/internal/application/appcore"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS views (
	view_type  TEXT    NOT NULL,
	view_id    TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	positions  TEXT    NOT NULL,
	data       TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (view_type, view_id)
)`

// OpenSQLite opens the database at path (":memory:" for a private in-memory
// database) and creates the views table.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := "file::memory:?_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path) +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every connection of an in-memory database is a separate database
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create views table: %w", err)
	}
	return db, nil
}

// SQLiteRepository stores views of one type in the views table of a SQLite
// database opened with OpenSQLite.
type SQLiteRepository[V any] struct {
	db       *sql.DB
	viewType string
	opts     repoOptions
}

var _ appcore.ViewRepository[any] = (*SQLiteRepository[any])(nil)

// NewSQLiteRepository creates a repository for views of the given type.
func NewSQLiteRepository[V any](db *sql.DB, viewType string, opts ...Option) *SQLiteRepository[V] {
	return &SQLiteRepository[V]{
		db:       db,
		viewType: viewType,
		opts:     newRepoOptions(opts),
	}
}

// LoadWithContext returns the view and its context, or appcore.ErrViewNotFound.
func (r *SQLiteRepository[V]) LoadWithContext(ctx context.Context, viewID string) (V, appcore.ViewContext, error) {
	var (
		view      V
		version   int
		positions string
		data      string
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT version, positions, data FROM views WHERE view_type = ? AND view_id = ?`,
		r.viewType, viewID,
	).Scan(&version, &positions, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return view, appcore.ViewContext{}, appcore.ErrViewNotFound
	}
	if err != nil {
		return view, appcore.ViewContext{}, fmt.Errorf("failed to load view %s: %w", viewID, err)
	}

	var list []position
	if err = json.Unmarshal([]byte(positions), &list); err != nil {
		return view, appcore.ViewContext{}, fmt.Errorf("failed to decode positions of view %s: %w", viewID, err)
	}
	if err = json.Unmarshal([]byte(data), &view); err != nil {
		return view, appcore.ViewContext{}, fmt.Errorf("failed to decode view %s: %w", viewID, err)
	}
	return view, storedContext(viewID, version, positionsFromList(list)), nil
}

// UpdateView inserts the first version of a view and updates later versions only
// when the stored version equals vc.Version.
func (r *SQLiteRepository[V]) UpdateView(ctx context.Context, view V, vc appcore.ViewContext) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode view %s: %w", vc.ViewID, err)
	}
	positions, err := json.Marshal(positionsToList(vc.Positions))
	if err != nil {
		return fmt.Errorf("failed to encode positions of view %s: %w", vc.ViewID, err)
	}
	now := time.Now().UTC().UnixMilli()

	var res sql.Result
	if vc.Version == 0 {
		res, err = r.db.ExecContext(ctx, `
INSERT INTO views (view_type, view_id, version, positions, data, updated_at)
VALUES (?, ?, 1, ?, ?, ?)
ON CONFLICT (view_type, view_id) DO NOTHING`,
			r.viewType, vc.ViewID, string(positions), string(data), now,
		)
	} else {
		res, err = r.db.ExecContext(ctx, `
UPDATE views SET version = version + 1, positions = ?, data = ?, updated_at = ?
WHERE view_type = ? AND view_id = ? AND version = ?`,
			string(positions), string(data), now, r.viewType, vc.ViewID, vc.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update view %s: %w", vc.ViewID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update view %s: %w", vc.ViewID, err)
	}
	if affected == 0 {
		r.opts.logger.WarnContext(ctx, "view version conflict",
			slog.String("view_type", r.viewType),
			slog.String("view_id", vc.ViewID),
			slog.Int("expected_version", vc.Version),
		)
		return conflictError(vc.ViewID, vc.Version)
	}
	return nil
}
