// Package store implements the durable two-tier cache's disk layer: a
// SQLite-backed schema keyed by issue key and workspace, holding issue
// markdown, comment sidecars, sync cursors and a derived ticket index.
// A single *sql.DB runs in WAL mode, with schema installed from an
// embedded .sql file, and all access serialized through one lock that
// recovers from a poisoned critical section by logging and continuing
// rather than propagating the panic.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is a sentinel for a missing row. The readers in this
// package do not return it; they report a missing row through their
// boolean found result instead.
var ErrNotFound = fmt.Errorf("store: not found")

// PersistentIssue is the durable row for an issue's markdown body.
type PersistentIssue struct {
	Markdown []byte
	Updated  *string
}

// Sidecar is the durable row for an issue's two comment renderings.
type Sidecar struct {
	CommentsMarkdown []byte
	CommentsJSONL    []byte
	Updated          *string
}

// TicketIndexRow is a derived row: one per issue, independent of the
// primary issues table's own storage layout.
type TicketIndexRow struct {
	ID        string
	Project   string
	UpdatedAt *string
	Path      string
}

// IssueUpsert is one row for UpsertIssuesBatch.
type IssueUpsert struct {
	Key      string
	Markdown []byte
	Updated  *string
}

// SidecarUpsert is one row for UpsertIssueSidecarsBatch.
type SidecarUpsert struct {
	Key              string
	CommentsMarkdown []byte
	CommentsJSONL    []byte
	Updated          *string
}

// Store wraps the single SQLite connection backing the durable tier.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates a SQLite database at path. The special path
// ":memory:" opens an ephemeral in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	connStr := path
	if path != ":memory:" {
		connStr = "file:" + strings.ReplaceAll(path, " ", "%20") + "?_time_format=sqlite"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateTicketIndex(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ticket index: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withLock runs fn holding the store's single writer lock, recovering
// from a panic inside fn by logging a warning instead of propagating it
// — a poisoned critical section degrades to a warning rather than
// freezing the filesystem.
func (s *Store) withLock(fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[store] recovered from panic in locked section: %v", r)
			err = fmt.Errorf("store: recovered panic: %v", r)
		}
	}()
	return fn()
}

// nowString returns the current time as a decimal Unix-seconds string.
// A clock before the epoch is clamped to "0" with a warning.
func nowString() string {
	secs := time.Now().Unix()
	if secs < 0 {
		log.Printf("[store] system clock before epoch, clamping timestamp to 0")
		return "0"
	}
	return strconv.FormatInt(secs, 10)
}

// deriveProject returns the project prefix of an issue key
// ("PROJ-123" -> "PROJ"), or "UNKNOWN" if the key has no "-".
func deriveProject(key string) string {
	if idx := strings.Index(key, "-"); idx > 0 {
		return key[:idx]
	}
	return "UNKNOWN"
}

func issuePath(key string) string {
	return fmt.Sprintf("projects/%s/%s.md", deriveProject(key), key)
}

// migrateTicketIndex backfills ticket_index from any pre-existing issues
// rows on first open, using the derived project/path rules.
func (s *Store) migrateTicketIndex(ctx context.Context) error {
	return s.withLock(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT i.issue_key, i.updated, i.cached_at
			FROM issues i
			LEFT JOIN ticket_index t ON t.issue_key = i.issue_key
			WHERE t.issue_key IS NULL
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		type pending struct {
			key, cachedAt string
			updated       sql.NullString
		}
		var backfill []pending
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.key, &p.updated, &p.cachedAt); err != nil {
				return err
			}
			backfill = append(backfill, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(backfill) == 0 {
			return nil
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, p := range backfill {
			var updated any
			if p.updated.Valid {
				updated = p.updated.String
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ticket_index (issue_key, project, updated_at, path, last_indexed_at)
				VALUES (?, ?, ?, ?, ?)
			`, p.key, deriveProject(p.key), updated, issuePath(p.key), p.cachedAt); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetIssue returns the durable row for key, side-effecting an
// access_count increment. A failed increment is logged but never masks
// a successful read.
func (s *Store) GetIssue(ctx context.Context, key string) (PersistentIssue, bool, error) {
	var (
		issue PersistentIssue
		found bool
	)
	err := s.withLock(func() error {
		var updated sql.NullString
		row := s.db.QueryRowContext(ctx, `SELECT markdown, updated FROM issues WHERE issue_key = ?`, key)
		if err := row.Scan(&issue.Markdown, &updated); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		found = true
		if updated.Valid {
			issue.Updated = &updated.String
		}

		if _, err := s.db.ExecContext(ctx, `UPDATE issues SET access_count = access_count + 1 WHERE issue_key = ?`, key); err != nil {
			log.Printf("[store] advisory access_count increment failed for %s: %v", key, err)
		}
		return nil
	})
	if err != nil {
		return PersistentIssue{}, false, err
	}
	return issue, found, nil
}

// UpsertIssue inserts or updates an issue row and its derived
// ticket_index row in a single transaction.
func (s *Store) UpsertIssue(ctx context.Context, key string, markdown []byte, updated *string) error {
	return s.UpsertIssuesBatch(ctx, []IssueUpsert{{Key: key, Markdown: markdown, Updated: updated}})
}

// UpsertIssuesBatch writes every row in one transaction; partial
// application is forbidden — any error rolls back the whole batch.
func (s *Store) UpsertIssuesBatch(ctx context.Context, rows []IssueUpsert) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withLock(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := nowString()
		for _, r := range rows {
			var updated any
			if r.Updated != nil {
				updated = *r.Updated
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issues (issue_key, markdown, updated, cached_at, access_count)
				VALUES (?, ?, ?, ?, 0)
				ON CONFLICT(issue_key) DO UPDATE SET
					markdown = excluded.markdown,
					updated = excluded.updated,
					cached_at = excluded.cached_at
			`, r.Key, r.Markdown, updated, now); err != nil {
				return fmt.Errorf("upsert issue %s: %w", r.Key, err)
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ticket_index (issue_key, project, updated_at, path, last_indexed_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(issue_key) DO UPDATE SET
					project = excluded.project,
					updated_at = excluded.updated_at,
					path = excluded.path,
					last_indexed_at = excluded.last_indexed_at
			`, r.Key, deriveProject(r.Key), updated, issuePath(r.Key), now); err != nil {
				return fmt.Errorf("upsert ticket index %s: %w", r.Key, err)
			}
		}
		return tx.Commit()
	})
}

// UpsertIssueSidecarsBatch writes every sidecar row in one transaction.
func (s *Store) UpsertIssueSidecarsBatch(ctx context.Context, rows []SidecarUpsert) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withLock(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := nowString()
		for _, r := range rows {
			var updated any
			if r.Updated != nil {
				updated = *r.Updated
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_sidecars (issue_key, comments_md, comments_jsonl, updated, cached_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(issue_key) DO UPDATE SET
					comments_md = excluded.comments_md,
					comments_jsonl = excluded.comments_jsonl,
					updated = excluded.updated,
					cached_at = excluded.cached_at
			`, r.Key, r.CommentsMarkdown, r.CommentsJSONL, updated, now); err != nil {
				return fmt.Errorf("upsert sidecar %s: %w", r.Key, err)
			}
		}
		return tx.Commit()
	})
}

// GetSidecar returns the durable comment sidecar for key.
func (s *Store) GetSidecar(ctx context.Context, key string) (Sidecar, bool, error) {
	var (
		sc    Sidecar
		found bool
	)
	err := s.withLock(func() error {
		var updated sql.NullString
		row := s.db.QueryRowContext(ctx, `SELECT comments_md, comments_jsonl, updated FROM issue_sidecars WHERE issue_key = ?`, key)
		if err := row.Scan(&sc.CommentsMarkdown, &sc.CommentsJSONL, &updated); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		found = true
		if updated.Valid {
			sc.Updated = &updated.String
		}
		return nil
	})
	if err != nil {
		return Sidecar{}, false, err
	}
	return sc, found, nil
}

// CachedIssueCount counts rows whose key matches "{prefix}-%".
func (s *Store) CachedIssueCount(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.withLock(func() error {
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE issue_key LIKE ?`, prefix+"-%")
		return row.Scan(&n)
	})
	return n, err
}

// ListTicketIndex returns rows in ascending key order. An empty filter
// means "all projects"; otherwise rows are restricted to the listed
// project prefixes.
func (s *Store) ListTicketIndex(ctx context.Context, filter []string) ([]TicketIndexRow, error) {
	var out []TicketIndexRow
	err := s.withLock(func() error {
		query := `SELECT issue_key, project, updated_at, path FROM ticket_index`
		args := make([]any, 0, len(filter))
		if len(filter) > 0 {
			placeholders := make([]string, len(filter))
			for i, p := range filter {
				placeholders[i] = "?"
				args = append(args, p)
			}
			query += ` WHERE project IN (` + strings.Join(placeholders, ",") + `)`
		}
		query += ` ORDER BY issue_key ASC`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var row TicketIndexRow
			var updated sql.NullString
			if err := rows.Scan(&row.ID, &row.Project, &updated, &row.Path); err != nil {
				return err
			}
			if updated.Valid {
				row.UpdatedAt = &updated.String
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

// GetCursor returns the stored sync cursor for a workspace.
func (s *Store) GetCursor(ctx context.Context, workspace string) (string, bool, error) {
	var (
		cursor string
		found  bool
	)
	err := s.withLock(func() error {
		row := s.db.QueryRowContext(ctx, `SELECT last_sync FROM sync_cursor WHERE project = ?`, workspace)
		if err := row.Scan(&cursor); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return cursor, found, err
}

// SetCursor overwrites the stored sync cursor for a workspace.
func (s *Store) SetCursor(ctx context.Context, workspace, cursor string) error {
	return s.withLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_cursor (project, last_sync) VALUES (?, ?)
			ON CONFLICT(project) DO UPDATE SET last_sync = excluded.last_sync
		`, workspace, cursor)
		return err
	})
}

// TicketIndexJSONLine is the JSON shape of one tickets/index.jsonl line.
type TicketIndexJSONLine struct {
	ID        string  `json:"id"`
	Project   string  `json:"project"`
	UpdatedAt *string `json:"updated_at"`
	Path      string  `json:"path"`
}

// MarshalJSONL renders rows as newline-delimited JSON, one object per
// line, with a trailing newline iff the body is non-empty.
func MarshalJSONL(rows []TicketIndexRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	var buf strings.Builder
	for _, r := range rows {
		line := TicketIndexJSONLine{ID: r.ID, Project: r.Project, UpdatedAt: r.UpdatedAt, Path: r.Path}
		b, err := json.Marshal(line)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return []byte(buf.String()), nil
}

// DefaultDBPath returns the default database path under the user's
// config directory.
func DefaultDBPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	return filepath.Join(configDir, "ticketfs", "cache.db")
}
