// Package wcstore is the administrative-data backing store for
// internal/wc/localwc: one sqlite database per working copy root,
// recording versioned entries, pending commit items, and tracked
// temp files. It is a minimal backing store sufficient to drive the
// copy/move dispatch core end-to-end, not a full working-copy format: there
// is no text-base store, no conflict tracking, and no recursive checkout
// bookkeeping beyond what the dispatch core's WC collaborator interface
// requires.
package wcstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"golang.org/x/sys/unix"
)

// Store wraps the sqlite connection backing one working copy's
// administrative data, plus an advisory flock guarding the admin area
// against concurrent vcscopy processes. The
// flock is taken once per process and refcounted, so nested admin locks
// (a move's source and destination locks) share the one OS-level hold.
type Store struct {
	conn *sql.DB
	path string

	lockMu    sync.Mutex
	lockFd    int
	lockCount int
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	path          TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	revision      INTEGER NOT NULL,
	copy_from_rev INTEGER NOT NULL DEFAULT 0,
	kind          INTEGER NOT NULL,
	scheduled_for_delete INTEGER NOT NULL DEFAULT 0,
	has_working_file     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS pending (
	path   TEXT PRIMARY KEY,
	url    TEXT NOT NULL,
	action INTEGER NOT NULL,
	props  TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS tempfiles (
	path TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS props (
	path  TEXT NOT NULL,
	name  TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (path, name)
);
`

// Open opens (creating if absent) the admin database under adminDir, which
// is conventionally ".vcscopy" at a working copy's root.
func Open(adminDir string) (*Store, error) {
	if err := os.MkdirAll(adminDir, 0o755); err != nil {
		return nil, fmt.Errorf("wcstore: create admin dir: %w", err)
	}
	dbPath := filepath.Join(adminDir, "admin.db")
	conn, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("wcstore: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wcstore: ping: %w", err)
	}
	conn.SetMaxOpenConns(1) // single-writer admin area; avoid sqlite lock contention
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wcstore: enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wcstore: busy_timeout: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wcstore: init schema: %w", err)
	}
	return &Store{conn: conn, path: dbPath}, nil
}

// Close drops any remaining lock holds and closes the database connection.
func (s *Store) Close() error {
	s.lockMu.Lock()
	if s.lockCount > 0 {
		_ = unix.Flock(s.lockFd, unix.LOCK_UN)
		unix.Close(s.lockFd)
		s.lockCount = 0
	}
	s.lockMu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Lock takes an advisory exclusive flock on the admin database file,
// polling non-blocking attempts until a deadline, guarding against a
// second vcscopy process racing on the same working copy. Repeated calls
// from the same process stack: each Lock needs a matching Unlock, and only
// the last Unlock drops the OS-level hold.
func (s *Store) Lock(ctx context.Context) error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.lockCount > 0 {
		s.lockCount++
		return nil
	}

	fd, err := unix.Open(s.path, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("wcstore: open for lock: %w", err)
	}
	deadline := time.Now().Add(30 * time.Second)
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			s.lockFd = fd
			s.lockCount = 1
			return nil
		}
		if err != unix.EWOULDBLOCK || time.Now().After(deadline) {
			unix.Close(fd)
			return fmt.Errorf("wcstore: working copy locked by another process: %w", err)
		}
		select {
		case <-ctx.Done():
			unix.Close(fd)
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Unlock releases one hold on the admin lock, dropping the flock when the
// last hold goes.
func (s *Store) Unlock() error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.lockCount == 0 {
		return nil
	}
	s.lockCount--
	if s.lockCount > 0 {
		return nil
	}
	err := unix.Flock(s.lockFd, unix.LOCK_UN)
	unix.Close(s.lockFd)
	return err
}

// Entry is the row shape for a versioned path.
type Entry struct {
	Path               string
	URL                string
	Revision           int64
	CopyFromRev        int64
	Kind               int
	ScheduledForDelete bool
	HasWorkingFile     bool
}

func (s *Store) PutEntry(ctx context.Context, e Entry) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO entries (path, url, revision, copy_from_rev, kind, scheduled_for_delete, has_working_file)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			url = excluded.url, revision = excluded.revision, copy_from_rev = excluded.copy_from_rev,
			kind = excluded.kind, scheduled_for_delete = excluded.scheduled_for_delete,
			has_working_file = excluded.has_working_file`,
		e.Path, e.URL, e.Revision, e.CopyFromRev, e.Kind, boolToInt(e.ScheduledForDelete), boolToInt(e.HasWorkingFile))
	return err
}

func (s *Store) GetEntry(ctx context.Context, path string) (Entry, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT path, url, revision, copy_from_rev, kind, scheduled_for_delete, has_working_file
		FROM entries WHERE path = ?`, path)
	var e Entry
	var del, hwf int
	if err := row.Scan(&e.Path, &e.URL, &e.Revision, &e.CopyFromRev, &e.Kind, &del, &hwf); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	e.ScheduledForDelete = del != 0
	e.HasWorkingFile = hwf != 0
	return e, true, nil
}

func (s *Store) DeleteEntry(ctx context.Context, path string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM entries WHERE path = ? OR path LIKE ?", path, path+"/%")
	return err
}

// EntriesUnder returns every entry whose path is at or below prefix,
// for HarvestCommitItems-style recursive scans.
func (s *Store) EntriesUnder(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT path, url, revision, copy_from_rev, kind, scheduled_for_delete, has_working_file
		FROM entries WHERE path = ? OR path LIKE ? ORDER BY path`, prefix, prefix+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var del, hwf int
		if err := rows.Scan(&e.Path, &e.URL, &e.Revision, &e.CopyFromRev, &e.Kind, &del, &hwf); err != nil {
			return nil, err
		}
		e.ScheduledForDelete = del != 0
		e.HasWorkingFile = hwf != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Pending is a scheduled-but-uncommitted change, the durable form of
// copyengine.CommitItem.
type Pending struct {
	Path   string
	URL    string
	Action int
	Props  map[string]string
}

func (s *Store) PutPending(ctx context.Context, p Pending) error {
	data, err := json.Marshal(p.Props)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO pending (path, url, action, props) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET url = excluded.url, action = excluded.action, props = excluded.props`,
		p.Path, p.URL, p.Action, string(data))
	return err
}

func (s *Store) PendingUnder(ctx context.Context, prefixes []string) ([]Pending, error) {
	seen := map[string]bool{}
	var out []Pending
	for _, prefix := range prefixes {
		rows, err := s.conn.QueryContext(ctx, `
			SELECT path, url, action, props FROM pending
			WHERE path = ? OR path LIKE ? ORDER BY path`, prefix, prefix+"/%")
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var p Pending
			var propsJSON string
			if err := rows.Scan(&p.Path, &p.URL, &p.Action, &propsJSON); err != nil {
				rows.Close()
				return nil, err
			}
			if seen[p.Path] {
				continue
			}
			seen[p.Path] = true
			if err := json.Unmarshal([]byte(propsJSON), &p.Props); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

func (s *Store) ClearPending(ctx context.Context, path string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM pending WHERE path = ?", path)
	return err
}

// GetPendingProp reads a single property from path's pending-change row, if
// any, the lookup internal/mergeinfo.WCLocal uses to read back a
// history-metadata extension recorded by ExtendHistory before it commits.
func (s *Store) GetPendingProp(ctx context.Context, path, key string) (string, bool, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT props FROM pending WHERE path = ?", path)
	var propsJSON string
	if err := row.Scan(&propsJSON); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	var props map[string]string
	if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
		return "", false, err
	}
	v, ok := props[key]
	return v, ok, nil
}

func (s *Store) AddTempFile(ctx context.Context, path string) error {
	_, err := s.conn.ExecContext(ctx, "INSERT OR REPLACE INTO tempfiles (path, created_at) VALUES (?, ?)",
		path, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) RemoveTempFile(ctx context.Context, path string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM tempfiles WHERE path = ?", path)
	return err
}

// ListTempFiles returns every tracked tempfile not yet removed, oldest
// first, for the post-commit cleanup sweep.
func (s *Store) ListTempFiles(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT path FROM tempfiles ORDER BY created_at, path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
