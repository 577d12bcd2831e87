package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/maruel/natural"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS content (
	key        TEXT PRIMARY KEY NOT NULL,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// contentDB keeps keyed blobs of a single project. Connection is not safe
// for concurrent use so every access is serialized.
type contentDB struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	path string
}

func openContentDB(path string) (*contentDB, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open content database (%s): %w", ErrUnavailable, path, err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: unable to prepare content database (%s): %w", ErrUnavailable, path, err)
	}
	return &contentDB{conn: conn, path: path}, nil
}

// acquire locks connection and arranges for ctx cancellation to interrupt
// running statements. Returned function must be called when done.
func (db *contentDB) acquire(ctx context.Context) (*sqlite.Conn, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	db.mu.Lock()
	if db.conn == nil {
		db.mu.Unlock()
		return nil, nil, ErrUnavailable
	}
	old := db.conn.SetInterrupt(ctx.Done())
	return db.conn, func() {
		db.conn.SetInterrupt(old)
		db.mu.Unlock()
	}, nil
}

// get returns stored value and true, or nil and false when key is absent.
func (db *contentDB) get(ctx context.Context, key string) ([]byte, bool, error) {
	conn, release, err := db.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	var (
		value []byte
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT value FROM content WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				value, err = io.ReadAll(stmt.ColumnReader(0))
				return err
			}})
	if err != nil {
		return nil, false, fmt.Errorf("unable to read %q: %w", key, err)
	}
	return value, found, nil
}

func (db *contentDB) put(ctx context.Context, key string, value []byte, now time.Time) error {
	conn, release, err := db.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = sqlitex.Execute(conn, `
INSERT INTO content (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{key, value, now.UnixMilli()}})
	if err != nil {
		return fmt.Errorf("unable to write %q: %w", key, err)
	}
	return nil
}

// keys lists stored keys in natural order.
func (db *contentDB) keys(ctx context.Context) ([]string, error) {
	conn, release, err := db.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var keys []string
	err = sqlitex.Execute(conn, `SELECT key FROM content`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				keys = append(keys, stmt.ColumnText(0))
				return nil
			}})
	if err != nil {
		return nil, fmt.Errorf("unable to list content keys: %w", err)
	}
	sort.Sort(natural.StringSlice(keys))
	return keys, nil
}

func (db *contentDB) close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}
