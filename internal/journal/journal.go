// Package journal keeps a history of emitted events in SQLite. It stores
// events only; watches are never persisted.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/Hara602/treewatch/internal/model"
	"github.com/Hara602/treewatch/internal/sysutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	src_path TEXT NOT NULL,
	dest_path TEXT NOT NULL DEFAULT '',
	is_dir INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_created_at ON events(created_at);
`

// Entry is a stored event.
type Entry struct {
	ID string
	model.Event
}

type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open opens, creating if needed, the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps concurrent writers from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Journal{db: db, logger: sysutil.Log.Named("journal")}, nil
}

// Record stores ev and returns its id.
func (j *Journal) Record(ev model.Event) (string, error) {
	id := uuid.NewString()
	ts := ev.TimeStamp
	if ts.IsZero() {
		ts = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		"INSERT INTO events(id, kind, src_path, dest_path, is_dir, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, ev.Kind.String(), ev.SrcPath, ev.DestPath, ev.IsDirectory, ts.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("record event: %w", err)
	}
	return id, nil
}

// Dispatch records ev, logging failures; it lets the journal be scheduled
// as an observer handler.
func (j *Journal) Dispatch(ev model.Event) {
	if _, err := j.Record(ev); err != nil {
		j.logger.Error("journal write failed", zap.String("path", ev.SrcPath), zap.Error(err))
	}
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	rows, err := j.db.Query(
		"SELECT id, kind, src_path, dest_path, is_dir, created_at FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
			ts   int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.SrcPath, &e.DestPath, &e.IsDirectory, &ts); err != nil {
			return nil, err
		}
		e.Kind, _ = model.ParseKind(kind)
		e.TimeStamp = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before and reports how many went.
func (j *Journal) Prune(before time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, err := j.db.Exec("DELETE FROM events WHERE created_at < ?", before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (j *Journal) Close() error { return j.db.Close() }
