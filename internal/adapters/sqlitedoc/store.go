// Package sqlitedoc implements the remote document store on SQLite. Documents are JSON
// bodies keyed by (collection, id); queries filter and order with json_extract. Edge
// changes are appended to an outbox table in the same transaction as the document write
// and delivered to subscribers by polling it.
package sqlitedoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	doc_id     TEXT NOT NULL,
	op         TEXT NOT NULL,
	data       TEXT NOT NULL
);`

// DefaultPollInterval is used when Open is given a non-positive interval.
const DefaultPollInterval = 2 * time.Second

type docRow struct {
	ID   string `db:"id"`
	Data string `db:"data"`
}

// Store is a ports.DocumentStore and ports.EdgeEventSource backed by a SQLite database.
type Store struct {
	db     *sqlx.DB
	edges  map[string]bool
	poll   time.Duration
	logger ports.Logger

	mu sync.Mutex
	// cursors holds the last sequence number handed to each live subscriber.
	cursors map[*cursor]struct{}
}

// Open opens or creates the database at dsn. Writes and deletes on edgeCollections are
// recorded in the change outbox.
func Open(dsn string, pollInterval time.Duration, logger ports.Logger, edgeCollections ...string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, zerr.With(errors.Join(domain.ErrStoreCreateFailed, err), "dsn", dsn)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, zerr.With(errors.Join(domain.ErrStoreCreateFailed, err), "dsn", dsn)
		}
	}

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	edges := make(map[string]bool, len(edgeCollections))
	for _, c := range edgeCollections {
		edges[c] = true
	}
	return &Store{
		db:      db,
		edges:   edges,
		poll:    pollInterval,
		logger:  logger,
		cursors: make(map[*cursor]struct{}),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read implements ports.DocumentStore.
func (s *Store) Read(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, classify(domain.ErrRemoteReadFailed, err)
	}
	return domain.Document{ID: id, Data: json.RawMessage(data)}, true, nil
}

// Write implements ports.DocumentStore.
func (s *Store) Write(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error {
	if !json.Valid(data) {
		return zerr.With(domain.ErrMarshalFailed, "id", id)
	}

	upsert := `INSERT INTO documents (collection, id, data) VALUES (?, ?, json(?))
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data`
	if merge {
		upsert = `INSERT INTO documents (collection, id, data) VALUES (?, ?, json(?))
		ON CONFLICT (collection, id) DO UPDATE SET data = json_patch(documents.data, excluded.data)`
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var existed bool
		if err := tx.GetContext(ctx, &existed,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = ? AND id = ?)`, collection, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsert, collection, id, string(data)); err != nil {
			return err
		}
		if existed || !s.edges[collection] {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO changes (collection, doc_id, op, data)
			SELECT collection, id, ?, data FROM documents WHERE collection = ? AND id = ?`,
			string(domain.EdgeCreated), collection, id)
		return err
	})
}

// Delete implements ports.DocumentStore.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if s.edges[collection] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO changes (collection, doc_id, op, data)
				SELECT collection, id, ?, data FROM documents WHERE collection = ? AND id = ?`,
				string(domain.EdgeDeleted), collection, id); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
		return err
	})
}

// Query implements ports.DocumentStore.
func (s *Store) Query(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	if len(q.In) > domain.MaxQueryIDs {
		return nil, zerr.With(domain.ErrTooManyIDs, "ids", len(q.In))
	}
	if q.Field != "" && len(q.In) == 0 {
		return nil, nil
	}

	orderBy := "$.__none"
	if q.OrderBy != "" {
		orderBy = "$." + q.OrderBy
	}

	inner := `SELECT id, data, CAST(COALESCE(json_extract(data, ?), 0) AS INTEGER) AS ts
		FROM documents WHERE collection = ?`
	args := []any{orderBy, q.Collection}
	if q.Field != "" {
		inner += ` AND json_extract(data, ?) IN (?)`
		args = append(args, "$."+q.Field, q.In)
	}

	stmt := `SELECT id, data FROM (` + inner + `)`
	if q.After != nil {
		stmt += ` WHERE ts < ? OR (ts = ? AND id > ?)`
		args = append(args, q.After.Timestamp, q.After.Timestamp, q.After.ID)
	}
	stmt += ` ORDER BY ts DESC, id ASC`
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	stmt, args, err := sqlx.In(stmt, args...)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to expand query")
	}

	var rows []docRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(stmt), args...); err != nil {
		return nil, classify(domain.ErrRemoteQueryFailed, err)
	}
	return documents(rows), nil
}

// Increment implements ports.DocumentStore.
func (s *Store) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	path := "$." + field
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES (?, ?, json_object(?, MAX(?, 0)))
		ON CONFLICT (collection, id) DO UPDATE SET
			data = json_set(documents.data, ?, MAX(COALESCE(json_extract(documents.data, ?), 0) + ?, 0))`,
		collection, id, field, delta, path, path, delta)
	if err != nil {
		return zerr.With(classify(domain.ErrRemoteWriteFailed, err), "field", field)
	}
	return nil
}

// Count implements ports.DocumentStore.
func (s *Store) Count(ctx context.Context, collection, field, value string) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM documents WHERE collection = ? AND json_extract(data, ?) = ?`,
		collection, "$."+field, value)
	if err != nil {
		return 0, classify(domain.ErrRemoteQueryFailed, err)
	}
	return n, nil
}

// List implements ports.DocumentStore.
func (s *Store) List(ctx context.Context, collection, afterID string, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []docRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, data FROM documents WHERE collection = ? AND id > ? ORDER BY id LIMIT ?`,
		collection, afterID, limit)
	if err != nil {
		return nil, classify(domain.ErrRemoteQueryFailed, err)
	}
	return documents(rows), nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(domain.ErrRemoteWriteFailed, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(domain.ErrRemoteWriteFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(domain.ErrRemoteWriteFailed, err)
	}
	return nil
}

func documents(rows []docRow) []domain.Document {
	docs := make([]domain.Document, len(rows))
	for i, r := range rows {
		docs[i] = domain.Document{ID: r.ID, Data: json.RawMessage(r.Data)}
	}
	return docs
}

// classify joins err with sentinel, adding domain.ErrTransient when SQLite reports
// contention.
func classify(sentinel, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.Join(sentinel, domain.ErrTransient, err)
		}
	}
	return errors.Join(sentinel, err)
}
