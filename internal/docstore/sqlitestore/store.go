// Package sqlitestore implements docstore.Store on a local SQLite file. It
// stands in for the cloud store in development and single-host setups. Watches
// poll the row's updated_at.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/logger"
)

const (
	selectDocument = `SELECT body, updated_at FROM documents WHERE path = ?`
	upsertDocument = `
INSERT INTO documents (path, body, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    body = excluded.body,
    updated_at = excluded.updated_at`
)

// DefaultPollInterval is how often a watch checks for changes.
const DefaultPollInterval = time.Second

// Store is a SQLite-backed docstore.Store.
type Store struct {
	db           *sql.DB
	pollInterval time.Duration
	log          *logger.Logger
	gate         docstore.AuthGate
	now          func() time.Time
}

// New wraps db. pollInterval <= 0 uses DefaultPollInterval.
func New(db *sql.DB, pollInterval time.Duration, log *logger.Logger) *Store {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, pollInterval: pollInterval, log: log, now: time.Now}
}

// Authenticate checks the database is reachable and returns an anonymous identity.
func (s *Store) Authenticate(ctx context.Context) (docstore.Identity, error) {
	return s.gate.Do(ctx, func(ctx context.Context) (docstore.Identity, error) {
		if err := s.db.PingContext(ctx); err != nil {
			return docstore.Identity{}, fmt.Errorf("ping sqlite: %w", err)
		}
		return docstore.AnonymousIdentity(), nil
	})
}

type row struct {
	doc       docstore.Document
	body      string
	updatedAt time.Time
}

func (s *Store) read(ctx context.Context, path string) (row, bool, error) {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return row{}, false, err
	}
	var r row
	err := s.db.QueryRowContext(ctx, selectDocument, path).Scan(&r.body, &r.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return row{}, false, nil
	}
	if err != nil {
		return row{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(r.body), &r.doc); err != nil {
		return row{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, true, nil
}

// ReadOnce fetches the document at path.
func (s *Store) ReadOnce(ctx context.Context, path string) (docstore.Document, bool, error) {
	r, ok, err := s.read(ctx, path)
	if err != nil || !ok {
		return nil, ok, err
	}
	return r.doc, true, nil
}

// Watch reports the current document and then polls for changes. The first
// successful poll after a failure reports a nil error.
func (s *Store) Watch(ctx context.Context, path string, onChange docstore.ChangeFunc, onError func(error)) (docstore.Unsubscribe, error) {
	last, ok, err := s.read(ctx, path)
	if err != nil {
		return nil, err
	}
	onChange(last.doc, ok)

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		present := ok
		failing := false
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}

			cur, found, err := s.read(watchCtx, path)
			if err != nil {
				if watchCtx.Err() != nil {
					return
				}
				s.log.Debugw("Poll failed", "path", path, "error", err)
				failing = true
				if onError != nil {
					onError(err)
				}
				continue
			}
			if failing {
				failing = false
				s.log.Debugw("Poll recovered", "path", path)
				if onError != nil {
					onError(nil)
				}
			}
			switch {
			case !found && present:
				present = false
				last = row{}
				onChange(nil, false)
			case found && (!present || cur.body != last.body || !cur.updatedAt.Equal(last.updatedAt)):
				present = true
				last = cur
				onChange(cur.doc, true)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// Write replaces the document at path.
func (s *Store) Write(ctx context.Context, path string, doc docstore.Document) error {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return &docstore.WriteError{Kind: docstore.TransientFailure, Path: path, Err: err}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return &docstore.WriteError{Kind: docstore.TransientFailure, Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	if _, err := s.db.ExecContext(ctx, upsertDocument, path, string(body), s.now().UTC()); err != nil {
		return &docstore.WriteError{Kind: classify(err), Path: path, Err: err}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close(ctx context.Context) error {
	s.gate.Reset()
	return s.db.Close()
}

func classify(err error) docstore.WriteErrorKind {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
			return docstore.PermissionDenied
		}
	}
	return docstore.TransientFailure
}

var _ docstore.Store = (*Store)(nil)
