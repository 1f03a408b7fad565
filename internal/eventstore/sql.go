package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

type dialect struct {
	name   string
	driver string
	schema []string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// maxOpen of 1 keeps :memory: databases on a single shared connection.
	maxOpen int
}

var (
	sqliteDialect = dialect{
		name:   "sqlite",
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				payload BLOB NOT NULL,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_job_id ON events(job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_timestamp ON events(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_event_type ON events(event_type)`,
		},
		maxOpen: 1,
	}
	postgresDialect = dialect{
		name:   "postgres",
		driver: "pgx",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS events (
				id BIGSERIAL PRIMARY KEY,
				job_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				timestamp BIGINT NOT NULL,
				payload BYTEA NOT NULL,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_job_id ON events(job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_timestamp ON events(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_event_type ON events(event_type)`,
		},
		numbered: true,
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store on database/sql for SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
}

// NewSQLiteStore creates a SQLite-backed event store.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	return openSQL(sqliteDialect, dbPath)
}

// NewPostgresStore creates a Postgres-backed event store using the pgx driver.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	return openSQL(postgresDialect, dsn)
}

func openSQL(d dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, derrors.StoreError("open", err).WithContext("driver", d.name)
	}
	if d.maxOpen > 0 {
		db.SetMaxOpenConns(d.maxOpen)
	}

	store := &SQLStore{db: db, dialect: d}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, derrors.StoreError("initialize schema", err).WithContext("driver", d.name)
	}

	return store, nil
}

func (s *SQLStore) initialize() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Driver names the SQL dialect in use.
func (s *SQLStore) Driver() string { return s.dialect.name }

// Append adds a new event to the store.
func (s *SQLStore) Append(ctx context.Context, jobID, eventType string, payload []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return derrors.StoreError("marshal metadata", err)
		}
	}
	if payload == nil {
		payload = []byte{}
	}

	timestamp := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind("INSERT INTO events (job_id, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?)"),
		jobID, eventType, timestamp, payload, string(metadataJSON),
	)
	if err != nil {
		return derrors.StoreError("append", err).WithContext("job_id", jobID).WithContext("event_type", eventType)
	}

	return nil
}

// GetByJobID retrieves all events for a specific job.
func (s *SQLStore) GetByJobID(ctx context.Context, jobID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind("SELECT id, job_id, event_type, timestamp, payload, metadata FROM events WHERE job_id = ? ORDER BY id"),
		jobID,
	)
	if err != nil {
		return nil, derrors.StoreError("query", err).WithContext("job_id", jobID)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// GetRange retrieves events within a time range.
func (s *SQLStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind("SELECT id, job_id, event_type, timestamp, payload, metadata FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id"),
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, derrors.StoreError("query range", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// ListJobIDs returns job ids ordered by their first event, newest first.
func (s *SQLStore) ListJobIDs(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind("SELECT job_id FROM events GROUP BY job_id ORDER BY MIN(id) DESC LIMIT ?"),
		limit,
	)
	if err != nil {
		return nil, derrors.StoreError("list jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, derrors.StoreError("scan job id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, derrors.StoreError("iterate rows", err)
	}
	return ids, nil
}

// DeleteBefore removes all events of jobs whose last event is older than cutoff.
func (s *SQLStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind("DELETE FROM events WHERE job_id IN (SELECT job_id FROM events GROUP BY job_id HAVING MAX(timestamp) < ?)"),
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, derrors.StoreError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, derrors.StoreError("delete", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Record
		var timestampMillis int64
		var metadataJSON sql.NullString

		err := rows.Scan(&e.Seq, &e.Job, &e.Kind, &timestampMillis, &e.Data, &metadataJSON)
		if err != nil {
			return nil, derrors.StoreError("scan event", err)
		}

		e.At = time.UnixMilli(timestampMillis)

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Meta); err != nil {
				return nil, derrors.StoreError("unmarshal metadata", err)
			}
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, derrors.StoreError("iterate rows", err)
	}

	return events, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
