package lineage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	domain      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_domain ON records(domain, id);
`

// #endregion schema

// #region sqlite-sink
// SQLiteSink stores every domain in one append-only records table.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSink opens a SQLite database and runs migrations.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection: single writer, and :memory: stays one database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteSink{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) Append(ctx context.Context, domain Domain, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", domain, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (domain, payload, created_at) VALUES (?, ?, ?)`,
		string(domain), string(payload), s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert %s record: %w", domain, err)
	}
	return nil
}

func (s *SQLiteSink) ReadAll(ctx context.Context, domain Domain) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records WHERE domain = ? ORDER BY id`, string(domain))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", domain, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan %s: %w", domain, err)
		}
		if !json.Valid([]byte(p)) {
			continue
		}
		out = append(out, json.RawMessage(p))
	}
	return out, rows.Err()
}

// Count returns the number of rows stored for domain.
func (s *SQLiteSink) Count(ctx context.Context, domain Domain) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE domain = ?`, string(domain)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", domain, err)
	}
	return n, nil
}

// Corrupt returns how many rows of domain hold a payload that is not valid
// JSON and are skipped by ReadAll.
func (s *SQLiteSink) Corrupt(ctx context.Context, domain Domain) (int, error) {
	n, err := s.Count(ctx, domain)
	if err != nil {
		return 0, err
	}
	valid, err := s.ReadAll(ctx, domain)
	if err != nil {
		return 0, err
	}
	return n - len(valid), nil
}

// #endregion sqlite-sink
