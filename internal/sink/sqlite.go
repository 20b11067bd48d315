package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/domwait/internal/dbopen"
)

// SQLiteSchema is the recognitions table.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS recognitions (
	id          TEXT PRIMARY KEY,
	recognizer  TEXT NOT NULL,
	session     TEXT DEFAULT '',
	outcome     TEXT NOT NULL,
	description TEXT NOT NULL,
	kind        TEXT DEFAULT '',
	node        TEXT DEFAULT '',
	xpath       TEXT DEFAULT '',
	attribute   TEXT DEFAULT '',
	value       TEXT DEFAULT '',
	present     INTEGER DEFAULT 0,
	text        TEXT DEFAULT '',
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recognitions_recognizer ON recognitions(recognizer, timestamp);
`

// SQLite appends events to the recognitions table.
type SQLite struct {
	db    *sql.DB
	owned bool
}

// NewSQLite writes to an open database. The schema must exist.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// OpenSQLite opens (creating if needed) the database at path. Close closes it.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(SQLiteSchema))
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: %w", err)
	}
	return &SQLite{db: db, owned: true}, nil
}

func (s *SQLite) Send(ctx context.Context, e Event) error {
	present := 0
	if e.Present {
		present = 1
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO recognitions (id, recognizer, session, outcome, description,
			kind, node, xpath, attribute, value, present, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Recognizer, e.Session, e.Outcome, e.Description,
		e.Kind, e.Node, e.XPath, e.Attribute, e.Value, present, e.Text, e.Timestamp)
	if err != nil {
		return fmt.Errorf("sqlite sink: insert %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
