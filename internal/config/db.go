package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/domwait/recognize"
)

// Schema for the recognizers table.
const Schema = `
CREATE TABLE IF NOT EXISTS recognizers (
	name              TEXT PRIMARY KEY,
	target            TEXT NOT NULL,
	added_child       TEXT DEFAULT '',
	removed_child     TEXT DEFAULT '',
	changed_attribute TEXT DEFAULT '',
	text              TEXT DEFAULT '',
	async             INTEGER DEFAULT 0,
	delay_ms          INTEGER DEFAULT 0,
	timeout_ms        INTEGER DEFAULT 0,
	status            TEXT DEFAULT 'active',
	updated_at        INTEGER NOT NULL
);
`

// LoadRecognizers reads all active recognizers, defaults applied.
func LoadRecognizers(ctx context.Context, db *sql.DB) ([]RecognizerConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, target, added_child, removed_child, changed_attribute,
		       text, async, delay_ms, timeout_ms
		FROM recognizers
		WHERE status = 'active'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load recognizers: %w", err)
	}
	defer rows.Close()

	var out []RecognizerConfig
	for rows.Next() {
		var rc RecognizerConfig
		var added, removed string
		var async int
		var delayMs, timeoutMs int64

		if err := rows.Scan(&rc.Name, &rc.Target, &added, &removed,
			&rc.ChangedAttribute, &rc.Text, &async, &delayMs, &timeoutMs); err != nil {
			return nil, fmt.Errorf("config: scan recognizer: %w", err)
		}
		if rc.AddedChild, err = decodeShape(added); err != nil {
			return nil, fmt.Errorf("config: recognizer %q added_child: %w", rc.Name, err)
		}
		if rc.RemovedChild, err = decodeShape(removed); err != nil {
			return nil, fmt.Errorf("config: recognizer %q removed_child: %w", rc.Name, err)
		}
		rc.Async = async != 0
		rc.Delay = time.Duration(delayMs) * time.Millisecond
		rc.Timeout = time.Duration(timeoutMs) * time.Millisecond
		rc.applyDefaults(len(out))
		out = append(out, rc)
	}
	return out, rows.Err()
}

// UpsertRecognizer stores rc as an active recognizer.
func UpsertRecognizer(ctx context.Context, db *sql.DB, rc RecognizerConfig) error {
	added, err := encodeShape(rc.AddedChild)
	if err != nil {
		return err
	}
	removed, err := encodeShape(rc.RemovedChild)
	if err != nil {
		return err
	}
	async := 0
	if rc.Async {
		async = 1
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO recognizers (name, target, added_child, removed_child,
			changed_attribute, text, async, delay_ms, timeout_ms, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(name) DO UPDATE SET
			target = excluded.target,
			added_child = excluded.added_child,
			removed_child = excluded.removed_child,
			changed_attribute = excluded.changed_attribute,
			text = excluded.text,
			async = excluded.async,
			delay_ms = excluded.delay_ms,
			timeout_ms = excluded.timeout_ms,
			status = 'active',
			updated_at = excluded.updated_at
	`, rc.Name, rc.Target, added, removed, rc.ChangedAttribute, rc.Text, async,
		rc.Delay.Milliseconds(), rc.Timeout.Milliseconds(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert recognizer %q: %w", rc.Name, err)
	}
	return nil
}

// Merge appends db recognizers to the file ones. A file recognizer wins over
// a stored one of the same name.
func (c *Config) Merge(stored []RecognizerConfig) {
	have := make(map[string]bool, len(c.Recognizers))
	for _, rc := range c.Recognizers {
		have[rc.Name] = true
	}
	for _, rc := range stored {
		if !have[rc.Name] {
			c.Recognizers = append(c.Recognizers, rc)
		}
	}
}

func decodeShape(s string) (*recognize.Shape, error) {
	if s == "" {
		return nil, nil
	}
	var shape recognize.Shape
	if err := json.Unmarshal([]byte(s), &shape); err != nil {
		return nil, err
	}
	return &shape, nil
}

func encodeShape(s *recognize.Shape) (string, error) {
	if s == nil {
		return "", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("config: encode shape: %w", err)
	}
	return string(data), nil
}
