package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/overlay/dbopen"
	"github.com/hazyhaar/overlay/inpage/message"
)

// Schema for the commit journal.
const Schema = `
CREATE TABLE IF NOT EXISTS inpage_commits (
	batch_id   TEXT    NOT NULL,
	page_id    TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	tier       TEXT    NOT NULL,
	key        INTEGER NOT NULL,
	node       INTEGER NOT NULL,
	text       TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (batch_id, key)
);
CREATE INDEX IF NOT EXISTS idx_inpage_commits_page ON inpage_commits(page_id, seq);

CREATE TABLE IF NOT EXISTS inpage_runs (
	page_id     TEXT    NOT NULL,
	page_url    TEXT,
	discovered  INTEGER NOT NULL,
	requests    INTEGER NOT NULL,
	completed   INTEGER NOT NULL,
	committed   INTEGER NOT NULL,
	stale       INTEGER NOT NULL,
	pending     INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
`

// SQLite journals every commit and run summary into a database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates the journal tables if needed. The caller owns db.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("sink/sqlite: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Send(ctx context.Context, batch message.CommitBatch) error {
	if len(batch.Commits) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO inpage_commits
				(batch_id, page_id, seq, tier, key, node, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("sink/sqlite: prepare: %w", err)
		}
		defer stmt.Close()
		for _, c := range batch.Commits {
			if _, err := stmt.ExecContext(ctx, batch.ID, batch.PageID, batch.Seq,
				c.Tier.String(), int64(c.Key), c.Node, c.Text, batch.Timestamp); err != nil {
				return fmt.Errorf("sink/sqlite: insert: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLite) SendSummary(ctx context.Context, sum message.Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inpage_runs
			(page_id, page_url, discovered, requests, completed, committed,
			 stale, pending, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.PageID, sum.PageURL, sum.Discovered, sum.Requests, sum.Completed,
		sum.Committed, sum.Stale, sum.Pending, sum.StartedAt, sum.FinishedAt)
	if err != nil {
		return fmt.Errorf("sink/sqlite: insert run: %w", err)
	}
	return nil
}

// Close is a no-op: the database belongs to the caller.
func (s *SQLite) Close() error { return nil }
