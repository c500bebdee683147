package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PagesSchema is the inpage_pages table.
const PagesSchema = `
CREATE TABLE IF NOT EXISTS inpage_pages (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	duration_ms INTEGER DEFAULT 0,
	status      TEXT DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// LoadPages reads all active pages.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, duration_ms
		FROM inpage_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		var ms int64
		if err := rows.Scan(&p.ID, &p.URL, &ms); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		p.Duration = time.Duration(ms) * time.Millisecond
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// SavePage inserts or updates an active page.
func SavePage(ctx context.Context, db *sql.DB, p PageConfig) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO inpage_pages (id, url, duration_ms, status, updated_at)
		VALUES (?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			duration_ms = excluded.duration_ms,
			status = 'active',
			updated_at = excluded.updated_at`,
		p.ID, p.URL, p.Duration.Milliseconds(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: save page %s: %w", p.ID, err)
	}
	return nil
}
