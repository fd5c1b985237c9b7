package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher using ILIKE matching in PostgreSQL as a
// fallback when Meilisearch is unavailable.
type PgLike struct {
	db *sql.DB
}

func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.TeamIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{"%" + strings.TrimSpace(q.Text) + "%"}
	placeholders := make([]string, len(q.TeamIDs))
	for i, teamID := range q.TeamIDs {
		args = append(args, teamID)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	where := fmt.Sprintf(
		"(title ILIKE $1 OR description ILIKE $1 OR tags ILIKE $1) AND team_id IN (%s)",
		strings.Join(placeholders, ", "))
	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q.Priority != "" {
		args = append(args, q.Priority)
		where += fmt.Sprintf(" AND priority = $%d", len(args))
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM decisions WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, team_id, title, LEFT(description, 200), status, priority
		FROM decisions
		WHERE %s
		ORDER BY updated_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search decisions: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Title, &r.Snippet, &r.Status, &r.Priority); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every decision for reindexing into Meilisearch.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, team_id, title, description, status, priority, tags FROM decisions
	`)
	if err != nil {
		return nil, fmt.Errorf("load decisions for reindex: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Title, &r.Description, &r.Status, &r.Priority, &r.Tags); err != nil {
			return nil, fmt.Errorf("scan decision record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision records: %w", err)
	}
	return records, nil
}
