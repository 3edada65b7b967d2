package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across canvases and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Canvases sub-query
	if q.FilterType == "" || q.FilterType == ResultCanvas {
		canvasWhere := "cv.fts @@ " + tsQuery
		if q.FilterCanvasID != "" {
			canvasWhere += fmt.Sprintf(" AND cv.id = $%d", argN)
			args = append(args, q.FilterCanvasID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'canvas'::text AS type, cv.id, cv.url AS title,
				ts_headline('english', coalesce(cv.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				cv.id AS canvas_id, ''::text AS page_url,
				false AS resolved,
				ts_rank(cv.fts, %s) AS rank
			FROM canvases cv
			WHERE %s`, tsQuery, tsQuery, canvasWhere))
	}

	// Comments sub-query
	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := "cm.fts @@ " + tsQuery
		if q.FilterCanvasID != "" {
			commentWhere += fmt.Sprintf(" AND cm.canvas_id = $%d", argN)
			args = append(args, q.FilterCanvasID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, cm.id, cm.page_url AS title,
				ts_headline('english', coalesce(cm.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				cm.canvas_id, cm.page_url,
				cm.resolved,
				ts_rank(cm.fts, %s) AS rank
			FROM comments cm
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, canvas_id, page_url, resolved
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.CanvasID, &r.PageURL, &r.Resolved); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CanvasRecord, []CommentRecord, error) {
	canvasRows, err := p.db.QueryContext(ctx, `
		SELECT id, url, coalesce(description, '')
		FROM canvases
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load canvases: %w", err)
	}
	defer canvasRows.Close()

	canvases := make([]CanvasRecord, 0)
	for canvasRows.Next() {
		var c CanvasRecord
		if err := canvasRows.Scan(&c.ID, &c.URL, &c.Description); err != nil {
			return nil, nil, fmt.Errorf("scan canvas: %w", err)
		}
		canvases = append(canvases, c)
	}
	if err := canvasRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate canvases: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT id, content, canvas_id, page_url, resolved
		FROM comments
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.CanvasID, &c.PageURL, &c.Resolved); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return canvases, comments, nil
}
