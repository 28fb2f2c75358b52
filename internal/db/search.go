package db

import (
	"fmt"
	"strings"

	"github.com/kimhsiao/homeinventory/internal/models"
)

// SearchOptions contains parameters for item search queries.
type SearchOptions struct {
	// Query is the FTS5 search query (required)
	Query string

	// Limit is the maximum number of results (default: 20, max: 100)
	Limit int

	// CategoryID and LocationID narrow the results
	CategoryID string
	LocationID string
}

// SearchResult represents a single search result with relevance score.
type SearchResult struct {
	Item      *models.Item `json:"item"`
	Relevance float64      `json:"relevance"`
}

// SearchResponse contains search results and metadata.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	Total   int             `json:"total"`
	Query   string          `json:"query"`
}

// SearchItems performs FTS5 full-text search over live items, ranked by BM25.
// Name matches weigh more than brand/model, which weigh more than description and tags.
func (r *Repository) SearchItems(opts *SearchOptions) (*SearchResponse, error) {
	if opts == nil || strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("search query is required")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	match := ftsQuery(opts.Query)

	where := ` FROM items i
		INNER JOIN items_fts fts ON i.rowid = fts.rowid
		WHERE items_fts MATCH ? AND i.is_deleted = 0`
	args := []interface{}{match}

	if opts.CategoryID != "" {
		where += " AND i.category_id = ?"
		args = append(args, opts.CategoryID)
	}
	if opts.LocationID != "" {
		where += " AND i.location_id = ?"
		args = append(args, opts.LocationID)
	}

	var cols []string
	for _, c := range strings.Split(itemColumns, ",") {
		cols = append(cols, "i."+strings.TrimSpace(c))
	}

	query := `SELECT ` + strings.Join(cols, ", ") + `, bm25(items_fts, 10.0, 5.0, 5.0, 1.0, 2.0) AS score` +
		where + ` ORDER BY score LIMIT ?`

	rows, err := r.db.Query(query, append(args, limit)...)
	if err != nil {
		return nil, dbError("search query failed", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var score float64
		item, err := scanItem(scanWithExtra{rows, &score})
		if err != nil {
			return nil, dbError("failed to scan search result", err)
		}
		// bm25 is lower-is-better; flip it so callers can sort descending
		results = append(results, &SearchResult{Item: item, Relevance: -score})
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("error iterating search results", err)
	}

	var total int
	if err := r.db.QueryRow(`SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, dbError("failed to count search results", err)
	}

	return &SearchResponse{
		Results: results,
		Total:   total,
		Query:   opts.Query,
	}, nil
}

// scanWithExtra appends extra destinations after the ones scanItem passes.
type scanWithExtra struct {
	s     scanner
	extra interface{}
}

func (w scanWithExtra) Scan(dest ...interface{}) error {
	return w.s.Scan(append(dest, w.extra)...)
}

// ftsQuery turns free text into a prefix query: each word is quoted so
// FTS5 operators in user input are treated literally.
func ftsQuery(input string) string {
	fields := strings.Fields(input)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " ")
}
