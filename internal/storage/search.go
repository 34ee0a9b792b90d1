package storage

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// SearchMemories returns memory rows matching the query, best match first.
// userID filters results when non-empty. Ordering comes from FTS5 bm25;
// no score is attached — callers assign rank-based scores.
func (s *Store) SearchMemories(query, userID string, limit int) ([]SearchHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	q := `SELECT m.id, m.content, m.created_at
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?`
	args := []interface{}{match}
	if userID != "" {
		q += ` AND m.user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY bm25(memories_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var createdAt string
		if err := rows.Scan(&h.ID, &h.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		h.CreatedAt = t
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchChunks returns document chunk rows matching the query, best match first.
func (s *Store) SearchChunks(query string, limit int) ([]SearchHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT c.id, c.document_id, c.content, c.created_at
		FROM chunks_fts f
		JOIN chunks c ON c.rowid = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts) LIMIT ?`, match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var createdAt string
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		h.CreatedAt = t
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 MATCH expression: terms are
// stripped to letters/digits, quoted, and OR-ed so partial matches still rank.
// Returns "" when the query contains no usable terms.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = `"` + f + `"`
	}
	return strings.Join(terms, " OR ")
}
