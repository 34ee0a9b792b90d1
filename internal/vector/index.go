// Package vector provides the nearest-neighbour index used by ingestion
// (upsert) and hybrid search (query). The default implementation is
// brute-force cosine similarity over float32 blobs stored in SQLite.
package vector

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Record is one stored embedding. Kind is "memory" or "chunk"; the ID matches
// the originating memory or chunk ID so search results can be joined back to
// their content rows.
type Record struct {
	ID        string
	Kind      string
	SourceID  string
	Embedding []float32
	CreatedAt time.Time
}

// Match is one similarity query result. The index returns only identity and
// score; content lives in the text store.
type Match struct {
	ID       string
	Kind     string
	SourceID string
	Score    float32
}

// Index is the vector index consumed by ingestion and search.
type Index interface {
	Upsert(records []Record) error
	// Query returns up to topK matches with Score >= minScore, best first.
	// kind filters to "memory" or "chunk"; empty matches both.
	Query(embedding []float32, topK int, kind string, minScore float32) ([]Match, error)
	Delete(id string) error
	Count() (int, error)
}

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex performs brute-force cosine similarity search over the vectors
// table. Adequate up to roughly 100K records; beyond that an ANN-backed
// implementation should replace it behind the same interface.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations.
// The vectors table must already exist (created via migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Upsert inserts or replaces records in the vectors table.
func (s *SQLiteIndex) Upsert(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO vectors (id, kind, source_id, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, source_id = excluded.source_id, embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.Kind != "memory" && r.Kind != "chunk" {
			tx.Rollback()
			return fmt.Errorf("record %s has invalid kind %q", r.ID, r.Kind)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		blob := encodeFloat32s(r.Embedding)
		if _, err := stmt.Exec(r.ID, r.Kind, r.SourceID, blob, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// scoredID holds only identity and score during the scan phase of Query.
type scoredID struct {
	ID       string
	Kind     string
	SourceID string
	Score    float32
}

// Query scans all stored vectors, keeping the topK best cosine scores in a
// min-heap, then drops matches below minScore.
func (s *SQLiteIndex) Query(embedding []float32, topK int, kind string, minScore float32) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	q := `SELECT id, kind, source_id, embedding FROM vectors`
	var args []interface{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(embedding)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &scoredIDHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id, k, sourceID string
		var blob []byte
		if err := rows.Scan(&id, &k, &sourceID, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(embedding, buf, queryNorm)
		if score < minScore {
			continue
		}
		if h.Len() < topK {
			heap.Push(h, scoredID{ID: id, Kind: k, SourceID: sourceID, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = scoredID{ID: id, Kind: k, SourceID: sourceID, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop ascending, fill descending.
	matches := make([]Match, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		item := heap.Pop(h).(scoredID)
		matches[i] = Match{ID: item.ID, Kind: item.Kind, SourceID: item.SourceID, Score: item.Score}
	}
	return matches, nil
}

// Delete removes a record by ID.
func (s *SQLiteIndex) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM vectors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

// Count returns the number of stored vectors.
func (s *SQLiteIndex) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM vectors").Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during query scans.
// Returns an error if the byte slice length is not a multiple of 4.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoredIDHeap is a min-heap of scoredID ordered by Score, used during the
// scan phase of Query to track topK candidates.
type scoredIDHeap []scoredID

func (h scoredIDHeap) Len() int            { return len(h) }
func (h scoredIDHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredIDHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredIDHeap) Push(x interface{}) { *h = append(*h, x.(scoredID)) }
func (h *scoredIDHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
