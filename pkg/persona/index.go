package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// SetEmbedDim fixes the index dimensionality. Inserts and queries with
// vectors of any other length fail fast instead of producing garbage
// scores.
func (s *SQLiteStore) SetEmbedDim(dim int) {
	s.embedDim = dim
}

func (s *SQLiteStore) checkDim(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if s.embedDim > 0 && len(vec) != s.embedDim {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vec), s.embedDim)
	}
	return nil
}

func encodeVector(vec []float32) string {
	b, err := json.Marshal(vec)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeVector(raw string) []float32 {
	out := []float32{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// InsertChunks adds chunks to the index in one transaction. Every
// vector is dimension-checked before any row is written.
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if err := s.checkDim(c.Vector); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO persona_chunks(id, scope, subject, content, vector_json, norm, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert chunk: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Key.Scope, c.Key.Subject, c.Text,
			encodeVector(c.Vector), vectorNorm(c.Vector), createdAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert chunks: %w", err)
	}
	return nil
}

// TopK scans the subject's chunks and returns up to k by descending
// cosine similarity. Ties break by newer chunk first, then id, so the
// ordering is deterministic. An empty index yields an empty slice.
func (s *SQLiteStore) TopK(ctx context.Context, key SubjectKey, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive, got %d", ErrConfiguration, k)
	}
	if err := s.checkDim(query); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	qNorm := vectorNorm(query)
	if qNorm == 0 {
		return []ScoredChunk{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, vector_json, norm, created_at_ms
FROM persona_chunks WHERE scope = ? AND subject = ?`, key.Scope, key.Subject)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	scored := []ScoredChunk{}
	for rows.Next() {
		var (
			id, content, vecJSON string
			norm                 float64
			createdMS            int64
		)
		if err := rows.Scan(&id, &content, &vecJSON, &norm, &createdMS); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		vec := decodeVector(vecJSON)
		if len(vec) != len(query) || norm == 0 {
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk: Chunk{
				ID:        id,
				Key:       key,
				Text:      content,
				Vector:    vec,
				CreatedAt: time.UnixMilli(createdMS),
			},
			Score: dotProduct(query, vec) / (qNorm * norm),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// EraseChunks removes every indexed chunk for the subject.
func (s *SQLiteStore) EraseChunks(ctx context.Context, key SubjectKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM persona_chunks WHERE scope = ? AND subject = ?`,
		key.Scope, key.Subject)
	if err != nil {
		return fmt.Errorf("erase chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ChunkCount(ctx context.Context, key SubjectKey) (int, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM persona_chunks WHERE scope = ? AND subject = ?`, key.Scope, key.Subject)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
