package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"forest/internal/embedding"
	"forest/internal/logging"
)

// =============================================================================
// VECTOR MIRROR
// =============================================================================

// VectorEntry is one stored embedding with its source text and metadata.
type VectorEntry struct {
	ID         int64
	Key        string
	Namespace  string
	Content    string
	Embedding  []float32
	Metadata   map[string]interface{}
	CreatedAt  time.Time
	Similarity float64 // set on query results only
}

// QueryOptions narrows a vector query.
type QueryOptions struct {
	TopK      int     // maximum results; 0 means 10
	Threshold float64 // minimum cosine similarity; 0 keeps everything
	Namespace string  // restrict to one namespace; "" means all
	// Where filters on metadata equality. Every listed key must be
	// present with the given value.
	Where map[string]interface{}
}

// VectorStats summarizes the vector table.
type VectorStats struct {
	Count      int            `json:"count"`
	Namespaces map[string]int `json:"namespaces"`
}

// UpsertVector stores or replaces the embedding under key.
func (s *Store) UpsertVector(key, namespace, content string, vector []float32, metadata map[string]interface{}) error {
	timer := logging.StartTimer(logging.CategoryVector, "UpsertVector")
	defer timer.Stop()

	if key == "" {
		return fmt.Errorf("vector key must not be empty")
	}
	if len(vector) == 0 {
		return fmt.Errorf("vector for key %q must not be empty", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	metaJSON, _ := json.Marshal(metadata)

	// Deleting first keeps rowid order equal to latest-insertion order,
	// which the stable tie-break on query results relies on.
	if _, err := s.db.Exec("DELETE FROM vectors WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to replace vector %q: %w", key, err)
	}
	_, err = s.db.Exec(
		"INSERT INTO vectors (key, namespace, content, embedding, metadata) VALUES (?, ?, ?, ?, ?)",
		key, namespace, content, string(embJSON), string(metaJSON),
	)
	if err != nil {
		logging.Get(logging.CategoryVector).Error("failed to upsert vector %q: %v", key, err)
		return err
	}

	logging.Vector("upserted vector %q (namespace=%q, dims=%d)", key, namespace, len(vector))
	return nil
}

// QueryVectors scans the stored embeddings and returns the most similar
// entries, ordered by cosine similarity descending. Equal scores keep
// insertion order.
func (s *Store) QueryVectors(query []float32, opts QueryOptions) ([]VectorEntry, error) {
	timer := logging.StartTimer(logging.CategoryVector, "QueryVectors")
	defer timer.Stop()

	if len(query) == 0 {
		return nil, fmt.Errorf("query vector must not be empty")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlQuery := "SELECT id, key, namespace, content, embedding, metadata, created_at FROM vectors"
	var args []interface{}
	if opts.Namespace != "" {
		sqlQuery += " WHERE namespace = ?"
		args = append(args, opts.Namespace)
	}
	sqlQuery += " ORDER BY id ASC"

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		logging.Get(logging.CategoryVector).Error("vector query failed: %v", err)
		return nil, err
	}
	defer rows.Close()

	var candidates []VectorEntry
	scanned := 0
	for rows.Next() {
		scanned++
		var entry VectorEntry
		var embJSON, metaJSON string
		if err := rows.Scan(&entry.ID, &entry.Key, &entry.Namespace, &entry.Content,
			&embJSON, &metaJSON, &entry.CreatedAt); err != nil {
			logging.Get(logging.CategoryVector).Warn("skipping unreadable vector row: %v", err)
			continue
		}
		if err := json.Unmarshal([]byte(embJSON), &entry.Embedding); err != nil {
			logging.Get(logging.CategoryVector).Warn("skipping vector %q with corrupt embedding: %v", entry.Key, err)
			continue
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		}
		if !matchesWhere(entry.Metadata, opts.Where) {
			continue
		}

		sim, err := embedding.CosineSimilarity(query, entry.Embedding)
		if err != nil {
			logging.Get(logging.CategoryVector).Warn("skipping vector %q: %v", entry.Key, err)
			continue
		}
		if sim < opts.Threshold {
			continue
		}
		entry.Similarity = sim
		candidates = append(candidates, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Candidates arrive in insertion order, so a stable sort preserves
	// that order among equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	logging.VectorDebug("query returned %d of %d scanned vectors (topK=%d, threshold=%.2f)",
		len(candidates), scanned, topK, opts.Threshold)
	return candidates, nil
}

// DeleteVector removes the embedding under key. Missing keys are not an
// error.
func (s *Store) DeleteVector(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM vectors WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete vector %q: %w", key, err)
	}
	return nil
}

// DeleteNamespace removes every embedding in the namespace and returns
// how many were removed.
func (s *Store) DeleteNamespace(namespace string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM vectors WHERE namespace = ?", namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to delete namespace %q: %w", namespace, err)
	}
	n, _ := res.RowsAffected()
	logging.Vector("deleted namespace %q (%d vectors)", namespace, n)
	return int(n), nil
}

// VectorStats reports counts per namespace.
func (s *Store) VectorStats() (*VectorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &VectorStats{Namespaces: make(map[string]int)}
	rows, err := s.db.Query("SELECT namespace, COUNT(*) FROM vectors GROUP BY namespace")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, err
		}
		stats.Namespaces[ns] = n
		stats.Count += n
	}
	return stats, rows.Err()
}

// KeywordRecall is the degraded search path when no embedding engine is
// available: case-insensitive substring match on stored content, newest
// first.
func (s *Store) KeywordRecall(query, namespace string, limit int) ([]VectorEntry, error) {
	timer := logging.StartTimer(logging.CategoryVector, "KeywordRecall")
	defer timer.Stop()

	if limit <= 0 {
		limit = 10
	}
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var conditions []string
	var args []interface{}
	for _, kw := range keywords {
		conditions = append(conditions, "LOWER(content) LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	sqlQuery := "SELECT id, key, namespace, content, embedding, metadata, created_at FROM vectors WHERE (" +
		strings.Join(conditions, " OR ") + ")"
	if namespace != "" {
		sqlQuery += " AND namespace = ?"
		args = append(args, namespace)
	}
	sqlQuery += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []VectorEntry
	for rows.Next() {
		var entry VectorEntry
		var embJSON, metaJSON string
		if err := rows.Scan(&entry.ID, &entry.Key, &entry.Namespace, &entry.Content,
			&embJSON, &metaJSON, &entry.CreatedAt); err != nil {
			continue
		}
		json.Unmarshal([]byte(embJSON), &entry.Embedding)
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		}
		results = append(results, entry)
	}
	return results, rows.Err()
}

func matchesWhere(metadata, where map[string]interface{}) bool {
	if len(where) == 0 {
		return true
	}
	for k, want := range where {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
