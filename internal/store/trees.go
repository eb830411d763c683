package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"forest/internal/logging"
	"forest/internal/types"
)

// =============================================================================
// TREE DOCUMENT STORE
// =============================================================================

// SaveTree writes the full tree document. The write replaces any
// previous revision for the same (projectID, pathName) pair.
func (s *Store) SaveTree(tree *types.Tree) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveTree")
	defer timer.Stop()

	if tree == nil {
		return fmt.Errorf("cannot save a nil tree")
	}
	if tree.ProjectID == "" {
		return fmt.Errorf("tree is missing a project id")
	}
	pathName := tree.PathName
	if pathName == "" {
		pathName = types.DefaultPathName
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to encode tree %s/%s: %w", tree.ProjectID, pathName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO trees (project_id, path_name, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(project_id, path_name) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		tree.ProjectID, pathName, string(data),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to save tree %s/%s: %v", tree.ProjectID, pathName, err)
		return err
	}

	logging.StoreDebug("saved tree %s/%s (%d bytes)", tree.ProjectID, pathName, len(data))
	return nil
}

// LoadTree reads the tree for (projectID, pathName). pathName "" means
// the default path.
func (s *Store) LoadTree(projectID, pathName string) (*types.Tree, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadTree")
	defer timer.Stop()

	if pathName == "" {
		pathName = types.DefaultPathName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(
		"SELECT data FROM trees WHERE project_id = ? AND path_name = ?",
		projectID, pathName,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &types.TreeNotFoundError{ProjectID: projectID, PathName: pathName}
		}
		return nil, fmt.Errorf("failed to load tree %s/%s: %w", projectID, pathName, err)
	}

	var tree types.Tree
	if err := json.Unmarshal([]byte(data), &tree); err != nil {
		return nil, fmt.Errorf("stored tree %s/%s is corrupt: %w", projectID, pathName, err)
	}
	return &tree, nil
}

// TreeExists reports whether a tree is stored for the pair.
func (s *Store) TreeExists(projectID, pathName string) (bool, error) {
	if pathName == "" {
		pathName = types.DefaultPathName
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM trees WHERE project_id = ? AND path_name = ?",
		projectID, pathName,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTrees returns the (projectID, pathName) pairs currently stored.
func (s *Store) ListTrees() ([][2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT project_id, path_name FROM trees ORDER BY project_id, path_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var p, n string
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{p, n})
	}
	return pairs, rows.Err()
}

// DeleteTree removes the document and its vector namespace.
func (s *Store) DeleteTree(projectID, pathName string) error {
	if pathName == "" {
		pathName = types.DefaultPathName
	}
	s.mu.Lock()
	_, err := s.db.Exec("DELETE FROM trees WHERE project_id = ? AND path_name = ?", projectID, pathName)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete tree %s/%s: %w", projectID, pathName, err)
	}
	if _, err := s.DeleteNamespace(projectID); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to clear vector namespace %q: %v", projectID, err)
	}
	return nil
}
