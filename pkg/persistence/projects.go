package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateProject inserts a new project record.
func (s *Store) CreateProject(project *Project) error {
	if project.ID == "" {
		project.ID = NewProjectID()
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, description) VALUES (?, ?, ?)
	`, project.ID, project.Name, project.Description)
	if err != nil {
		return fmt.Errorf("failed to create project %s: %w", project.ID, err)
	}
	return nil
}

// GetProject fetches a project by id, or ErrNotFound.
func (s *Store) GetProject(projectID string) (*Project, error) {
	project := &Project{}
	err := s.db.QueryRow(`
		SELECT id, name, COALESCE(description, ''), created_at FROM projects WHERE id = ?
	`, projectID).Scan(&project.ID, &project.Name, &project.Description, &project.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return project, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, COALESCE(description, ''), created_at FROM projects ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		project := &Project{}
		if err := rows.Scan(&project.ID, &project.Name, &project.Description, &project.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return projects, nil
}

// DeleteProjectCascade removes a project and everything hanging off it.
// Reviews are deleted first since they reference stage records only
// through metadata, then stories, stage records, and the project row
// inside one transaction.
func (s *Store) DeleteProjectCascade(projectID string) error {
	if _, err := s.GetProject(projectID); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`DELETE FROM reviews WHERE id IN (
			SELECT sr.review_id FROM stage_records sr
			WHERE sr.project_id = ? AND sr.review_id IS NOT NULL)`,
		`DELETE FROM user_stories WHERE stage_internal_id IN (
			SELECT internal_id FROM stage_records WHERE project_id = ?)`,
		`DELETE FROM stage_records WHERE project_id = ?`,
		`DELETE FROM projects WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt, projectID); err != nil {
			return fmt.Errorf("failed to cascade delete project %s: %w", projectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project deletion: %w", err)
	}

	s.logger.Info("deleted project %s and all dependent records", projectID)
	return nil
}
