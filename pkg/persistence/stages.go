package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateStageRecord inserts a new stage record and returns it with the
// internal id assigned by the database. PrerequisiteID of 0 stores NULL.
func (s *Store) CreateStageRecord(rec *StageRecord) (*StageRecord, error) {
	if rec.ExternalID == "" {
		rec.ExternalID = NewStageID(rec.Stage)
	}
	if rec.Status == "" {
		rec.Status = StatusCreated
	}

	var prereq interface{}
	if rec.PrerequisiteID != 0 {
		prereq = rec.PrerequisiteID
	}

	query := `
		INSERT INTO stage_records (external_id, project_id, stage, status, content, prerequisite_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query, rec.ExternalID, rec.ProjectID, rec.Stage, rec.Status, rec.Content, prereq)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s stage record: %w", rec.Stage, err)
	}

	internalID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get stage record id: %w", err)
	}

	return s.GetStageByInternalID(internalID)
}

// GetStageByExternalID fetches a stage record by its external identifier.
// Returns ErrNotFound when no record exists.
func (s *Store) GetStageByExternalID(externalID string) (*StageRecord, error) {
	return s.getStage("external_id = ?", externalID)
}

// GetStageByInternalID fetches a stage record by its internal id.
func (s *Store) GetStageByInternalID(internalID int64) (*StageRecord, error) {
	return s.getStage("internal_id = ?", internalID)
}

// GetLatestStageForProject returns the most recent record for one stage
// kind within a project, or ErrNotFound.
func (s *Store) GetLatestStageForProject(projectID, stage string) (*StageRecord, error) {
	return s.getStage("project_id = ? AND stage = ? ORDER BY internal_id DESC", projectID, stage)
}

func (s *Store) getStage(where string, args ...interface{}) (*StageRecord, error) {
	query := `
		SELECT internal_id, external_id, project_id, stage, status, content,
		       COALESCE(review_id, ''), COALESCE(prerequisite_id, 0), version,
		       created_at, updated_at
		FROM stage_records
		WHERE ` + where + ` LIMIT 1`

	rec := &StageRecord{}
	err := s.db.QueryRow(query, args...).Scan(
		&rec.InternalID, &rec.ExternalID, &rec.ProjectID, &rec.Stage,
		&rec.Status, &rec.Content, &rec.ReviewID, &rec.PrerequisiteID,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stage record: %w", err)
	}
	return rec, nil
}

// UpdateStageStatus transitions a stage record's status using optimistic
// versioning: the update only applies when the caller's version matches
// the stored version. A mismatch returns ErrVersionConflict; a missing
// record returns ErrNotFound.
func (s *Store) UpdateStageStatus(internalID int64, version int64, status string) error {
	return s.updateStage(internalID, version, "status = ?", status)
}

// UpdateStageContent stores generated content and status together under
// the same optimistic version check.
func (s *Store) UpdateStageContent(internalID int64, version int64, content, status string) error {
	return s.updateStage(internalID, version, "content = ?, status = ?", content, status)
}

// SetStageReviewID links a stage record to its pending review submission.
func (s *Store) SetStageReviewID(internalID int64, version int64, reviewID, status string) error {
	return s.updateStage(internalID, version, "review_id = ?, status = ?", reviewID, status)
}

func (s *Store) updateStage(internalID, version int64, setClause string, setArgs ...interface{}) error {
	query := `
		UPDATE stage_records
		SET ` + setClause + `, version = version + 1, updated_at = ?
		WHERE internal_id = ? AND version = ?
	`
	args := append(setArgs, time.Now().UTC(), internalID, version)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update stage record %d: %w", internalID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a stale version from a missing record.
		if _, getErr := s.GetStageByInternalID(internalID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// ListStagesForProject returns all stage records for a project ordered by
// creation, for dashboard projection.
func (s *Store) ListStagesForProject(projectID string) ([]*StageRecord, error) {
	query := `
		SELECT internal_id, external_id, project_id, stage, status, content,
		       COALESCE(review_id, ''), COALESCE(prerequisite_id, 0), version,
		       created_at, updated_at
		FROM stage_records
		WHERE project_id = ?
		ORDER BY internal_id ASC
	`
	rows, err := s.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage records for project %s: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	var records []*StageRecord
	for rows.Next() {
		rec := &StageRecord{}
		if err := rows.Scan(
			&rec.InternalID, &rec.ExternalID, &rec.ProjectID, &rec.Stage,
			&rec.Status, &rec.Content, &rec.ReviewID, &rec.PrerequisiteID,
			&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stage record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}
