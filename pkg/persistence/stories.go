package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InsertUserStories persists a batch of extracted stories atomically.
// Either the whole batch lands or none of it does.
func (s *Store) InsertUserStories(stories []*UserStory) error {
	if len(stories) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO user_stories (id, stage_internal_id, title, description, acceptance_criteria, priority, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, story := range stories {
		if story.ID == "" {
			story.ID = NewStoryID()
		}
		if story.Status == "" {
			story.Status = StoryStatusDraft
		}
		criteria, err := json.Marshal(story.AcceptanceCriteria)
		if err != nil {
			return fmt.Errorf("failed to marshal acceptance criteria for story %s: %w", story.ID, err)
		}
		if _, err := tx.Exec(query, story.ID, story.StageInternalID, story.Title,
			story.Description, string(criteria), story.Priority, story.Status); err != nil {
			return fmt.Errorf("failed to insert user story %s: %w", story.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user stories: %w", err)
	}
	return nil
}

// GetUserStory fetches a single story by id, or ErrNotFound.
func (s *Store) GetUserStory(storyID string) (*UserStory, error) {
	query := `
		SELECT id, stage_internal_id, title, description, acceptance_criteria,
		       priority, status, version, created_at, updated_at
		FROM user_stories WHERE id = ?
	`
	story, err := scanUserStory(s.db.QueryRow(query, storyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return story, err
}

// ListUserStoriesForStage returns all stories extracted from one
// story-generation artifact, ordered by priority then insertion.
func (s *Store) ListUserStoriesForStage(stageInternalID int64) ([]*UserStory, error) {
	query := `
		SELECT id, stage_internal_id, title, description, acceptance_criteria,
		       priority, status, version, created_at, updated_at
		FROM user_stories
		WHERE stage_internal_id = ?
		ORDER BY priority DESC, created_at ASC
	`
	rows, err := s.db.Query(query, stageInternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user stories for stage %d: %w", stageInternalID, err)
	}
	defer func() { _ = rows.Close() }()

	var stories []*UserStory
	for rows.Next() {
		story, err := scanUserStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stories, nil
}

func scanUserStory(row rowScanner) (*UserStory, error) {
	story := &UserStory{}
	var criteria string
	err := row.Scan(
		&story.ID, &story.StageInternalID, &story.Title, &story.Description,
		&criteria, &story.Priority, &story.Status, &story.Version,
		&story.CreatedAt, &story.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user story: %w", err)
	}
	if criteria != "" {
		if err := json.Unmarshal([]byte(criteria), &story.AcceptanceCriteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal acceptance criteria: %w", err)
		}
	}
	return story, nil
}

// UpdateUserStory rewrites a story's editable fields under optimistic
// versioning.
func (s *Store) UpdateUserStory(story *UserStory) error {
	criteria, err := json.Marshal(story.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("failed to marshal acceptance criteria: %w", err)
	}

	query := `
		UPDATE user_stories
		SET title = ?, description = ?, acceptance_criteria = ?, priority = ?,
		    status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := s.db.Exec(query, story.Title, story.Description, string(criteria),
		story.Priority, story.Status, time.Now().UTC(), story.ID, story.Version)
	if err != nil {
		return fmt.Errorf("failed to update user story %s: %w", story.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetUserStory(story.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	story.Version++
	return nil
}

// DeleteUserStory removes a story.
func (s *Store) DeleteUserStory(storyID string) error {
	result, err := s.db.Exec("DELETE FROM user_stories WHERE id = ?", storyID)
	if err != nil {
		return fmt.Errorf("failed to delete user story %s: %w", storyID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
