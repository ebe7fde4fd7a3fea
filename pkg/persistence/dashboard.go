package persistence

import (
	"fmt"
	"time"
)

// DashboardRow is a denormalized view of one stage record joined with
// its review, shaped for the status dashboard.
type DashboardRow struct {
	ProjectID    string     `json:"project_id"`
	ProjectName  string     `json:"project_name"`
	StageID      string     `json:"stage_id"`
	Stage        string     `json:"stage"`
	StageStatus  string     `json:"stage_status"`
	ReviewID     string     `json:"review_id,omitempty"`
	ReviewStatus string     `json:"review_status,omitempty"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DashboardRows returns one row per stage record across all projects,
// newest first, with review status joined in where a review exists.
func (s *Store) DashboardRows() ([]*DashboardRow, error) {
	query := `
		SELECT p.id, p.name, sr.external_id, sr.stage, sr.status,
		       COALESCE(sr.review_id, ''), COALESCE(r.status, ''),
		       r.submitted_at, sr.updated_at
		FROM stage_records sr
		JOIN projects p ON p.id = sr.project_id
		LEFT JOIN reviews r ON r.id = sr.review_id
		ORDER BY sr.updated_at DESC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dashboard rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*DashboardRow
	for rows.Next() {
		row := &DashboardRow{}
		var submittedAt *time.Time
		if err := rows.Scan(
			&row.ProjectID, &row.ProjectName, &row.StageID, &row.Stage,
			&row.StageStatus, &row.ReviewID, &row.ReviewStatus,
			&submittedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dashboard row: %w", err)
		}
		row.SubmittedAt = submittedAt
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}
