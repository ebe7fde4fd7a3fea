package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyDecided indicates a review has already received a terminal
// decision (approved, rejected, or expired).
var ErrAlreadyDecided = errors.New("review already decided")

// InsertReview persists a new review submission in pending status.
func (s *Store) InsertReview(review *Review) error {
	if review.ID == "" {
		review.ID = NewReviewID()
	}
	if review.Status == "" {
		review.Status = ReviewStatusPending
	}

	metadata, err := json.Marshal(review.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal review metadata: %w", err)
	}

	query := `
		INSERT INTO reviews (id, service_name, pipeline_stage, content, correlation_id, metadata, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, review.ID, review.ServiceName, review.PipelineStage,
		review.Content, review.CorrelationID, string(metadata), review.Status)
	if err != nil {
		return fmt.Errorf("failed to insert review %s: %w", review.ID, err)
	}
	return nil
}

// GetReview fetches a review by id, or ErrNotFound.
func (s *Store) GetReview(reviewID string) (*Review, error) {
	query := `
		SELECT id, service_name, pipeline_stage, content,
		       COALESCE(correlation_id, ''), COALESCE(metadata, '{}'), status,
		       COALESCE(decision_reason, ''), COALESCE(decision_feedback, ''),
		       COALESCE(decision_notes, ''), version, submitted_at, reviewed_at
		FROM reviews WHERE id = ?
	`
	return s.scanReview(s.db.QueryRow(query, reviewID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanReview(row rowScanner) (*Review, error) {
	review := &Review{}
	var metadata string
	var reviewedAt sql.NullTime

	err := row.Scan(
		&review.ID, &review.ServiceName, &review.PipelineStage, &review.Content,
		&review.CorrelationID, &metadata, &review.Status,
		&review.DecisionReason, &review.DecisionFeedback, &review.DecisionNotes,
		&review.Version, &review.SubmittedAt, &reviewedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan review: %w", err)
	}

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &review.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review metadata: %w", err)
		}
	}
	if reviewedAt.Valid {
		review.ReviewedAt = &reviewedAt.Time
	}
	return review, nil
}

// DecideReview records a terminal decision for a pending review. The
// status guard in the WHERE clause guarantees at most one terminal
// transition per review: a second decision returns ErrAlreadyDecided.
func (s *Store) DecideReview(reviewID, status, reason, feedback, notes string) error {
	query := `
		UPDATE reviews
		SET status = ?, decision_reason = ?, decision_feedback = ?, decision_notes = ?,
		    reviewed_at = ?, version = version + 1
		WHERE id = ? AND status = ?
	`
	result, err := s.db.Exec(query, status, reason, feedback, notes,
		time.Now().UTC(), reviewID, ReviewStatusPending)
	if err != nil {
		return fmt.Errorf("failed to decide review %s: %w", reviewID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetReview(reviewID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyDecided
	}
	return nil
}

// ListPendingReviews returns all pending reviews ordered by submission time.
func (s *Store) ListPendingReviews() ([]*Review, error) {
	query := `
		SELECT id, service_name, pipeline_stage, content,
		       COALESCE(correlation_id, ''), COALESCE(metadata, '{}'), status,
		       COALESCE(decision_reason, ''), COALESCE(decision_feedback, ''),
		       COALESCE(decision_notes, ''), version, submitted_at, reviewed_at
		FROM reviews
		WHERE status = ?
		ORDER BY submitted_at ASC
	`
	rows, err := s.db.Query(query, ReviewStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviews []*Review
	for rows.Next() {
		review, err := s.scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return reviews, nil
}

// CountPendingReviews returns the number of reviews awaiting a decision.
func (s *Store) CountPendingReviews() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM reviews WHERE status = ?", ReviewStatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending reviews: %w", err)
	}
	return count, nil
}

// ExpirePendingBefore marks all pending reviews submitted before the
// cutoff as expired and returns them so callers can propagate the
// expiry to the originating stage records.
func (s *Store) ExpirePendingBefore(cutoff time.Time) ([]*Review, error) {
	pending, err := s.ListPendingReviews()
	if err != nil {
		return nil, err
	}

	var expired []*Review
	for _, review := range pending {
		if !review.SubmittedAt.Before(cutoff) {
			continue
		}
		err := s.DecideReview(review.ID, ReviewStatusExpired, "review window elapsed", "", "")
		if errors.Is(err, ErrAlreadyDecided) {
			continue // decided between the list and the update
		}
		if err != nil {
			return expired, err
		}
		review.Status = ReviewStatusExpired
		expired = append(expired, review)
	}
	return expired, nil
}

