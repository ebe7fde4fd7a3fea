// Package review implements the human review gate: submissions, terminal
// decisions, expiry, and propagation of decisions back to stage records.
package review

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"conductor/pkg/config"
	"conductor/pkg/logx"
	"conductor/pkg/persistence"
	"conductor/pkg/stage"
)

// Decision errors surfaced to callers.
var (
	// ErrAlreadyDecided mirrors the storage sentinel: a review takes exactly
	// one terminal decision.
	ErrAlreadyDecided = persistence.ErrAlreadyDecided
	// ErrReviewExpired indicates the review window lapsed before a decision.
	ErrReviewExpired = errors.New("review has expired")
	// ErrTooManyPending indicates the concurrent review cap is reached.
	ErrTooManyPending = errors.New("too many pending reviews")
)

// Propagator receives decisions for one stage's records. Stage managers
// implement it; the gate dispatches on the stage tag carried by the review.
type Propagator interface {
	OnApproved(internalID int64) error
	OnRejected(internalID int64) error
	OnExpired(internalID int64) error
}

// Gate accepts review submissions and records decisions. The propagator
// table is fixed at construction; there is no runtime registration.
type Gate struct {
	store       *persistence.Store
	cfg         config.ReviewConfig
	propagators map[stage.Stage]Propagator
	logger      *logx.Logger

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewGate creates a review gate with its propagation dispatch table.
func NewGate(store *persistence.Store, cfg config.ReviewConfig, propagators map[stage.Stage]Propagator) *Gate {
	return &Gate{
		store:       store,
		cfg:         cfg,
		propagators: propagators,
		logger:      logx.NewLogger("review-gate"),
		now:         time.Now,
	}
}

// Submit validates and persists a review submission in pending status.
func (g *Gate) Submit(review *persistence.Review) error {
	if err := g.validateSubmission(review); err != nil {
		return err
	}

	if g.cfg.MaxConcurrentReviews > 0 {
		count, err := g.store.CountPendingReviews()
		if err != nil {
			return fmt.Errorf("failed to count pending reviews: %w", err)
		}
		if count >= g.cfg.MaxConcurrentReviews {
			return fmt.Errorf("%w: %d pending, cap is %d", ErrTooManyPending, count, g.cfg.MaxConcurrentReviews)
		}
	}

	if err := g.store.InsertReview(review); err != nil {
		return err
	}
	g.logger.Info("review %s submitted by %s for stage %s", review.ID, review.ServiceName, review.PipelineStage)
	return nil
}

// SubmitForReview implements stage.ReviewSubmitter: it wraps a stage
// record's content in a review submission carrying the record's internal
// id in metadata for decision propagation.
func (g *Gate) SubmitForReview(_ context.Context, s stage.Stage, rec *persistence.StageRecord) (string, error) {
	review := &persistence.Review{
		ServiceName:   s.ServiceName(),
		PipelineStage: s.String(),
		Content:       rec.Content,
		CorrelationID: rec.ExternalID,
		Metadata: map[string]string{
			persistence.MetadataStageKey: strconv.FormatInt(rec.InternalID, 10),
		},
	}
	if err := g.Submit(review); err != nil {
		return "", err
	}
	return review.ID, nil
}

// Approve records an approval and propagates it to the originating stage
// record. Propagation failures are logged, never rolled back: the decision
// stands and the discrepancy is surfaced for operators.
func (g *Gate) Approve(reviewID, reason, notes string) error {
	return g.decide(reviewID, persistence.ReviewStatusApproved, reason, "", notes)
}

// Reject records a rejection with feedback and propagates it. A rejection
// without a reason is useless to the submitting stage, so reason is required.
func (g *Gate) Reject(reviewID, reason, feedback string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("rejection reason is required")
	}
	return g.decide(reviewID, persistence.ReviewStatusRejected, reason, feedback, "")
}

func (g *Gate) decide(reviewID, status, reason, feedback, notes string) error {
	review, err := g.store.GetReview(reviewID)
	if err != nil {
		return err
	}

	// Whether the sweeper got there first or the window lapsed just now,
	// the caller sees the same expiry error.
	if review.Status == persistence.ReviewStatusExpired {
		return fmt.Errorf("%w: submitted %s", ErrReviewExpired, review.SubmittedAt.Format(time.RFC3339))
	}

	// Lazy expiry: a pending review past its window expires on touch
	// instead of taking the decision.
	if review.Status == persistence.ReviewStatusPending && g.isExpired(review) {
		if err := g.expireReview(review); err != nil {
			return err
		}
		return fmt.Errorf("%w: submitted %s", ErrReviewExpired, review.SubmittedAt.Format(time.RFC3339))
	}

	if err := g.store.DecideReview(reviewID, status, reason, feedback, notes); err != nil {
		return err
	}
	g.logger.Info("review %s %s", reviewID, status)

	g.propagate(review, status)
	return nil
}

// propagate pushes a decision to the originating stage record. The review
// decision is already durable at this point; a failed propagation leaves
// the stage record behind, which the log line makes visible.
func (g *Gate) propagate(review *persistence.Review, status string) {
	s, internalID, err := g.origin(review)
	if err != nil {
		g.logger.Warn("review %s %s but not propagated: %v", review.ID, status, err)
		return
	}

	propagator, ok := g.propagators[s]
	if !ok {
		g.logger.Warn("review %s %s but not propagated: no propagator for stage %s", review.ID, status, s)
		return
	}

	switch status {
	case persistence.ReviewStatusApproved:
		err = propagator.OnApproved(internalID)
	case persistence.ReviewStatusRejected:
		err = propagator.OnRejected(internalID)
	case persistence.ReviewStatusExpired:
		err = propagator.OnExpired(internalID)
	default:
		err = fmt.Errorf("unexpected decision status %q", status)
	}
	if err != nil {
		g.logger.Warn("review %s %s but not propagated: %v", review.ID, status, err)
	}
}

// origin resolves the stage tag and internal record id a review came from.
func (g *Gate) origin(review *persistence.Review) (stage.Stage, int64, error) {
	s, err := stage.Parse(review.PipelineStage)
	if err != nil {
		return 0, 0, err
	}
	raw, ok := review.Metadata[persistence.MetadataStageKey]
	if !ok {
		return 0, 0, fmt.Errorf("review %s carries no stage record id", review.ID)
	}
	internalID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid stage record id %q on review %s: %w", raw, review.ID, err)
	}
	return s, internalID, nil
}

// GetReview returns a review, applying lazy expiry to stale pending ones.
func (g *Gate) GetReview(reviewID string) (*persistence.Review, error) {
	review, err := g.store.GetReview(reviewID)
	if err != nil {
		return nil, err
	}
	if review.Status == persistence.ReviewStatusPending && g.isExpired(review) {
		if err := g.expireReview(review); err != nil {
			return nil, err
		}
		review.Status = persistence.ReviewStatusExpired
	}
	return review, nil
}

// ListPending returns reviews still awaiting a decision.
func (g *Gate) ListPending() ([]*persistence.Review, error) {
	return g.store.ListPendingReviews()
}

// Dashboard returns the joined stage/review projection for status display.
func (g *Gate) Dashboard() ([]*persistence.DashboardRow, error) {
	return g.store.DashboardRows()
}

// CleanupExpiredReviews sweeps all pending reviews past the expiry window,
// marks them expired, propagates the expiry, and returns how many were swept.
func (g *Gate) CleanupExpiredReviews() (int, error) {
	cutoff := g.now().Add(-g.cfg.ReviewTimeout())
	expired, err := g.store.ExpirePendingBefore(cutoff)
	if err != nil {
		return 0, err
	}
	for _, review := range expired {
		g.logger.Info("review %s expired (submitted %s)", review.ID, review.SubmittedAt.Format(time.RFC3339))
		g.propagate(review, persistence.ReviewStatusExpired)
	}
	return len(expired), nil
}

// RunSweeper runs CleanupExpiredReviews on the configured interval until
// the context is cancelled.
func (g *Gate) RunSweeper(ctx context.Context) {
	interval := g.cfg.CleanupInterval()
	if interval <= 0 {
		g.logger.Info("review sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("review sweeper running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := g.CleanupExpiredReviews()
			if err != nil {
				g.logger.Error("review sweep failed: %v", err)
			} else if swept > 0 {
				g.logger.Info("review sweep expired %d reviews", swept)
			}
		}
	}
}

func (g *Gate) isExpired(review *persistence.Review) bool {
	window := g.cfg.ReviewTimeout()
	if window <= 0 {
		return false
	}
	return g.now().Sub(review.SubmittedAt) > window
}

func (g *Gate) expireReview(review *persistence.Review) error {
	err := g.store.DecideReview(review.ID, persistence.ReviewStatusExpired, "review window elapsed", "", "")
	if errors.Is(err, persistence.ErrAlreadyDecided) {
		return nil
	}
	if err != nil {
		return err
	}
	g.logger.Info("review %s expired on access", review.ID)
	g.propagate(review, persistence.ReviewStatusExpired)
	return nil
}

func (g *Gate) validateSubmission(review *persistence.Review) error {
	if strings.TrimSpace(review.ServiceName) == "" {
		return errors.New("service name is required")
	}
	if strings.TrimSpace(review.PipelineStage) == "" {
		return errors.New("pipeline stage is required")
	}
	if strings.TrimSpace(review.Content) == "" {
		return errors.New("content is required")
	}
	if g.cfg.MaxContentLength > 0 && len(review.Content) > g.cfg.MaxContentLength {
		return fmt.Errorf("content length %d exceeds maximum %d", len(review.Content), g.cfg.MaxContentLength)
	}
	if len(g.cfg.ValidPipelineStages) > 0 && !contains(g.cfg.ValidPipelineStages, review.PipelineStage) {
		return fmt.Errorf("invalid pipeline stage %q", review.PipelineStage)
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
