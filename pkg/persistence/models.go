package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Stage kinds stored in the stage_records.stage column.
const (
	StageRequirements = "requirements"
	StagePlanning     = "planning"
	StageStories      = "stories"
	StageCode         = "code"
)

// Stage record statuses.
const (
	StatusCreated       = "created"
	StatusProcessing    = "processing"
	StatusGenerating    = "generating"
	StatusValidating    = "validating"
	StatusPendingReview = "pending_review"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
	StatusFailed        = "failed"
	StatusExpired       = "expired"
)

// Review statuses.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"
	ReviewStatusExpired  = "expired"
)

// User story statuses.
const (
	StoryStatusDraft    = "draft"
	StoryStatusApproved = "approved"
)

// Project represents a project that owns pipeline stage records.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// StageRecord is a persisted pipeline stage artifact. InternalID is the
// database rowid used for cross-table linkage; ExternalID is the opaque
// identifier handed to callers.
type StageRecord struct {
	InternalID     int64     `json:"internal_id"`
	ExternalID     string    `json:"external_id"`
	ProjectID      string    `json:"project_id"`
	Stage          string    `json:"stage"`
	Status         string    `json:"status"`
	Content        string    `json:"content"`
	ReviewID       string    `json:"review_id,omitempty"`
	PrerequisiteID int64     `json:"prerequisite_id,omitempty"` // 0 when the stage has no prerequisite
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserStory is a story extracted from a story-generation artifact.
type UserStory struct {
	ID                 string    `json:"id"`
	StageInternalID    int64     `json:"stage_internal_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	Priority           int       `json:"priority"`
	Status             string    `json:"status"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Review is a persisted review submission.
type Review struct {
	ID               string            `json:"id"`
	ServiceName      string            `json:"service_name"`
	PipelineStage    string            `json:"pipeline_stage"`
	Content          string            `json:"content"`
	CorrelationID    string            `json:"correlation_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Status           string            `json:"status"`
	DecisionReason   string            `json:"decision_reason,omitempty"`
	DecisionFeedback string            `json:"decision_feedback,omitempty"`
	DecisionNotes    string            `json:"decision_notes,omitempty"`
	Version          int64             `json:"version"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	ReviewedAt       *time.Time        `json:"reviewed_at,omitempty"`
}

// MetadataStageKey is the review metadata key that carries the
// originating stage record's internal id, formatted with strconv.
const MetadataStageKey = "stage_internal_id"

// NewProjectID generates a unique project identifier.
func NewProjectID() string {
	return "proj-" + uuid.New().String()
}

// NewStageID generates a unique external stage record identifier.
func NewStageID(stage string) string {
	return stage + "-" + uuid.New().String()
}

// NewReviewID generates a unique review identifier.
func NewReviewID() string {
	return "review-" + uuid.New().String()
}

// NewStoryID generates a unique user story identifier.
func NewStoryID() string {
	return "story-" + uuid.New().String()
}
