package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"conductor/pkg/assembler"
	"conductor/pkg/logx"
	"conductor/pkg/persistence"
	"conductor/pkg/provider/llm"
)

// StatusFailed is what GetStatus reports for unknown identifiers: callers
// polling a stage they cannot see treat it the same as a failed run.
const StatusFailed = persistence.StatusFailed

// Generator produces content for a named operation.
type Generator interface {
	Generate(ctx context.Context, operation, systemPrompt, userPrompt string) (llm.CompletionResponse, error)
}

// ReviewSubmitter submits stage output for human review. Implemented by
// the review gate; an interface here keeps the dependency one-way.
type ReviewSubmitter interface {
	SubmitForReview(ctx context.Context, s Stage, rec *persistence.StageRecord) (reviewID string, err error)
}

// Deps bundles the collaborators every stage manager needs.
type Deps struct {
	Store     *persistence.Store
	Validator *DependencyValidator
	Assembler *assembler.Assembler
	Generator Generator
	Submitter ReviewSubmitter
}

// Manager runs the lifecycle for one stage: validate prerequisites,
// assemble context, generate, persist, and submit for review.
type Manager struct {
	stage        Stage
	deps         Deps
	logger       *logx.Logger
	systemPrompt string

	// postPersist runs after generated content is stored, before review
	// submission. The stories stage uses it to extract user stories.
	postPersist func(rec *persistence.StageRecord, content string) error
}

func newManager(s Stage, deps Deps, systemPrompt string) *Manager {
	return &Manager{
		stage:        s,
		deps:         deps,
		logger:       logx.NewLogger(s.ServiceName()),
		systemPrompt: systemPrompt,
	}
}

// Stage returns the manager's stage tag.
func (m *Manager) Stage() Stage {
	return m.stage
}

// Execute runs the full lifecycle for one stage on the given project input
// and returns the record in pending_review status. Failures are persisted
// on the record before being returned.
func (m *Manager) Execute(ctx context.Context, projectID, input string) (*persistence.StageRecord, error) {
	if strings.TrimSpace(input) == "" && m.stage == Requirements {
		return nil, fmt.Errorf("input cannot be empty for %s", m.stage)
	}

	// Prerequisite approval is checked fresh on every execution.
	prereqRec, err := m.deps.Validator.Validate(projectID, m.stage)
	if err != nil {
		return nil, err
	}

	rec, err := m.deps.Store.CreateStageRecord(&persistence.StageRecord{
		ProjectID:      projectID,
		Stage:          m.stage.RecordKind(),
		PrerequisiteID: prereqInternalID(prereqRec),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", m.stage, err)
	}

	if err := m.transition(rec, persistence.StatusProcessing); err != nil {
		return nil, err
	}

	prompt, err := m.assemblePrompt(input, prereqRec)
	if err != nil {
		return rec, m.fail(rec, fmt.Errorf("context assembly failed: %w", err))
	}

	if err := m.transition(rec, persistence.StatusGenerating); err != nil {
		return rec, err
	}

	resp, err := m.deps.Generator.Generate(ctx, m.stage.Operation(), m.systemPrompt, prompt)
	if err != nil {
		return rec, m.fail(rec, fmt.Errorf("generation failed: %w", err))
	}
	m.logger.Info("generated %s content via %s (%d tokens, %s)",
		m.stage, resp.Provider, resp.TokensUsed, resp.ResponseTime)

	if err := m.transition(rec, persistence.StatusValidating); err != nil {
		return rec, err
	}

	if strings.TrimSpace(resp.Content) == "" {
		return rec, m.fail(rec, errors.New("generated content is empty"))
	}

	if err := m.deps.Store.UpdateStageContent(rec.InternalID, rec.Version, resp.Content, persistence.StatusValidating); err != nil {
		return rec, m.fail(rec, fmt.Errorf("failed to persist content: %w", err))
	}
	rec.Version++
	rec.Content = resp.Content

	if m.postPersist != nil {
		if err := m.postPersist(rec, resp.Content); err != nil {
			return rec, m.fail(rec, err)
		}
	}

	reviewID, err := m.deps.Submitter.SubmitForReview(ctx, m.stage, rec)
	if err != nil {
		return rec, m.fail(rec, fmt.Errorf("review submission failed: %w", err))
	}

	if err := m.deps.Store.SetStageReviewID(rec.InternalID, rec.Version, reviewID, persistence.StatusPendingReview); err != nil {
		return rec, m.fail(rec, fmt.Errorf("failed to link review: %w", err))
	}
	rec.Version++
	rec.ReviewID = reviewID
	rec.Status = persistence.StatusPendingReview

	m.logger.Info("%s record %s submitted for review %s", m.stage, rec.ExternalID, reviewID)
	return rec, nil
}

// GetStatus returns the status of a stage record by external id. Unknown
// identifiers report failed rather than an error.
func (m *Manager) GetStatus(externalID string) string {
	rec, err := m.deps.Store.GetStageByExternalID(externalID)
	if err != nil {
		return StatusFailed
	}
	return rec.Status
}

// OnApproved flips the record to approved when its review passes. Only a
// pending_review record can be approved.
func (m *Manager) OnApproved(internalID int64) error {
	return m.propagate(internalID, persistence.StatusApproved)
}

// OnRejected flips the record to rejected when its review is declined.
func (m *Manager) OnRejected(internalID int64) error {
	return m.propagate(internalID, persistence.StatusRejected)
}

// OnExpired flips the record to expired when its review window lapses.
func (m *Manager) OnExpired(internalID int64) error {
	return m.propagate(internalID, persistence.StatusExpired)
}

func (m *Manager) propagate(internalID int64, status string) error {
	rec, err := m.deps.Store.GetStageByInternalID(internalID)
	if err != nil {
		return fmt.Errorf("failed to load %s record %d: %w", m.stage, internalID, err)
	}
	if rec.Status != persistence.StatusPendingReview {
		return fmt.Errorf("cannot mark %s record %s %s from status %s", m.stage, rec.ExternalID, status, rec.Status)
	}
	if err := m.deps.Store.UpdateStageStatus(rec.InternalID, rec.Version, status); err != nil {
		return fmt.Errorf("failed to mark %s record %s %s: %w", m.stage, rec.ExternalID, status, err)
	}
	m.logger.Info("%s record %s marked %s", m.stage, rec.ExternalID, status)
	return nil
}

func (m *Manager) transition(rec *persistence.StageRecord, status string) error {
	if err := m.deps.Store.UpdateStageStatus(rec.InternalID, rec.Version, status); err != nil {
		return fmt.Errorf("failed to transition %s record to %s: %w", m.stage, status, err)
	}
	rec.Version++
	rec.Status = status
	return nil
}

// fail marks the record failed (best effort) and returns the cause.
func (m *Manager) fail(rec *persistence.StageRecord, cause error) error {
	m.logger.Error("%s record %s failed: %v", m.stage, rec.ExternalID, cause)
	if err := m.deps.Store.UpdateStageStatus(rec.InternalID, rec.Version, persistence.StatusFailed); err != nil {
		m.logger.Warn("could not mark record %s failed: %v", rec.ExternalID, err)
	} else {
		rec.Version++
		rec.Status = persistence.StatusFailed
	}
	return cause
}

func (m *Manager) assemblePrompt(input string, prereqRec *persistence.StageRecord) (string, error) {
	sections := []assembler.Section{
		{Title: "Input", Content: input, Priority: 100},
	}
	if prereqRec != nil {
		prereqStage, _ := m.stage.Prerequisite()
		sections = append(sections, assembler.Section{
			Title:    fmt.Sprintf("Approved %s Output", prereqStage),
			Content:  prereqRec.Content,
			Priority: 50,
		})
	}
	return m.deps.Assembler.Assemble(sections)
}

func prereqInternalID(rec *persistence.StageRecord) int64 {
	if rec == nil {
		return 0
	}
	return rec.InternalID
}
