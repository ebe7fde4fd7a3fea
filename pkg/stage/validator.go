package stage

import (
	"errors"
	"fmt"

	"conductor/pkg/persistence"
)

// Prerequisite failures are typed so callers can distinguish "run the
// earlier stage first" from "wait for its review".
var (
	ErrPrerequisiteMissing     = errors.New("prerequisite stage has not been run")
	ErrPrerequisiteNotApproved = errors.New("prerequisite stage is not approved")
)

// DependencyValidator checks that a stage's prerequisite is approved.
// Every check hits storage: approval state changes as reviews are decided,
// so results are never cached.
type DependencyValidator struct {
	store *persistence.Store
}

// NewDependencyValidator creates a validator over the store.
func NewDependencyValidator(store *persistence.Store) *DependencyValidator {
	return &DependencyValidator{store: store}
}

// Validate returns the approved prerequisite record for the given stage
// within a project, or nil when the stage has no prerequisite. The latest
// record of the prerequisite stage is the one that counts.
func (v *DependencyValidator) Validate(projectID string, s Stage) (*persistence.StageRecord, error) {
	prereq, ok := s.Prerequisite()
	if !ok {
		return nil, nil
	}

	rec, err := v.store.GetLatestStageForProject(projectID, prereq.RecordKind())
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s requires %s", ErrPrerequisiteMissing, s, prereq)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prerequisite %s: %w", prereq, err)
	}

	if rec.Status != persistence.StatusApproved {
		return nil, fmt.Errorf("%w: %s is %s, %s requires it approved", ErrPrerequisiteNotApproved, prereq, rec.Status, s)
	}

	return rec, nil
}
