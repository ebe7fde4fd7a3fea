// Package stage implements the pipeline stage lifecycle: dependency
// validation, context assembly, content generation, and review submission.
package stage

import (
	"fmt"

	"conductor/pkg/persistence"
)

// Stage is the pipeline stage variant. Dispatch is by this tag, never by
// free-form service name strings.
type Stage int

const (
	Requirements Stage = iota
	Planning
	Stories
	Code
)

// All lists the stages in pipeline order.
//
//nolint:gochecknoglobals // fixed pipeline order
var All = []Stage{Requirements, Planning, Stories, Code}

// String returns the stage's canonical name.
func (s Stage) String() string {
	switch s {
	case Requirements:
		return "Requirements"
	case Planning:
		return "Planning"
	case Stories:
		return "Stories"
	case Code:
		return "Code"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// RecordKind returns the stage discriminator stored in stage records.
func (s Stage) RecordKind() string {
	switch s {
	case Requirements:
		return persistence.StageRequirements
	case Planning:
		return persistence.StagePlanning
	case Stories:
		return persistence.StageStories
	case Code:
		return persistence.StageCode
	default:
		return ""
	}
}

// Operation returns the generation operation name bound in configuration.
func (s Stage) Operation() string {
	switch s {
	case Requirements:
		return "RequirementsAnalysis"
	case Planning:
		return "ProjectPlanning"
	case Stories:
		return "StoryGeneration"
	case Code:
		return "CodeGeneration"
	default:
		return ""
	}
}

// ServiceName identifies the submitting service on review records.
func (s Stage) ServiceName() string {
	switch s {
	case Requirements:
		return "requirements-service"
	case Planning:
		return "planning-service"
	case Stories:
		return "stories-service"
	case Code:
		return "code-service"
	default:
		return ""
	}
}

// Prerequisite returns the stage that must be approved before this one
// can run. Requirements has none.
func (s Stage) Prerequisite() (Stage, bool) {
	switch s {
	case Planning:
		return Requirements, true
	case Stories:
		return Planning, true
	case Code:
		return Stories, true
	default:
		return 0, false
	}
}

// Parse resolves a pipeline stage name (as carried on review records)
// back to its Stage tag.
func Parse(name string) (Stage, error) {
	switch name {
	case "Requirements":
		return Requirements, nil
	case "Planning":
		return Planning, nil
	case "Stories":
		return Stories, nil
	case "Code":
		return Code, nil
	default:
		return 0, fmt.Errorf("unknown pipeline stage: %q", name)
	}
}
