package stage

import "conductor/pkg/persistence"

// System prompts for each generation operation. Kept short on purpose:
// the assembled context carries the project-specific material.
const (
	requirementsPrompt = `You are a senior business analyst. Analyze the raw project description
and produce a structured requirements document: functional requirements, non-functional
requirements, constraints, and assumptions. Number every requirement.`

	planningPrompt = `You are a technical project planner. From the approved requirements,
produce a project plan: architecture overview, milestones, deliverables, and risks.
Reference requirements by number where applicable.`

	storiesPrompt = `You are an agile product owner. From the approved project plan, produce
user stories as a JSON array. Each story is an object with fields "title", "description",
"acceptance_criteria" (array of strings), and "priority" (integer, higher is more urgent).
Respond with the JSON array only.`

	codePrompt = `You are a senior software engineer. Implement the approved user stories.
Produce complete, idiomatic code with brief notes on structure. Address every story.`
)

// NewRequirementsService creates the manager for the requirements stage.
func NewRequirementsService(deps Deps) *Manager {
	return newManager(Requirements, deps, requirementsPrompt)
}

// NewPlanningService creates the manager for the planning stage.
func NewPlanningService(deps Deps) *Manager {
	return newManager(Planning, deps, planningPrompt)
}

// NewStoriesService creates the manager for the story-generation stage.
// Generated stories are extracted and persisted as individual records
// before the artifact goes to review.
func NewStoriesService(deps Deps) *Manager {
	m := newManager(Stories, deps, storiesPrompt)
	m.postPersist = func(rec *persistence.StageRecord, content string) error {
		stories, err := ExtractStories(content)
		if err != nil {
			return err
		}
		for _, story := range stories {
			story.StageInternalID = rec.InternalID
		}
		if err := deps.Store.InsertUserStories(stories); err != nil {
			return err
		}
		m.logger.Info("extracted %d user stories from record %s", len(stories), rec.ExternalID)
		return nil
	}
	return m
}

// NewCodeService creates the manager for the code-generation stage.
func NewCodeService(deps Deps) *Manager {
	return newManager(Code, deps, codePrompt)
}

// Services builds all four stage managers over shared dependencies,
// keyed by stage tag for review propagation dispatch.
func Services(deps Deps) map[Stage]*Manager {
	return map[Stage]*Manager{
		Requirements: NewRequirementsService(deps),
		Planning:     NewPlanningService(deps),
		Stories:      NewStoriesService(deps),
		Code:         NewCodeService(deps),
	}
}
