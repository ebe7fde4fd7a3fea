package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"conductor/pkg/persistence"
)

// storyPayload mirrors the JSON shape the story-generation prompt asks for.
type storyPayload struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Priority           int      `json:"priority"`
}

// defaultAcceptanceCriteria fills in for stories the model emitted without any.
//
//nolint:gochecknoglobals // fixed fallback list
var defaultAcceptanceCriteria = []string{
	"Implementation completes successfully",
	"All tests pass",
}

// ExtractStories parses generated story content into user story records.
// The model is asked for a bare JSON array but often wraps it in a code
// fence or prose; extraction tolerates both. Stories without a title are
// skipped; an output with no valid story at all is an error.
func ExtractStories(content string) ([]*persistence.UserStory, error) {
	payload := extractJSONArray(content)
	if payload == "" {
		return nil, fmt.Errorf("no JSON array found in generated story content")
	}

	var parsed []storyPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse generated stories: %w", err)
	}

	stories := make([]*persistence.UserStory, 0, len(parsed))
	for i := range parsed {
		p := &parsed[i]
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		criteria := p.AcceptanceCriteria
		if len(criteria) == 0 {
			criteria = append([]string{}, defaultAcceptanceCriteria...)
		}
		stories = append(stories, &persistence.UserStory{
			Title:              strings.TrimSpace(p.Title),
			Description:        strings.TrimSpace(p.Description),
			AcceptanceCriteria: criteria,
			Priority:           p.Priority,
			Status:             persistence.StoryStatusDraft,
		})
	}

	if len(stories) == 0 {
		return nil, fmt.Errorf("no valid stories extracted from generated content")
	}
	return stories, nil
}

// extractJSONArray returns the outermost JSON array in the text, stripping
// any surrounding prose or markdown fences.
func extractJSONArray(content string) string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}
