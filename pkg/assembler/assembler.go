// Package assembler builds bounded prompts from upstream stage outputs.
//
// Each stage hands the assembler the artifacts it depends on as prioritized
// sections; the assembler fits them into a token budget, truncating the
// lowest-priority sections first so the most load-bearing context survives.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"conductor/pkg/config"
	"conductor/pkg/logx"
	"conductor/pkg/tokens"
)

// Section is one contributed block of upstream context.
type Section struct {
	Title    string
	Content  string
	Priority int // higher survives longer under budget pressure
}

// Assembler fits sections into a token budget.
type Assembler struct {
	counter *tokens.Counter
	logger  *logx.Logger
	cfg     config.AssemblerConfig
}

// New creates an assembler with the given budget configuration.
func New(cfg config.AssemblerConfig, counter *tokens.Counter) *Assembler {
	return &Assembler{
		counter: counter,
		logger:  logx.NewLogger("assembler"),
		cfg:     cfg,
	}
}

// Assemble renders sections into a single prompt body within the configured
// token budget. Sections are emitted in input order; when the budget is
// exceeded, the lowest-priority sections are truncated (and then dropped)
// until the prompt fits.
func (a *Assembler) Assemble(sections []Section) (string, error) {
	if len(sections) == 0 {
		return "", fmt.Errorf("no sections to assemble")
	}

	budget := a.cfg.MaxPromptTokens
	kept := make([]Section, len(sections))
	copy(kept, sections)

	// Overhead for headers is small but real; count the fully rendered text.
	for {
		rendered := a.render(kept)
		used := a.counter.Count(rendered)
		if used <= budget {
			a.logger.Debug("assembled %d sections, %d tokens (budget %d)", countNonEmpty(kept), used, budget)
			return rendered, nil
		}

		victim := lowestPriority(kept)
		if victim < 0 {
			// Everything already truncated away; the budget cannot be met.
			return "", fmt.Errorf("prompt budget of %d tokens too small for %d sections", budget, len(sections))
		}

		overshoot := used - budget
		sectionTokens := a.counter.Count(kept[victim].Content)
		if sectionTokens <= overshoot {
			// Truncation can't save it; drop the section entirely.
			a.logger.Warn("dropping section %q (%d tokens) to fit prompt budget", kept[victim].Title, sectionTokens)
			kept[victim].Content = ""
		} else {
			target := sectionTokens - overshoot
			kept[victim].Content = a.counter.Truncate(kept[victim].Content, target)
			a.logger.Debug("truncated section %q from %d to ~%d tokens", kept[victim].Title, sectionTokens, target)
		}
	}
}

// render joins sections with markdown-style headers, skipping emptied ones.
func (a *Assembler) render(sections []Section) string {
	var sb strings.Builder
	for i := range sections {
		s := &sections[i]
		if s.Content == "" {
			continue
		}
		title := s.Title
		if a.cfg.SectionHeaderLimit > 0 && len(title) > a.cfg.SectionHeaderLimit {
			title = title[:a.cfg.SectionHeaderLimit]
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(title)
		sb.WriteString("\n\n")
		sb.WriteString(s.Content)
	}
	return sb.String()
}

// lowestPriority returns the index of the non-empty section with the lowest
// priority, preferring later sections on ties. Returns -1 if none remain.
func lowestPriority(sections []Section) int {
	idx := -1
	for i := range sections {
		if sections[i].Content == "" {
			continue
		}
		if idx == -1 || sections[i].Priority <= sections[idx].Priority {
			idx = i
		}
	}
	return idx
}

func countNonEmpty(sections []Section) int {
	n := 0
	for i := range sections {
		if sections[i].Content != "" {
			n++
		}
	}
	return n
}

// SortByPriority orders sections highest-priority first. Useful for callers
// that want emission order to follow importance rather than pipeline order.
func SortByPriority(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Priority > sections[j].Priority
	})
}
