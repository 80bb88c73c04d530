package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/domain/capability"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
)

// capabilityKeywords maps requirement keywords to the capability tag of
// the task that satisfies them. Classification picks the first tag
// whose keyword list matches; requirements matching nothing make the
// whole decomposition fail.
var capabilityKeywords = []struct {
	tag      capability.Tag
	keywords []string
}{
	{capability.TestWriting, []string{"test", "coverage", "verify", "validation"}},
	{capability.CodeReview, []string{"review", "audit", "inspect"}},
	{capability.Documentation, []string{"document", "docs", "readme", "changelog"}},
	{capability.Analysis, []string{"analyze", "analyse", "investigate", "research", "design"}},
	{capability.CodeGeneration, []string{"implement", "build", "create", "add", "fix", "refactor", "write", "develop"}},
}

func classifyRequirement(req string) (capability.Tag, bool) {
	lower := strings.ToLower(req)
	for _, entry := range capabilityKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.tag, true
			}
		}
	}
	return "", false
}

// decompose breaks an objective into its task graph: a leading analysis
// task, one task per requirement depending on the analysis, and a
// trailing review task depending on every requirement task. Returns
// domain.ErrDecomposition if any requirement maps to no capability.
func decompose(o *objective.Objective) ([]task.Task, error) {
	if len(o.Requirements) == 0 {
		return nil, fmt.Errorf("objective %s has no requirements: %w", o.ID, domain.ErrDecomposition)
	}

	now := time.Now()

	analysis := task.Task{
		ID:          uuid.NewString(),
		ObjectiveID: o.ID,
		Description: "Analyze objective: " + o.Description,
		Capability:  capability.Analysis,
		State:       task.StateReady, // no dependencies
		CreatedAt:   now,
		StateTimes:  map[task.State]time.Time{task.StateReady: now},
		Payload: map[string]any{
			"objective":    o.Description,
			"requirements": o.Requirements,
		},
	}

	tasks := []task.Task{analysis}
	implIDs := make([]string, 0, len(o.Requirements))

	for _, req := range o.Requirements {
		tag, ok := classifyRequirement(req)
		if !ok {
			return nil, fmt.Errorf("requirement %q maps to no capability: %w", req, domain.ErrDecomposition)
		}
		t := task.Task{
			ID:          uuid.NewString(),
			ObjectiveID: o.ID,
			Description: req,
			Capability:  tag,
			DependsOn:   []string{analysis.ID},
			State:       task.StatePending,
			CreatedAt:   now,
			StateTimes:  map[task.State]time.Time{task.StatePending: now},
			Payload: map[string]any{
				"requirement": req,
				"objective":   o.Description,
			},
		}
		tasks = append(tasks, t)
		implIDs = append(implIDs, t.ID)
	}

	review := task.Task{
		ID:          uuid.NewString(),
		ObjectiveID: o.ID,
		Description: "Review results for objective: " + o.Description,
		Capability:  capability.CodeReview,
		DependsOn:   implIDs,
		State:       task.StatePending,
		CreatedAt:   now,
		StateTimes:  map[task.State]time.Time{task.StatePending: now},
	}
	tasks = append(tasks, review)

	return tasks, nil
}
