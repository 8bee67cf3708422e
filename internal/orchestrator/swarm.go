package orchestrator

import "fmt"

// Swarm decomposition phases per strategy. Unknown strategies fall back
// to the development phases.
var swarmPhases = map[string][]struct {
	taskType string
	phase    string
}{
	"research": {
		{"research", "survey existing approaches"},
		{"research", "evaluate candidate solutions"},
		{"documentation", "write up findings"},
	},
	"development": {
		{"design", "design the solution"},
		{"code", "implement the solution"},
		{"review", "test and review the implementation"},
		{"documentation", "document the result"},
	},
	"analysis": {
		{"research", "collect inputs and constraints"},
		{"review", "analyze trade-offs"},
		{"documentation", "summarize conclusions"},
	},
}

// SwarmObjective asks for an objective to be split into phase tasks.
type SwarmObjective struct {
	Objective string `json:"objective"`
	Strategy  string `json:"strategy"`
	Priority  string `json:"priority,omitempty"`
}

// DecomposeObjective expands an objective into one task per phase of the
// chosen strategy. Each task is created normally, so auto-assignment
// applies when agents are available.
func (e *Engine) DecomposeObjective(req SwarmObjective) []Task {
	phases, ok := swarmPhases[req.Strategy]
	if !ok {
		phases = swarmPhases["development"]
	}
	out := make([]Task, 0, len(phases))
	var prevID string
	for _, p := range phases {
		t := Task{
			Type:        p.taskType,
			Description: fmt.Sprintf("%s: %s", req.Objective, p.phase),
			Priority:    req.Priority,
		}
		if prevID != "" {
			t.Dependencies = []string{prevID}
		}
		created := e.CreateTask(t)
		prevID = created.TaskID
		out = append(out, *created)
	}
	return out
}
