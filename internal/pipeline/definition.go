package pipeline

// DefinitionName identifies the standard pipeline in fingerprints and
// trace headers.
const DefinitionName = "auditable-doc-pipeline"

// Definition describes the pipeline a run executes. It is part of the
// fingerprint input, so every field must be deterministic.
type Definition struct {
	Name        string            `json:"name"`
	Phases      []Phase           `json:"phases"`
	Transitions map[Phase][]Phase `json:"transitions"`
	Agents      map[Phase]string  `json:"agents,omitempty"`
}

// StandardDefinition returns the definition of the fixed graph.
func StandardDefinition() Definition {
	edges := make(map[Phase][]Phase, len(transitions))
	for from := range transitions {
		edges[from] = Successors(from)
	}
	return Definition{
		Name:        DefinitionName,
		Phases:      Phases(),
		Transitions: edges,
	}
}

// Payload renders the definition as a generic JSON tree for hashing and
// for embedding in trace headers.
func (d Definition) Payload() map[string]any {
	phases := make([]any, len(d.Phases))
	for i, p := range d.Phases {
		phases[i] = string(p)
	}

	edges := make(map[string]any, len(d.Transitions))
	for from, to := range d.Transitions {
		succ := make([]any, len(to))
		for i, p := range to {
			succ[i] = string(p)
		}
		edges[string(from)] = succ
	}

	out := map[string]any{
		"name":        d.Name,
		"phases":      phases,
		"transitions": edges,
	}
	if len(d.Agents) > 0 {
		agents := make(map[string]any, len(d.Agents))
		for p, name := range d.Agents {
			agents[string(p)] = name
		}
		out["agents"] = agents
	}
	return out
}
