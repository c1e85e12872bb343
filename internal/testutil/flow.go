package testutil

// FixedRunIDGenerator generates the same run ID every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario run twice produces byte-identical traces. Unlike
// trace.FixedGenerator, which returns IDs in sequence, it never runs out.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator for id.
//
// The id is typically set in the scenario YAML:
//
//	run_id: "run-00000000-0000-0000-0000-000000000001"
//
// If id is empty, Generate() returns "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run ID.
//
// Implements trace.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
