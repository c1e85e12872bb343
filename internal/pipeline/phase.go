// Package pipeline implements the canonical phase graph and the per-run
// state machine that walks it.
//
// The graph is fixed at build time:
//
//	INIT → PLAN → EXECUTE → JUDGE → VERIFY → FINALIZE → DONE
//	                 ↑                  │
//	                 └──── loop-back ───┘  (bounded by max_iterations)
//
// Every non-terminal phase may additionally be aborted, which moves the run
// straight to ABORTED. DONE and ABORTED have no outgoing edges. There is no
// API for adding or removing edges.
package pipeline

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Phase is a named step in the canonical pipeline lifecycle.
type Phase string

const (
	PhaseInit     Phase = "INIT"
	PhasePlan     Phase = "PLAN"
	PhaseExecute  Phase = "EXECUTE"
	PhaseJudge    Phase = "JUDGE"
	PhaseVerify   Phase = "VERIFY"
	PhaseFinalize Phase = "FINALIZE"
	PhaseDone     Phase = "DONE"
	PhaseAborted  Phase = "ABORTED"
)

// phaseSequence is the declaration order of the graph, used for
// definitions and fingerprints.
var phaseSequence = []Phase{
	PhaseInit,
	PhasePlan,
	PhaseExecute,
	PhaseJudge,
	PhaseVerify,
	PhaseFinalize,
	PhaseDone,
	PhaseAborted,
}

// transitions is the fixed successor table. VERIFY is the only phase with
// two successors; VERIFY→EXECUTE is the bounded loop-back edge.
// Never mutated after init; accessors hand out copies.
var transitions = map[Phase][]Phase{
	PhaseInit:     {PhasePlan},
	PhasePlan:     {PhaseExecute},
	PhaseExecute:  {PhaseJudge},
	PhaseJudge:    {PhaseVerify},
	PhaseVerify:   {PhaseExecute, PhaseFinalize},
	PhaseFinalize: {PhaseDone},
	PhaseDone:     {},
	PhaseAborted:  {},
}

// Phases returns all phases in declaration order.
func Phases() []Phase {
	return slices.Clone(phaseSequence)
}

// ParsePhase converts a wire string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of the eight canonical phases.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// IsTerminal reports whether p has no outgoing transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

func (p Phase) String() string {
	return string(p)
}

// UnmarshalJSON rejects phases outside the canonical set.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePhase(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Successors returns the allowed successors of p, excluding ABORTED.
func Successors(p Phase) []Phase {
	return slices.Clone(transitions[p])
}

// CanTransition reports whether from→to is an edge of the fixed graph.
// Abort edges are not part of the table; see Machine.Abort.
func CanTransition(from, to Phase) bool {
	return slices.Contains(transitions[from], to)
}

// TerminationReason records why a run stopped.
type TerminationReason string

const (
	TerminationCompleted          TerminationReason = "completed"
	TerminationConvergence        TerminationReason = "convergence"
	TerminationFailure            TerminationReason = "failure"
	TerminationUserAbort          TerminationReason = "user_abort"
	TerminationResourceExhaustion TerminationReason = "resource_exhaustion"
)

// Valid reports whether r is a known termination reason.
func (r TerminationReason) Valid() bool {
	switch r {
	case TerminationCompleted, TerminationConvergence, TerminationFailure,
		TerminationUserAbort, TerminationResourceExhaustion:
		return true
	}
	return false
}
