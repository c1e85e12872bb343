package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotStarted is returned when a transition is attempted before Start.
var ErrNotStarted = errors.New("pipeline: machine not started")

// IllegalTransitionError reports a requested edge that is not in the graph.
type IllegalTransitionError struct {
	From Phase
	To   Phase
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s → %s", e.From, e.To)
}

// IsIllegalTransition reports whether err is an *IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var target *IllegalTransitionError
	return errors.As(err, &target)
}

// IterationLimitError is returned when a loop-back would exceed the
// configured iteration bound.
type IterationLimitError struct {
	Max        int
	Iterations int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("iteration limit exceeded: %d loop-backs, max %d", e.Iterations, e.Max)
}

// IsIterationLimit reports whether err is an *IterationLimitError.
func IsIterationLimit(err error) bool {
	var target *IterationLimitError
	return errors.As(err, &target)
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithLogger sets the logger for transition events.
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		m.logger = logger
	}
}

// Machine tracks the current phase of one run and enforces the graph.
// It is single-owner: one run, one goroutine.
type Machine struct {
	current       Phase
	started       bool
	iterations    int
	maxIterations int
	abortReason   TerminationReason
	logger        *slog.Logger
}

// NewMachine creates a machine bounded to maxIterations loop-backs.
// A non-positive bound disables loop-back entirely.
func NewMachine(maxIterations int, opts ...MachineOption) *Machine {
	m := &Machine{
		maxIterations: maxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start places the machine in INIT. It may be called once.
func (m *Machine) Start() error {
	if m.started {
		return &IllegalTransitionError{From: m.current, To: PhaseInit}
	}
	m.started = true
	m.current = PhaseInit
	m.logger.Debug("pipeline started", "phase", m.current)
	return nil
}

// Transition moves to the given phase if from→to is an edge of the graph.
// VERIFY→EXECUTE is routed through LoopBackToExecute so the iteration bound
// always applies. ABORTED is never a valid target here; use Abort.
func (m *Machine) Transition(to Phase) error {
	if !m.started {
		return ErrNotStarted
	}
	if m.current == PhaseVerify && to == PhaseExecute {
		return m.LoopBackToExecute()
	}
	if !CanTransition(m.current, to) {
		return &IllegalTransitionError{From: m.current, To: to}
	}
	m.logger.Debug("phase transition", "from", m.current, "to", to)
	m.current = to
	return nil
}

// LoopBackToExecute takes the VERIFY→EXECUTE edge and counts one iteration.
// When the count would exceed the bound the machine moves to ABORTED with
// reason resource_exhaustion and an *IterationLimitError is returned.
func (m *Machine) LoopBackToExecute() error {
	if !m.started {
		return ErrNotStarted
	}
	if m.current != PhaseVerify {
		return &IllegalTransitionError{From: m.current, To: PhaseExecute}
	}
	if m.iterations+1 > m.maxIterations {
		m.logger.Info("pipeline aborted", "phase", m.current, "reason", TerminationResourceExhaustion,
			"iterations", m.iterations, "max", m.maxIterations)
		m.current = PhaseAborted
		m.abortReason = TerminationResourceExhaustion
		return &IterationLimitError{Max: m.maxIterations, Iterations: m.iterations + 1}
	}
	m.iterations++
	m.logger.Debug("loop back to execute", "iteration", m.iterations, "max", m.maxIterations)
	m.current = PhaseExecute
	return nil
}

// Abort moves any non-terminal phase directly to ABORTED.
func (m *Machine) Abort(reason TerminationReason) error {
	if !m.started {
		return ErrNotStarted
	}
	if m.current.IsTerminal() {
		return &IllegalTransitionError{From: m.current, To: PhaseAborted}
	}
	if !reason.Valid() || reason == TerminationCompleted || reason == TerminationConvergence {
		return fmt.Errorf("pipeline: invalid abort reason %q", reason)
	}
	m.logger.Info("pipeline aborted", "phase", m.current, "reason", reason)
	m.current = PhaseAborted
	m.abortReason = reason
	return nil
}

// Current returns the current phase, or "" before Start.
func (m *Machine) Current() Phase {
	return m.current
}

// Iterations returns the number of loop-backs taken so far.
func (m *Machine) Iterations() int {
	return m.iterations
}

// MaxIterations returns the configured loop-back bound.
func (m *Machine) MaxIterations() int {
	return m.maxIterations
}

// IsTerminal reports whether the machine reached DONE or ABORTED.
func (m *Machine) IsTerminal() bool {
	return m.current.IsTerminal()
}

// TerminationReason is "completed" in DONE, the abort reason in ABORTED,
// and empty otherwise.
func (m *Machine) TerminationReason() TerminationReason {
	switch m.current {
	case PhaseDone:
		return TerminationCompleted
	case PhaseAborted:
		return m.abortReason
	}
	return ""
}
