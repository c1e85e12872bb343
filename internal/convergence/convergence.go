// Package convergence decides whether another EXECUTE→JUDGE→VERIFY pass
// could still change the outcome.
//
// Evaluation is a pure function of the history and the configuration. The
// default stability strategy requires the last StabilityWindow items to be
// identical (verdicts) or to lie within Epsilon of each other (scores);
// further strategies are selected by name and joined with a combinator.
// When none converges and the history has reached MaxIterations, the result
// is exhausted and the configured Policy decides whether that is an accepted
// terminal result or a failure.
package convergence

import (
	"fmt"
	"math"

	"github.com/roach88/phaseledger/internal/canonical"
)

// Defaults for a run that configures nothing.
const (
	DefaultMaxIterations   = 3
	DefaultStabilityWindow = 2
	DefaultEpsilon         = 1e-3
)

// Policy decides what an exhausted, non-converged run means.
type Policy string

const (
	// PolicyAccept finalizes with the last result.
	PolicyAccept Policy = "accept"
	// PolicyFail raises a max_iterations failure.
	PolicyFail Policy = "fail"
)

// Reasons recorded on a Result and in the trace header.
const (
	ReasonStability     = "stability"
	ReasonMaxIterations = "max_iterations"
)

// Config holds the thresholds for one run.
type Config struct {
	StabilityWindow     int        `json:"stability_window"`
	Epsilon             float64    `json:"epsilon"`
	ConfidenceTolerance float64    `json:"confidence_tolerance"`
	MaxIterations       int        `json:"max_iterations"`
	Policy              Policy     `json:"policy"`
	Strategies          []string   `json:"strategies"`
	Combine             Combinator `json:"combine"`
	Quorum              int        `json:"quorum"`
}

// DefaultConfig returns the defaults with the fail policy and the stability
// strategy.
func DefaultConfig() Config {
	return Config{
		StabilityWindow:     DefaultStabilityWindow,
		Epsilon:             DefaultEpsilon,
		ConfidenceTolerance: DefaultConfidenceTolerance,
		MaxIterations:       DefaultMaxIterations,
		Policy:              PolicyFail,
		Strategies:          []string{StrategyStability},
		Combine:             CombineAny,
		Quorum:              1,
	}
}

// Validate rejects thresholds that make convergence meaningless.
func (c Config) Validate() error {
	if c.StabilityWindow < 1 {
		return fmt.Errorf("stability_window must be at least 1, got %d", c.StabilityWindow)
	}
	if math.IsNaN(c.Epsilon) || math.IsInf(c.Epsilon, 0) || c.Epsilon < 0 {
		return fmt.Errorf("epsilon must be a finite non-negative number, got %v", c.Epsilon)
	}
	if math.IsNaN(c.ConfidenceTolerance) || math.IsInf(c.ConfidenceTolerance, 0) || c.ConfidenceTolerance < 0 {
		return fmt.Errorf("confidence_tolerance must be a finite non-negative number, got %v", c.ConfidenceTolerance)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.StabilityWindow > c.MaxIterations {
		return fmt.Errorf("stability_window %d must not exceed max_iterations %d", c.StabilityWindow, c.MaxIterations)
	}
	if c.Policy != PolicyAccept && c.Policy != PolicyFail {
		return fmt.Errorf("policy must be %q or %q, got %q", PolicyAccept, PolicyFail, c.Policy)
	}
	if _, err := NewStrategy(c); err != nil {
		return err
	}
	return nil
}

// Result is the evaluator's answer for one history.
type Result struct {
	Converged  bool   `json:"converged"`
	Iterations int    `json:"iterations"`
	Reason     string `json:"reason,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
}

// Exhausted reports a non-converged result at the iteration bound.
func (r Result) Exhausted() bool {
	return !r.Converged && r.Reason == ReasonMaxIterations
}

// EvaluateVerdicts checks a history of discrete verdicts with the verdict
// strategy.
func EvaluateVerdicts(history []string, cfg Config) Result {
	obs := make([]Observation, len(history))
	for i, v := range history {
		obs[i] = Observation{Verdict: v}
	}
	return Evaluate(obs, VerdictStrategy{}, cfg)
}

// EvaluateScores checks a history of numeric scores with the score strategy.
// Non-finite scores never converge.
func EvaluateScores(history []float64, cfg Config) Result {
	obs := make([]Observation, len(history))
	for i, c := range history {
		obs[i] = Observation{Confidence: c}
	}
	return Evaluate(obs, ScoreStrategy{}, cfg)
}

// Action is what the orchestrator should do after VERIFY.
type Action int

const (
	// Continue loops back to EXECUTE.
	Continue Action = iota
	// Finalize proceeds to FINALIZE.
	Finalize
	// Fail aborts the run with max_iterations.
	Fail
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Finalize:
		return "finalize"
	case Fail:
		return "fail"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Decide maps a result and policy to the next action.
func Decide(r Result, p Policy) Action {
	switch {
	case r.Converged:
		return Finalize
	case r.Exhausted() && p == PolicyAccept:
		return Finalize
	case r.Exhausted():
		return Fail
	}
	return Continue
}

// Hash is the SHA-256 of the canonical form of the last window items of
// history, recorded in the trace header as convergence_hash.
func Hash[T string | float64](history []T, window int) (string, error) {
	window = min(max(window, 1), len(history))
	tail := make([]any, 0, window)
	for _, v := range history[len(history)-window:] {
		tail = append(tail, v)
	}
	return canonical.Digest(canonical.DomainConvergence, tail)
}
