package convergence

import (
	"fmt"
	"math"
	"slices"
)

// DefaultConfidenceTolerance bounds the confidence drift the mixed strategy
// accepts between two consecutive VERIFY outputs.
const DefaultConfidenceTolerance = 0.01

// OscillationWindow is the number of trailing verdicts inspected for an
// A→B→A pattern.
const OscillationWindow = 3

// ReasonOscillation is recorded when verdicts alternate instead of settling.
const ReasonOscillation = "oscillation"

// Strategy names accepted in Config.Strategies.
const (
	StrategyStability   = "stability"
	StrategyVerdict     = "verdict"
	StrategyScore       = "score"
	StrategyMixed       = "mixed"
	StrategyOscillation = "oscillation"
)

// Combinator joins several strategies into one.
type Combinator string

const (
	CombineAny    Combinator = "any"
	CombineAll    Combinator = "all"
	CombineQuorum Combinator = "quorum"
)

// Observation is one pass through JUDGE and VERIFY. Score is the JUDGE
// confidence; Verdict and Confidence come from VERIFY.
type Observation struct {
	Score      float64 `json:"score"`
	Verdict    string  `json:"verdict,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Decision is a strategy's positive answer.
type Decision struct {
	Reason   string `json:"reason"`
	Strategy string `json:"strategy"`
}

// Strategy inspects a history and reports convergence. It must be a pure
// function of its arguments.
type Strategy interface {
	Name() string
	Evaluate(history []Observation, cfg Config) (Decision, bool)
}

// StabilityStrategy compares verdicts while every observation carries one
// and falls back to confidences otherwise.
type StabilityStrategy struct{}

func (StabilityStrategy) Name() string { return StrategyStability }

func (s StabilityStrategy) Evaluate(history []Observation, cfg Config) (Decision, bool) {
	if allVerdicts(history) {
		return VerdictStrategy{}.evaluate(history, cfg, s.Name())
	}
	return ScoreStrategy{}.evaluate(history, cfg, s.Name())
}

// VerdictStrategy converges when the last StabilityWindow verdicts match.
type VerdictStrategy struct{}

func (VerdictStrategy) Name() string { return StrategyVerdict }

func (s VerdictStrategy) Evaluate(history []Observation, cfg Config) (Decision, bool) {
	return s.evaluate(history, cfg, s.Name())
}

func (VerdictStrategy) evaluate(history []Observation, cfg Config, name string) (Decision, bool) {
	tail, ok := window(history, cfg.StabilityWindow)
	if !ok || tail[0].Verdict == "" {
		return Decision{}, false
	}
	for _, o := range tail[1:] {
		if o.Verdict != tail[0].Verdict {
			return Decision{}, false
		}
	}
	return Decision{Reason: ReasonStability, Strategy: name}, true
}

// ScoreStrategy converges when the last StabilityWindow VERIFY confidences
// lie within Epsilon of each other.
type ScoreStrategy struct{}

func (ScoreStrategy) Name() string { return StrategyScore }

func (s ScoreStrategy) Evaluate(history []Observation, cfg Config) (Decision, bool) {
	return s.evaluate(history, cfg, s.Name())
}

func (ScoreStrategy) evaluate(history []Observation, cfg Config, name string) (Decision, bool) {
	tail, ok := window(history, cfg.StabilityWindow)
	if !ok {
		return Decision{}, false
	}
	confidences := make([]float64, len(tail))
	for i, o := range tail {
		confidences[i] = o.Confidence
	}
	if slices.Max(confidences)-slices.Min(confidences) <= cfg.Epsilon {
		return Decision{Reason: ReasonStability, Strategy: name}, true
	}
	return Decision{}, false
}

// MixedStrategy converges when the last two observations agree on all three
// signals: JUDGE scores within Epsilon, VERIFY confidences within
// ConfidenceTolerance, and identical verdicts.
type MixedStrategy struct{}

func (MixedStrategy) Name() string { return StrategyMixed }

func (s MixedStrategy) Evaluate(history []Observation, cfg Config) (Decision, bool) {
	if len(history) < 2 {
		return Decision{}, false
	}
	last, prev := history[len(history)-1], history[len(history)-2]
	if math.Abs(last.Score-prev.Score) > cfg.Epsilon {
		return Decision{}, false
	}
	if math.Abs(last.Confidence-prev.Confidence) > cfg.ConfidenceTolerance {
		return Decision{}, false
	}
	if last.Verdict != prev.Verdict {
		return Decision{}, false
	}
	return Decision{Reason: ReasonStability, Strategy: s.Name()}, true
}

// OscillationStrategy stops a run whose verdicts alternate: the last
// OscillationWindow verdicts are not all equal, yet the newest repeats the
// one two passes back.
type OscillationStrategy struct{}

func (OscillationStrategy) Name() string { return StrategyOscillation }

func (s OscillationStrategy) Evaluate(history []Observation, _ Config) (Decision, bool) {
	tail, ok := window(history, OscillationWindow)
	if !ok {
		return Decision{}, false
	}
	first, middle, last := tail[0].Verdict, tail[1].Verdict, tail[2].Verdict
	if first == "" || middle == "" || last == "" {
		return Decision{}, false
	}
	if last == first && middle != last {
		return Decision{Reason: ReasonOscillation, Strategy: s.Name()}, true
	}
	return Decision{}, false
}

// Any returns the first decision of its strategies.
type Any []Strategy

func (Any) Name() string { return string(CombineAny) }

func (a Any) Evaluate(history []Observation, cfg Config) (Decision, bool) {
	for _, s := range a {
		if d, ok := s.Evaluate(history, cfg); ok {
			return d, true
		}
	}
	return Decision{}, false
}

// All converges only when every strategy does. The reason is the first
// strategy's.
type All []Strategy

func (All) Name() string { return string(CombineAll) }

func (a All) Evaluate(history []Observation, cfg Config) (Decision, bool) {
	if len(a) == 0 {
		return Decision{}, false
	}
	var first Decision
	for i, s := range a {
		d, ok := s.Evaluate(history, cfg)
		if !ok {
			return Decision{}, false
		}
		if i == 0 {
			first = d
		}
	}
	return Decision{Reason: first.Reason, Strategy: a.Name()}, true
}

// Quorum converges when at least N strategies do.
type Quorum struct {
	N          int
	Strategies []Strategy
}

func (Quorum) Name() string { return string(CombineQuorum) }

func (q Quorum) Evaluate(history []Observation, cfg Config) (Decision, bool) {
	var decisions []Decision
	for _, s := range q.Strategies {
		if d, ok := s.Evaluate(history, cfg); ok {
			decisions = append(decisions, d)
		}
	}
	if len(decisions) == 0 || len(decisions) < q.N {
		return Decision{}, false
	}
	return Decision{Reason: decisions[0].Reason, Strategy: q.Name()}, true
}

// NewStrategy builds the strategy named by cfg. A single strategy is
// returned as is; several are joined with cfg.Combine.
func NewStrategy(cfg Config) (Strategy, error) {
	names := cfg.Strategies
	if len(names) == 0 {
		names = []string{StrategyStability}
	}
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := strategyByName(name)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	if len(strategies) == 1 {
		return strategies[0], nil
	}

	switch cfg.Combine {
	case "", CombineAny:
		return Any(strategies), nil
	case CombineAll:
		return All(strategies), nil
	case CombineQuorum:
		if cfg.Quorum < 1 || cfg.Quorum > len(strategies) {
			return nil, fmt.Errorf("quorum must be between 1 and %d, got %d", len(strategies), cfg.Quorum)
		}
		return Quorum{N: cfg.Quorum, Strategies: strategies}, nil
	}
	return nil, fmt.Errorf("combine must be %q, %q or %q, got %q", CombineAny, CombineAll, CombineQuorum, cfg.Combine)
}

func strategyByName(name string) (Strategy, error) {
	switch name {
	case StrategyStability:
		return StabilityStrategy{}, nil
	case StrategyVerdict:
		return VerdictStrategy{}, nil
	case StrategyScore:
		return ScoreStrategy{}, nil
	case StrategyMixed:
		return MixedStrategy{}, nil
	case StrategyOscillation:
		return OscillationStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown convergence strategy %q", name)
}

// Evaluate runs strategy over history and applies the iteration bound.
func Evaluate(history []Observation, strategy Strategy, cfg Config) Result {
	n := len(history)
	if d, ok := strategy.Evaluate(history, cfg); ok {
		return Result{Converged: true, Iterations: n, Reason: d.Reason, Strategy: d.Strategy}
	}
	if n >= cfg.MaxIterations {
		return Result{Converged: false, Iterations: n, Reason: ReasonMaxIterations}
	}
	return Result{Converged: false, Iterations: n}
}

func window(history []Observation, size int) ([]Observation, bool) {
	size = max(size, 1)
	if len(history) < size {
		return nil, false
	}
	return history[len(history)-size:], true
}

func allVerdicts(history []Observation) bool {
	for _, o := range history {
		if o.Verdict == "" {
			return false
		}
	}
	return true
}
