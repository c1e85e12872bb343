package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verdicts(vs ...string) []Observation {
	out := make([]Observation, len(vs))
	for i, v := range vs {
		out[i] = Observation{Score: 0.5, Verdict: v, Confidence: 0.5}
	}
	return out
}

func TestStabilityStrategy(t *testing.T) {
	cfg := DefaultConfig()

	d, ok := StabilityStrategy{}.Evaluate(verdicts("fail", "pass", "pass"), cfg)
	require.True(t, ok)
	assert.Equal(t, Decision{Reason: ReasonStability, Strategy: StrategyStability}, d)

	_, ok = StabilityStrategy{}.Evaluate(verdicts("pass", "fail"), cfg)
	assert.False(t, ok)

	noVerdict := []Observation{{Confidence: 0.8}, {Confidence: 0.8005}}
	_, ok = StabilityStrategy{}.Evaluate(noVerdict, cfg)
	assert.True(t, ok, "falls back to confidences")
}

func TestVerdictStrategyNeedsVerdicts(t *testing.T) {
	_, ok := VerdictStrategy{}.Evaluate([]Observation{{Confidence: 0.5}, {Confidence: 0.5}}, DefaultConfig())
	assert.False(t, ok)
}

func TestScoreStrategy(t *testing.T) {
	cfg := DefaultConfig()

	_, ok := ScoreStrategy{}.Evaluate([]Observation{{Confidence: 0.8, Verdict: "a"}, {Confidence: 0.8005, Verdict: "b"}}, cfg)
	assert.True(t, ok, "verdicts are ignored")

	_, ok = ScoreStrategy{}.Evaluate([]Observation{{Confidence: 0.8}, {Confidence: 0.9}}, cfg)
	assert.False(t, ok)
}

func TestMixedStrategy(t *testing.T) {
	cfg := DefaultConfig()
	base := Observation{Score: 0.7, Verdict: "pass", Confidence: 0.90}

	tests := []struct {
		name      string
		next      Observation
		converged bool
	}{
		{"all stable", Observation{Score: 0.7005, Verdict: "pass", Confidence: 0.905}, true},
		{"confidence within tolerance", Observation{Score: 0.7, Verdict: "pass", Confidence: 0.895}, true},
		{"score moved", Observation{Score: 0.75, Verdict: "pass", Confidence: 0.90}, false},
		{"confidence moved", Observation{Score: 0.7, Verdict: "pass", Confidence: 0.95}, false},
		{"verdict changed", Observation{Score: 0.7, Verdict: "fail", Confidence: 0.90}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := MixedStrategy{}.Evaluate([]Observation{base, tt.next}, cfg)
			assert.Equal(t, tt.converged, ok)
			if ok {
				assert.Equal(t, ReasonStability, d.Reason)
				assert.Equal(t, StrategyMixed, d.Strategy)
			}
		})
	}

	_, ok := MixedStrategy{}.Evaluate([]Observation{base}, cfg)
	assert.False(t, ok, "needs two observations")
}

func TestMixedStrategyUsesDefaultTolerance(t *testing.T) {
	assert.Equal(t, 0.01, DefaultConfig().ConfidenceTolerance)
}

func TestOscillationStrategy(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		history    []Observation
		oscillates bool
	}{
		{"too short", verdicts("pass", "fail"), false},
		{"alternating", verdicts("pass", "fail", "pass"), true},
		{"alternating tail", verdicts("pass", "pass", "fail", "pass"), true},
		{"settled", verdicts("pass", "pass", "pass"), false},
		{"drifting", verdicts("a", "b", "c"), false},
		{"missing verdict", []Observation{{Verdict: "pass"}, {}, {Verdict: "pass"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := OscillationStrategy{}.Evaluate(tt.history, cfg)
			assert.Equal(t, tt.oscillates, ok)
			if ok {
				assert.Equal(t, ReasonOscillation, d.Reason)
			}
		})
	}
}

func TestCombinators(t *testing.T) {
	cfg := DefaultConfig()
	history := verdicts("pass", "fail", "pass")

	d, ok := Any{VerdictStrategy{}, OscillationStrategy{}}.Evaluate(history, cfg)
	require.True(t, ok)
	assert.Equal(t, ReasonOscillation, d.Reason)
	assert.Equal(t, StrategyOscillation, d.Strategy)

	_, ok = All{VerdictStrategy{}, OscillationStrategy{}}.Evaluate(history, cfg)
	assert.False(t, ok)

	settled := verdicts("pass", "pass")
	d, ok = All{VerdictStrategy{}, MixedStrategy{}}.Evaluate(settled, cfg)
	require.True(t, ok)
	assert.Equal(t, Decision{Reason: ReasonStability, Strategy: "all"}, d)

	q := Quorum{N: 2, Strategies: []Strategy{VerdictStrategy{}, ScoreStrategy{}, OscillationStrategy{}}}
	d, ok = q.Evaluate(settled, cfg)
	require.True(t, ok)
	assert.Equal(t, "quorum", d.Strategy)

	q.N = 3
	_, ok = q.Evaluate(settled, cfg)
	assert.False(t, ok)

	_, ok = All{}.Evaluate(settled, cfg)
	assert.False(t, ok)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StrategyStability, s.Name())

	cfg := DefaultConfig()
	cfg.Strategies = []string{StrategyMixed, StrategyOscillation}
	s, err = NewStrategy(cfg)
	require.NoError(t, err)
	assert.Equal(t, "any", s.Name())

	cfg.Combine = CombineQuorum
	cfg.Quorum = 3
	_, err = NewStrategy(cfg)
	assert.ErrorContains(t, err, "quorum must be between 1 and 2")

	cfg.Combine = "most"
	_, err = NewStrategy(cfg)
	assert.Error(t, err)

	cfg.Strategies = []string{"vibes"}
	_, err = NewStrategy(cfg)
	assert.ErrorContains(t, err, `unknown convergence strategy "vibes"`)
}

func TestEvaluate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategies = []string{StrategyStability, StrategyOscillation}
	s, err := NewStrategy(cfg)
	require.NoError(t, err)

	r := Evaluate(verdicts("pass", "fail", "pass"), s, cfg)
	assert.Equal(t, Result{Converged: true, Iterations: 3, Reason: ReasonOscillation, Strategy: StrategyOscillation}, r)

	r = Evaluate(verdicts("pass", "fail"), s, cfg)
	assert.Equal(t, Result{Iterations: 2}, r)

	only, err := NewStrategy(DefaultConfig())
	require.NoError(t, err)
	r = Evaluate(verdicts("pass", "fail", "pass"), only, DefaultConfig())
	assert.True(t, r.Exhausted())
}
