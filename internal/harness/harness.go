package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/phaseledger/internal/config"
	"github.com/roach88/phaseledger/internal/replay"
	"github.com/roach88/phaseledger/internal/runner"
	"github.com/roach88/phaseledger/internal/store"
	"github.com/roach88/phaseledger/internal/testutil"
)

// Harness executes scenarios against the real runner.
// It runs with a deterministic clock and a fixed run ID.
type Harness struct {
	store  *store.Store
	clock  *testutil.DeterministicClock
	runIDs *testutil.FixedRunIDGenerator
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Resolve the configuration (inline, file, or defaults)
// 2. Build a scripted agent from the scenario's steps
// 3. Run the pipeline with the store as sink
// 4. Read the trace back and validate it, fingerprint included
// 5. Evaluate assertions against the stored trace
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:", store.WithLogger(discardLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(testutil.Epoch, time.Millisecond),
		runIDs: testutil.NewFixedRunIDGenerator(scenario.RunID),
		logger: discardLogger(),
	}
	return h.run(ctx, scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	steps, err := scenario.agentSteps()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	opts := []runner.Option{
		runner.WithRunIDGenerator(h.runIDs),
		runner.WithClock(h.clock.Now),
		runner.WithSink(h.store),
		runner.WithLogger(h.logger),
	}
	if scenario.Retry > 0 {
		opts = append(opts, runner.WithRetryPolicy(scenario.Retry))
	}
	r, err := runner.New(runner.NewScriptedAgent(cfg.AgentContractVersion, steps), cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	sealed, err := r.Run(ctx, scenario.Task)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := NewResult()
	if result.Run, err = h.store.ReadTrace(ctx, sealed.RunID); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if result.Report, err = h.store.Verify(ctx, sealed.RunID, replay.WithFingerprintCheck()); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"run_id", result.Run.RunID,
		"entries", len(result.Run.Entries),
		"pass", result.Pass,
	)
	return result, nil
}

// scenarioConfig resolves the run configuration of a scenario. An inline
// config goes through the same schema validation as a YAML file.
func scenarioConfig(s *Scenario) (config.Config, error) {
	switch {
	case s.ConfigFile != "":
		return config.Load(s.ConfigFile)
	case s.Config != nil:
		data, err := yaml.Marshal(s.Config)
		if err != nil {
			return config.Config{}, fmt.Errorf("encode inline config: %w", err)
		}
		return config.ParseYAML(cuecontext.New(), data, s.Name+".config")
	default:
		return config.Default(), nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
