package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/phaseledger/internal/config"
	"github.com/roach88/phaseledger/internal/runner"
	"github.com/roach88/phaseledger/internal/testutil"
	"github.com/roach88/phaseledger/internal/trace"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTrace runs a dry run with a fixed run ID and clock. When
// cancelled is true the run is interrupted before PLAN and aborts.
func createTestTrace(t *testing.T, runID string, cancelled bool) trace.RunTrace {
	t.Helper()
	cfg := config.Default()
	clock := testutil.NewDeterministicClock(testutil.Epoch, time.Millisecond)
	r, err := runner.New(runner.DryRunAgent{ContractVersion: cfg.AgentContractVersion}, cfg,
		runner.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(runID)),
		runner.WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("runner.New() failed: %v", err)
	}

	ctx := context.Background()
	if cancelled {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		cancel()
	}
	run, err := r.Run(ctx, runner.Task{Goal: "summarize", ContextID: "doc-1"})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return run
}
