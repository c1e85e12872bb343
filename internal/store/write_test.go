package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/phaseledger/internal/runner"
	"github.com/roach88/phaseledger/internal/trace"
)

var _ runner.Sink = (*Store)(nil)

func TestWriteTrace_Basic(t *testing.T) {
	s := createTestStore(t)
	run := createTestTrace(t, "run-1", false)

	if err := s.WriteTrace(context.Background(), run); err != nil {
		t.Fatalf("WriteTrace() failed: %v", err)
	}

	var entryCount int
	var failureClass *string
	err := s.db.QueryRow(`SELECT entry_count, failure_class FROM runs WHERE run_id = ?`, "run-1").Scan(&entryCount, &failureClass)
	if err != nil {
		t.Fatalf("query run failed: %v", err)
	}
	if entryCount != len(run.Entries) {
		t.Errorf("entry_count = %d, want %d", entryCount, len(run.Entries))
	}
	if failureClass != nil {
		t.Errorf("failure_class = %q, want NULL", *failureClass)
	}

	var rows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trace_entries WHERE run_id = ?`, "run-1").Scan(&rows); err != nil {
		t.Fatalf("count entries failed: %v", err)
	}
	if rows != len(run.Entries) {
		t.Errorf("stored %d entries, want %d", rows, len(run.Entries))
	}
}

func TestWriteTrace_AbortedRun(t *testing.T) {
	s := createTestStore(t)
	run := createTestTrace(t, "run-aborted", true)

	if err := s.WriteTrace(context.Background(), run); err != nil {
		t.Fatalf("WriteTrace() failed: %v", err)
	}

	var class, phase string
	err := s.db.QueryRow(`SELECT failure_class, failure_phase FROM runs WHERE run_id = ?`, "run-aborted").Scan(&class, &phase)
	if err != nil {
		t.Fatalf("query run failed: %v", err)
	}
	if class != "user_interruption" || phase != "PLAN" {
		t.Errorf("failure = %s at %s, want user_interruption at PLAN", class, phase)
	}
}

func TestWriteTrace_Idempotent(t *testing.T) {
	s := createTestStore(t)
	run := createTestTrace(t, "run-1", false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.WriteTrace(ctx, run); err != nil {
			t.Fatalf("WriteTrace() call %d failed: %v", i, err)
		}
	}

	var rows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trace_entries`).Scan(&rows); err != nil {
		t.Fatalf("count entries failed: %v", err)
	}
	if rows != len(run.Entries) {
		t.Errorf("stored %d entries after repeated writes, want %d", rows, len(run.Entries))
	}
}

func TestWriteTrace_RoundTripIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.WriteTrace(ctx, createTestTrace(t, "run-1", false)); err != nil {
		t.Fatalf("WriteTrace() failed: %v", err)
	}

	stored, err := s.ReadTrace(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if err := s.WriteTrace(ctx, stored); err != nil {
		t.Errorf("rewriting the stored trace should be a no-op, got %v", err)
	}
}

func TestWriteTrace_Conflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.WriteTrace(ctx, createTestTrace(t, "run-1", false)); err != nil {
		t.Fatalf("WriteTrace() failed: %v", err)
	}

	other := createTestTrace(t, "run-1", true)
	err := s.WriteTrace(ctx, other)
	if !errors.Is(err, ErrRunConflict) {
		t.Fatalf("WriteTrace() error = %v, want ErrRunConflict", err)
	}

	stored, err := s.ReadTrace(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if stored.Failure != nil {
		t.Error("conflicting write replaced the stored run")
	}
}

func TestWriteTrace_RejectsEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteTrace(ctx, trace.RunTrace{}); err == nil {
		t.Error("expected error for trace without run id")
	}

	run := createTestTrace(t, "run-1", false)
	run.Entries = nil
	if err := s.WriteTrace(ctx, run); !errors.Is(err, trace.ErrEmptyTrace) {
		t.Errorf("WriteTrace() error = %v, want ErrEmptyTrace", err)
	}
}

func TestWriteTrace_AsRunnerSink(t *testing.T) {
	s := createTestStore(t)
	run := createTestTrace(t, "run-sink", false)

	var sink runner.Sink = s
	if err := sink.WriteTrace(context.Background(), run); err != nil {
		t.Fatalf("WriteTrace() failed: %v", err)
	}
	if _, err := s.ReadTrace(context.Background(), "run-sink"); err != nil {
		t.Errorf("ReadTrace() failed: %v", err)
	}
}
