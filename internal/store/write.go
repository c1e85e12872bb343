package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/phaseledger/internal/trace"
)

// ErrRunConflict is returned when a run ID is already stored with different
// content.
var ErrRunConflict = errors.New("run already stored with different content")

// WriteTrace stores a sealed trace atomically: the run row and every entry
// row commit together or not at all.
//
// Writing the same trace again is a no-op. Writing a different trace under
// an existing run ID returns ErrRunConflict and leaves the stored run
// untouched.
//
// Header, entries and failure are serialized to canonical JSON per RFC 8785.
func (s *Store) WriteTrace(ctx context.Context, run trace.RunTrace) error {
	if run.RunID == "" {
		return errors.New("write trace: run id is required")
	}
	if len(run.Entries) == 0 {
		return fmt.Errorf("write trace %s: %w", run.RunID, trace.ErrEmptyTrace)
	}

	headerJSON, err := marshalHeader(run.Header)
	if err != nil {
		return fmt.Errorf("write trace %s: %w", run.RunID, err)
	}
	failureJSON, err := marshalFailure(run.Failure)
	if err != nil {
		return fmt.Errorf("write trace %s: %w", run.RunID, err)
	}
	digest, err := documentDigest(run)
	if err != nil {
		return fmt.Errorf("write trace %s: %w", run.RunID, err)
	}
	entries := make([]string, len(run.Entries))
	for i, e := range run.Entries {
		if entries[i], err = marshalEntry(e); err != nil {
			return fmt.Errorf("write trace %s: %w", run.RunID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write trace %s: begin: %w", run.RunID, err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT document_digest FROM runs WHERE run_id = ?`, run.RunID).Scan(&existing)
	switch {
	case err == nil && existing == digest:
		s.logger.Debug("trace already stored", "run_id", run.RunID)
		return nil
	case err == nil:
		return fmt.Errorf("write trace %s: %w", run.RunID, ErrRunConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("write trace %s: lookup: %w", run.RunID, err)
	}

	var failureClass, failurePhase any
	if run.Failure != nil {
		failureClass = run.Failure.Class().String()
		failurePhase = string(run.Failure.Phase())
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, fingerprint, trace_schema_version, runtime_version, replay_status,
		 termination_reason, failure_class, failure_phase, entry_count, header, failure, document_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID,
		run.Fingerprint,
		run.TraceSchemaVersion,
		run.RuntimeVersion,
		string(run.ReplayStatus),
		string(run.TerminationReason),
		failureClass,
		failurePhase,
		len(run.Entries),
		headerJSON,
		failureJSON,
		digest,
	)
	if err != nil {
		return fmt.Errorf("write trace %s: insert run: %w", run.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_entries (run_id, seq, phase, status, digest, entry)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write trace %s: prepare entries: %w", run.RunID, err)
	}
	defer stmt.Close()

	for i, e := range run.Entries {
		if _, err := stmt.ExecContext(ctx, run.RunID, e.Seq, string(e.Phase), string(e.Status), e.Digest, entries[i]); err != nil {
			return fmt.Errorf("write trace %s: insert entry %d: %w", run.RunID, e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write trace %s: commit: %w", run.RunID, err)
	}
	s.logger.Info("trace stored", "run_id", run.RunID, "entries", len(run.Entries), "termination", run.TerminationReason)
	return nil
}
