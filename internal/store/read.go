package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/phaseledger/internal/trace"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// RunSummary is one row of ListRuns.
type RunSummary struct {
	RunID              string `json:"run_id"`
	Fingerprint        string `json:"fingerprint"`
	TraceSchemaVersion int    `json:"trace_schema_version"`
	RuntimeVersion     string `json:"runtime_version"`
	ReplayStatus       string `json:"replay_status"`
	TerminationReason  string `json:"termination_reason"`
	FailureClass       string `json:"failure_class,omitempty"`
	FailurePhase       string `json:"failure_phase,omitempty"`
	EntryCount         int    `json:"entry_count"`
}

// ListOptions filters ListRuns.
type ListOptions struct {
	Fingerprint string
	Limit       int
}

// ReadDocument rebuilds the stored trace document of a run as a generic
// object: header fields at the top level, entries ordered by seq, and the
// terminal failure when there is one. This is the form the replay
// validator consumes.
func (s *Store) ReadDocument(ctx context.Context, runID string) (map[string]any, error) {
	var headerJSON string
	var failureJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT header, failure FROM runs WHERE run_id = ?
	`, runID).Scan(&headerJSON, &failureJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read trace %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", runID, err)
	}

	doc, err := unmarshalObject(headerJSON)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: header: %w", runID, err)
	}
	if failureJSON.Valid {
		f, err := unmarshalObject(failureJSON.String)
		if err != nil {
			return nil, fmt.Errorf("read trace %s: failure: %w", runID, err)
		}
		doc["failure"] = f
	}

	entries, err := s.readEntries(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", runID, err)
	}
	doc["entries"] = entries
	return doc, nil
}

// ReadTrace returns the stored trace of a run.
func (s *Store) ReadTrace(ctx context.Context, runID string) (trace.RunTrace, error) {
	doc, err := s.ReadDocument(ctx, runID)
	if err != nil {
		return trace.RunTrace{}, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return trace.RunTrace{}, fmt.Errorf("read trace %s: %w", runID, err)
	}
	return trace.Decode(data)
}

// readEntries returns the entries of a run ordered by seq.
func (s *Store) readEntries(ctx context.Context, runID string) ([]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry FROM trace_entries
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []any{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e, err := unmarshalObject(raw)
		if err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// ListRuns returns stored runs ordered by run ID. UUIDv7 run IDs sort by
// creation time, so the default listing is chronological.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if opts.Fingerprint != "" {
		where = append(where, "fingerprint = ?")
		args = append(args, opts.Fingerprint)
	}

	query := `
		SELECT run_id, fingerprint, trace_schema_version, runtime_version, replay_status,
		       termination_reason, failure_class, failure_phase, entry_count
		FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY run_id COLLATE BINARY ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var failClass, failPhase sql.NullString
		if err := rows.Scan(&r.RunID, &r.Fingerprint, &r.TraceSchemaVersion, &r.RuntimeVersion, &r.ReplayStatus,
			&r.TerminationReason, &failClass, &failPhase, &r.EntryCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FailureClass = failClass.String
		r.FailurePhase = failPhase.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
