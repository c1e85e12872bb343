package trace

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/pipeline"
	"github.com/roach88/phaseledger/internal/schema"
)

var (
	// ErrInconsistentTraceOrder is returned when an entry's phase is not the
	// state machine's current phase.
	ErrInconsistentTraceOrder = errors.New("inconsistent trace order")

	// ErrSealed is returned when a sealed recorder is written to.
	ErrSealed = errors.New("trace already sealed")

	// ErrEmptyTrace is returned when sealing a recorder with no entries.
	ErrEmptyTrace = errors.New("trace has no entries")

	// ErrModelMetadataConflict is returned when an entry's
	// metadata.model_metadata disagrees with the header.
	ErrModelMetadataConflict = errors.New("model metadata conflicts with header")
)

// PhaseSource exposes the state machine's current phase.
// *pipeline.Machine satisfies it.
type PhaseSource interface {
	Current() pipeline.Phase
}

// HeaderInput is what a caller supplies to start a trace. Schema version,
// replay status and fingerprint are derived by the recorder.
type HeaderInput struct {
	RunID                string
	RuntimeVersion       string
	ModelMetadata        ModelMetadata
	ContractVersion      string
	AgentContractVersion string
	PipelineDefinition   map[string]any
	ConfigSnapshot       map[string]any
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock sets the wall clock used for observational timestamps.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// Recorder builds the trace of one run in lockstep with its state machine.
// It is owned by a single run and is not safe for concurrent use.
type Recorder struct {
	machine   PhaseSource
	header    Header
	modelTree any
	entries   []Entry
	failure   *failure.Artifact
	sealed    bool
	mark      time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewRecorder starts an empty trace for one run.
func NewRecorder(machine PhaseSource, in HeaderInput, opts ...RecorderOption) (*Recorder, error) {
	if machine == nil {
		return nil, errors.New("recorder: nil phase source")
	}
	if in.RunID == "" {
		return nil, errors.New("recorder: run id is required")
	}
	if in.RuntimeVersion == "" {
		return nil, errors.New("recorder: runtime version is required")
	}
	if err := in.ModelMetadata.Validate(); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	pipelineDef, err := snapshotObject(in.PipelineDefinition)
	if err != nil {
		return nil, fmt.Errorf("recorder: pipeline definition: %w", err)
	}
	cfg, err := snapshotObject(in.ConfigSnapshot)
	if err != nil {
		return nil, fmt.Errorf("recorder: config snapshot: %w", err)
	}
	modelTree, err := canonical.ToTree(in.ModelMetadata.Payload())
	if err != nil {
		return nil, fmt.Errorf("recorder: model metadata: %w", err)
	}

	r := &Recorder{
		machine: machine,
		header: Header{
			TraceSchemaVersion:   schema.CurrentVersion,
			RunID:                in.RunID,
			RuntimeVersion:       in.RuntimeVersion,
			ModelMetadata:        in.ModelMetadata,
			ReplayStatus:         ReplayStatusFor(in.ModelMetadata.Temperature),
			ContractVersion:      in.ContractVersion,
			AgentContractVersion: in.AgentContractVersion,
			PipelineDefinition:   pipelineDef,
			ConfigSnapshot:       cfg,
		},
		modelTree: modelTree,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.mark = r.now()
	return r, nil
}

// Header returns the header as recorded so far.
func (r *Recorder) Header() Header {
	return r.header
}

// Entries returns a copy of the entries recorded so far.
func (r *Recorder) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Begin marks the start of the phase about to run. Without it, an entry's
// started_at is the previous entry's finished_at.
func (r *Recorder) Begin() {
	r.mark = r.now()
}

// RecordEntry appends an entry for phase with the next sequence index.
// Snapshots are copied into canonical form; the caller's maps are not
// retained. Status must be completed or retried; incomplete entries are
// written only by RecordAbort.
func (r *Recorder) RecordEntry(phase pipeline.Phase, input, output map[string]any, status Status, metadata map[string]any) (Entry, error) {
	if r.sealed {
		return Entry{}, ErrSealed
	}
	if current := r.machine.Current(); phase != current {
		return Entry{}, fmt.Errorf("%w: entry for %s while machine is in %s", ErrInconsistentTraceOrder, phase, current)
	}
	if status != StatusCompleted && status != StatusRetried {
		return Entry{}, fmt.Errorf("record entry: status %q not allowed here", status)
	}
	if err := r.checkModelMetadata(metadata); err != nil {
		return Entry{}, err
	}
	return r.append(Entry{
		Phase:    phase,
		Status:   status,
		Input:    input,
		Output:   output,
		Metadata: metadata,
	})
}

// RecordFailure attaches the terminal failure. A trace holds at most one,
// and RecordAbort must follow with the same artifact before Seal.
func (r *Recorder) RecordFailure(a failure.Artifact) error {
	if r.sealed {
		return ErrSealed
	}
	if err := failure.ValidateArtifact(a); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if r.failure != nil {
		return &failure.ContractViolation{Field: "failure", Reason: "trace already has a terminal failure"}
	}
	r.failure = &a
	return nil
}

// RecordAbort writes the terminal entry of an aborted run. The machine must
// already be in ABORTED; the entry names the phase that was interrupted,
// carries the failure artifact, and has status incomplete.
func (r *Recorder) RecordAbort(interrupted pipeline.Phase, a failure.Artifact, metadata map[string]any) (Entry, error) {
	if r.sealed {
		return Entry{}, ErrSealed
	}
	if current := r.machine.Current(); current != pipeline.PhaseAborted {
		return Entry{}, fmt.Errorf("%w: abort entry while machine is in %s", ErrInconsistentTraceOrder, current)
	}
	if !interrupted.Valid() || interrupted.IsTerminal() {
		return Entry{}, fmt.Errorf("record abort: %q cannot be interrupted", interrupted)
	}
	if err := failure.ValidateArtifact(a); err != nil {
		return Entry{}, fmt.Errorf("record abort: %w", err)
	}
	if r.failure != nil && *r.failure != a {
		return Entry{}, &failure.ContractViolation{Field: "failure", Reason: "abort artifact differs from the recorded terminal failure"}
	}

	e, err := r.append(Entry{
		Phase:            pipeline.PhaseAborted,
		Status:           StatusIncomplete,
		Metadata:         metadata,
		InterruptedPhase: interrupted,
		Failure:          &a,
	})
	if err != nil {
		return Entry{}, err
	}
	r.failure = &a
	r.logger.Info("run aborted",
		"run_id", r.header.RunID,
		"phase", interrupted,
		"failure_class", a.Class().String(),
	)
	return e, nil
}

func (r *Recorder) append(e Entry) (Entry, error) {
	var err error
	if e.Input, err = snapshotObject(e.Input); err != nil {
		return Entry{}, fmt.Errorf("%s input: %w", e.Phase, err)
	}
	if e.Output, err = snapshotObject(e.Output); err != nil {
		return Entry{}, fmt.Errorf("%s output: %w", e.Phase, err)
	}
	if e.Metadata, err = snapshotObject(e.Metadata); err != nil {
		return Entry{}, fmt.Errorf("%s metadata: %w", e.Phase, err)
	}

	e.Seq = int64(len(r.entries) + 1)
	e.StartedAt = r.mark
	e.FinishedAt = r.now()

	snap, err := DeterministicSnapshot(e)
	if err != nil {
		return Entry{}, err
	}
	if e.Digest, err = canonical.Digest(canonical.DomainEntry, snap); err != nil {
		return Entry{}, err
	}

	r.entries = append(r.entries, e)
	r.mark = e.FinishedAt
	r.logger.Debug("trace entry recorded", "run_id", r.header.RunID, "seq", e.Seq, "phase", e.Phase, "status", e.Status)
	return e, nil
}

func (r *Recorder) checkModelMetadata(metadata map[string]any) error {
	raw, ok := metadata["model_metadata"]
	if !ok {
		return nil
	}
	tree, err := canonical.ToTree(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelMetadataConflict, err)
	}
	got := canonical.MustMarshal(tree)
	want := canonical.MustMarshal(r.modelTree)
	if string(got) != string(want) {
		return fmt.Errorf("%w: entry has %s, header has %s", ErrModelMetadataConflict, got, want)
	}
	return nil
}

// SealOption sets run-level results at seal time.
type SealOption func(*Header)

// WithTermination records why the run stopped.
func WithTermination(reason pipeline.TerminationReason) SealOption {
	return func(h *Header) {
		h.TerminationReason = reason
	}
}

// WithConvergence records the convergence hash and reason.
func WithConvergence(hash, reason string) SealOption {
	return func(h *Header) {
		h.ConvergenceHash = hash
		h.ConvergenceReason = reason
	}
}

// Seal freezes the trace and returns it. Sealing twice is a contract
// violation. A trace ends either with an ABORTED entry carrying the
// terminal failure or without any failure at all.
func (r *Recorder) Seal(fingerprint string, opts ...SealOption) (RunTrace, error) {
	if r.sealed {
		return RunTrace{}, &failure.ContractViolation{Field: "seal", Reason: "trace already sealed"}
	}
	if len(r.entries) == 0 {
		return RunTrace{}, ErrEmptyTrace
	}
	if fingerprint == "" {
		return RunTrace{}, errors.New("seal: fingerprint is required")
	}

	last := r.entries[len(r.entries)-1]
	aborted := last.Phase == pipeline.PhaseAborted
	if aborted != (r.failure != nil) {
		return RunTrace{}, &failure.ContractViolation{
			Field:  "failure",
			Reason: "terminal failure must be present exactly when the run aborted",
		}
	}

	header := r.header
	header.Fingerprint = fingerprint
	if aborted {
		header.TerminationReason = pipeline.TerminationFailure
	} else {
		header.TerminationReason = pipeline.TerminationCompleted
	}
	for _, opt := range opts {
		opt(&header)
	}
	if !header.TerminationReason.Valid() {
		return RunTrace{}, fmt.Errorf("seal: invalid termination reason %q", header.TerminationReason)
	}
	if aborted && (header.TerminationReason == pipeline.TerminationCompleted || header.TerminationReason == pipeline.TerminationConvergence) {
		return RunTrace{}, &failure.ContractViolation{Field: "termination_reason", Reason: "aborted run cannot terminate with " + string(header.TerminationReason)}
	}

	r.sealed = true
	r.header = header
	r.logger.Info("trace sealed",
		"run_id", header.RunID,
		"entries", len(r.entries),
		"termination", header.TerminationReason,
		"replay_status", header.ReplayStatus,
	)
	return RunTrace{
		Header:  header,
		Entries: r.Entries(),
		Failure: r.failure,
	}, nil
}

// Sealed reports whether Seal has succeeded.
func (r *Recorder) Sealed() bool {
	return r.sealed
}

// snapshotObject copies m into canonical generic form. A nil map becomes an
// empty object so that documents never carry null snapshots.
func snapshotObject(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	tree, err := canonical.ToTree(m)
	if err != nil {
		return nil, err
	}
	return tree.(map[string]any), nil
}
