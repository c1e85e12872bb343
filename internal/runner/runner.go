package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/config"
	"github.com/roach88/phaseledger/internal/convergence"
	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/pipeline"
	"github.com/roach88/phaseledger/internal/trace"
)

// Sink receives every sealed trace, completed or aborted.
type Sink interface {
	WriteTrace(ctx context.Context, t trace.RunTrace) error
}

// SinkError reports a sealed trace the sink rejected. Run returns the trace
// alongside it.
type SinkError struct {
	RunID string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("runner: write trace %s: %v", e.RunID, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Task is the unit of work for one run.
type Task struct {
	Goal      string         `json:"goal" yaml:"goal"`
	ContextID string         `json:"context_id" yaml:"context_id"`
	Payload   map[string]any `json:"payload,omitempty" yaml:"payload"`
}

// PromptFunc renders the prompt an agent is given for a phase. Its hash is
// recorded on every entry as metadata.prompt_hash.
type PromptFunc func(phase pipeline.Phase, in AgentInput) string

// Runner executes tasks through the fixed pipeline. One Runner may execute
// many tasks sequentially; every Run builds its own machine and recorder.
type Runner struct {
	agent    Agent
	cfg      config.Config
	strategy convergence.Strategy
	def      pipeline.Definition
	ids      trace.RunIDGenerator
	sink     Sink
	prompt   PromptFunc
	now      func() time.Time
	tracer   oteltrace.Tracer
	logger   *slog.Logger
	attempts int
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunIDGenerator sets the run ID source (default UUIDv7).
func WithRunIDGenerator(g trace.RunIDGenerator) Option {
	return func(r *Runner) {
		r.ids = g
	}
}

// WithSink writes each sealed trace to s.
func WithSink(s Sink) Option {
	return func(r *Runner) {
		r.sink = s
	}
}

// WithRetryPolicy allows up to maxAttempts attempts of a phase whose
// failure class is retryable. It overrides the configured retry.max_attempts.
func WithRetryPolicy(maxAttempts int) Option {
	return func(r *Runner) {
		r.attempts = maxAttempts
	}
}

// WithPrompt replaces the default prompt renderer.
func WithPrompt(f PromptFunc) Option {
	return func(r *Runner) {
		r.prompt = f
	}
}

// WithClock sets the wall clock used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithTracer sets the OpenTelemetry tracer for run and phase spans.
func WithTracer(t oteltrace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = t
	}
}

// WithLogger sets the logger for the runner and the components it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a Runner for cfg.
func New(agent Agent, cfg config.Config, opts ...Option) (*Runner, error) {
	if agent == nil {
		return nil, errors.New("runner: nil agent")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	strategy, err := convergence.NewStrategy(cfg.Convergence)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	r := &Runner{
		agent:    agent,
		cfg:      cfg,
		strategy: strategy,
		def:      pipeline.StandardDefinition(),
		ids:      trace.UUIDv7Generator{},
		prompt:   DefaultPrompt,
		now:      time.Now,
		tracer:   otel.Tracer("github.com/roach88/phaseledger/runner"),
		logger:   slog.Default(),
		attempts: cfg.Retry.MaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.attempts < 1 {
		return nil, fmt.Errorf("runner: retry policy needs at least 1 attempt, got %d", r.attempts)
	}
	return r, nil
}

// Fingerprint returns the fingerprint every run of this Runner carries.
func (r *Runner) Fingerprint() (string, error) {
	return canonical.Fingerprint(r.def.Payload(), r.cfg.Snapshot(), r.cfg.ContractVersion, r.cfg.AgentContractVersion)
}

// DefaultPrompt renders the phase and the task goal.
func DefaultPrompt(phase pipeline.Phase, in AgentInput) string {
	return fmt.Sprintf("phase: %s\ngoal: %s\ncontext: %s", phase, in.TaskGoal, in.ContextID)
}

// Run executes one task and returns its sealed trace. A run that aborts
// still returns its trace with a nil error; the failure is in the trace.
// An error is returned only when the trace could not be built, sealed or
// written; a write failure is a *SinkError and comes with the sealed trace.
func (r *Runner) Run(ctx context.Context, task Task) (trace.RunTrace, error) {
	fp, err := r.Fingerprint()
	if err != nil {
		return trace.RunTrace{}, fmt.Errorf("runner: fingerprint: %w", err)
	}

	runID := r.ids.Generate()
	ctx, span := r.tracer.Start(ctx, "phaseledger.run",
		oteltrace.WithAttributes(
			attribute.String("phaseledger.run_id", runID),
			attribute.String("phaseledger.fingerprint", fp),
		),
	)
	defer span.End()

	logger := r.logger.With("run_id", runID)
	machine := pipeline.NewMachine(r.cfg.Convergence.MaxIterations-1, pipeline.WithLogger(logger))
	if err := machine.Start(); err != nil {
		return trace.RunTrace{}, err
	}
	rec, err := trace.NewRecorder(machine, trace.HeaderInput{
		RunID:                runID,
		RuntimeVersion:       r.cfg.RuntimeVersion,
		ModelMetadata:        r.cfg.Model,
		ContractVersion:      r.cfg.ContractVersion,
		AgentContractVersion: r.cfg.AgentContractVersion,
		PipelineDefinition:   r.def.Payload(),
		ConfigSnapshot:       r.cfg.Snapshot(),
	}, trace.WithClock(r.now), trace.WithRecorderLogger(logger))
	if err != nil {
		return trace.RunTrace{}, err
	}

	ex := &execution{Runner: r, task: task, machine: machine, rec: rec, logger: logger}
	run, err := ex.drive(ctx, fp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return trace.RunTrace{}, err
	}

	span.SetAttributes(
		attribute.String("phaseledger.termination_reason", string(run.TerminationReason)),
		attribute.Int("phaseledger.entries", len(run.Entries)),
	)
	if run.Failure != nil {
		span.SetStatus(codes.Error, run.Failure.String())
	}

	if r.sink != nil {
		if err := r.sink.WriteTrace(context.WithoutCancel(ctx), run); err != nil {
			return run, &SinkError{RunID: runID, Err: err}
		}
	}
	return run, nil
}

// execution is the state of a single Run.
type execution struct {
	*Runner
	task    Task
	machine *pipeline.Machine
	rec     *trace.Recorder
	logger  *slog.Logger

	history  []convergence.Observation
	verdicts []string
	scores   []float64
	result   convergence.Result
}

func (ex *execution) drive(ctx context.Context, fp string) (trace.RunTrace, error) {
	if _, err := ex.rec.RecordEntry(pipeline.PhaseInit,
		map[string]any{"task": ex.taskSnapshot()},
		map[string]any{"fingerprint": fp},
		trace.StatusCompleted,
		ex.baseMetadata(),
	); err != nil {
		return trace.RunTrace{}, err
	}

	prev := map[string]any{"task": ex.taskSnapshot()}
	for _, phase := range []pipeline.Phase{pipeline.PhasePlan, pipeline.PhaseExecute} {
		out, err := ex.step(ctx, phase, prev)
		if err != nil {
			return ex.abort(ctx, phase, err, fp)
		}
		prev = out.Snapshot()
	}

	for {
		var judged AgentOutput
		for _, phase := range []pipeline.Phase{pipeline.PhaseJudge, pipeline.PhaseVerify} {
			out, err := ex.step(ctx, phase, prev)
			if err != nil {
				return ex.abort(ctx, phase, err, fp)
			}
			prev = out.Snapshot()
			switch phase {
			case pipeline.PhaseJudge:
				judged = out
			case pipeline.PhaseVerify:
				ex.observe(judged, out)
			}
		}

		action := convergence.Decide(ex.result, ex.cfg.Convergence.Policy)
		ex.logger.Info("convergence evaluated",
			"iterations", ex.result.Iterations,
			"converged", ex.result.Converged,
			"reason", ex.result.Reason,
			"strategy", ex.result.Strategy,
			"action", action.String(),
		)
		if action == convergence.Finalize {
			break
		}
		if action == convergence.Fail {
			err := &failure.Error{
				Class: failure.MaxIterations,
				Mode:  failure.ModeLimit,
				Err:   fmt.Errorf("no convergence after %d iterations", ex.result.Iterations),
			}
			return ex.abort(ctx, pipeline.PhaseVerify, err, fp)
		}

		if err := ex.machine.LoopBackToExecute(); err != nil {
			return ex.abort(ctx, pipeline.PhaseVerify, err, fp)
		}
		out, err := ex.run(ctx, pipeline.PhaseExecute, prev)
		if err != nil {
			return ex.abort(ctx, pipeline.PhaseExecute, err, fp)
		}
		prev = out.Snapshot()
	}

	if _, err := ex.step(ctx, pipeline.PhaseFinalize, prev); err != nil {
		return ex.abort(ctx, pipeline.PhaseFinalize, err, fp)
	}
	if err := ex.machine.Transition(pipeline.PhaseDone); err != nil {
		return trace.RunTrace{}, err
	}

	hash, err := ex.convergenceHash()
	if err != nil {
		return trace.RunTrace{}, err
	}
	reason := pipeline.TerminationCompleted
	if ex.result.Converged {
		reason = pipeline.TerminationConvergence
	}
	return ex.rec.Seal(fp, trace.WithTermination(reason), trace.WithConvergence(hash, ex.result.Reason))
}

// step moves the machine to phase and runs it.
func (ex *execution) step(ctx context.Context, phase pipeline.Phase, prev map[string]any) (AgentOutput, error) {
	if err := ex.machine.Transition(phase); err != nil {
		return AgentOutput{}, err
	}
	return ex.run(ctx, phase, prev)
}

// run invokes the agent for the current phase, retrying retryable failures
// while the retry policy allows. Every failed attempt that is retried is
// recorded with status retried.
func (ex *execution) run(ctx context.Context, phase pipeline.Phase, prev map[string]any) (AgentOutput, error) {
	ctx, span := ex.tracer.Start(ctx, "phaseledger.phase",
		oteltrace.WithAttributes(
			attribute.String("phaseledger.phase", string(phase)),
			attribute.Int("phaseledger.iteration", ex.machine.Iterations()+1),
		),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		in := AgentInput{
			TaskGoal:  ex.task.Goal,
			ContextID: ex.task.ContextID,
			Payload:   prev,
			Metadata: map[string]any{
				"iteration": ex.machine.Iterations() + 1,
				"attempt":   attempt,
			},
		}
		md := ex.baseMetadata()
		md["attempt"] = attempt
		md["prompt_hash"] = canonical.PromptHash(ex.prompt(phase, in))

		ex.rec.Begin()
		start := ex.now()
		out, err := ex.invoke(ctx, phase, in)
		md["duration_ms"] = ex.now().Sub(start).Milliseconds()

		if err == nil {
			if _, err := ex.rec.RecordEntry(phase, in.Snapshot(), out.Snapshot(), trace.StatusCompleted, md); err != nil {
				if canonical.IsUnrepresentable(err) {
					return AgentOutput{}, &failure.Error{Class: failure.ValidationError, Mode: failure.ModeContract, Err: err}
				}
				return AgentOutput{}, err
			}
			return out, nil
		}

		class := failure.Classify(err)
		if !failure.RetryEligible(class) || attempt >= ex.attempts || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, class.String())
			return AgentOutput{}, err
		}

		ex.logger.Warn("phase attempt failed, retrying",
			"phase", phase,
			"attempt", attempt,
			"failure_class", class.String(),
			"error", err,
		)
		output := map[string]any{"error": err.Error(), "failure_class": class.String()}
		if _, rerr := ex.rec.RecordEntry(phase, in.Snapshot(), output, trace.StatusRetried, md); rerr != nil {
			return AgentOutput{}, rerr
		}
	}
}

func (ex *execution) invoke(ctx context.Context, phase pipeline.Phase, in AgentInput) (AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return AgentOutput{}, err
	}
	out, err := ex.agent.Run(ctx, phase, in)
	if err != nil {
		return AgentOutput{}, err
	}
	if err := out.Validate(ex.cfg.AgentContractVersion); err != nil {
		return AgentOutput{}, err
	}
	return out, nil
}

// observe feeds one JUDGE/VERIFY pass into the convergence history and
// re-evaluates the configured strategy. The hashed history is the verdicts
// while every VERIFY output carries one, and the confidences otherwise.
func (ex *execution) observe(judged, verified AgentOutput) {
	ex.history = append(ex.history, convergence.Observation{
		Score:      judged.Confidence,
		Verdict:    verified.Verdict,
		Confidence: verified.Confidence,
	})
	ex.scores = append(ex.scores, verified.Confidence)
	if verified.Verdict != "" && len(ex.verdicts) == len(ex.scores)-1 {
		ex.verdicts = append(ex.verdicts, verified.Verdict)
	}
	ex.result = convergence.Evaluate(ex.history, ex.strategy, ex.cfg.Convergence)
}

func (ex *execution) convergenceHash() (string, error) {
	if len(ex.scores) == 0 {
		return "", nil
	}
	if len(ex.verdicts) == len(ex.scores) {
		return convergence.Hash(ex.verdicts, ex.cfg.Convergence.StabilityWindow)
	}
	return convergence.Hash(ex.scores, ex.cfg.Convergence.StabilityWindow)
}

// abort converts err into the terminal failure, drives the machine to
// ABORTED unless the iteration bound already did, and seals the trace.
func (ex *execution) abort(ctx context.Context, phase pipeline.Phase, cause error, fp string) (trace.RunTrace, error) {
	a, err := failure.FromError(cause, phase)
	if err != nil {
		return trace.RunTrace{}, err
	}
	reason := terminationFor(a.Class())
	if ex.machine.Current() == pipeline.PhaseAborted {
		reason = ex.machine.TerminationReason()
	} else if err := ex.machine.Abort(reason); err != nil {
		return trace.RunTrace{}, err
	}

	ex.logger.Error("phase failed",
		"phase", phase,
		"failure_class", a.Class().String(),
		"recoverable", a.Recoverable(),
		"error", cause,
	)
	oteltrace.SpanFromContext(ctx).AddEvent("aborted", oteltrace.WithAttributes(
		attribute.String("phaseledger.failure_class", a.Class().String()),
		attribute.String("phaseledger.phase", string(phase)),
	))

	if _, err := ex.rec.RecordAbort(phase, a, ex.baseMetadata()); err != nil {
		return trace.RunTrace{}, err
	}

	opts := []trace.SealOption{trace.WithTermination(reason)}
	if len(ex.scores) > 0 {
		hash, err := ex.convergenceHash()
		if err != nil {
			return trace.RunTrace{}, err
		}
		opts = append(opts, trace.WithConvergence(hash, ex.result.Reason))
	}
	return ex.rec.Seal(fp, opts...)
}

// terminationFor maps a failure class to the run's termination reason.
func terminationFor(c failure.Class) pipeline.TerminationReason {
	switch c {
	case failure.UserInterruption:
		return pipeline.TerminationUserAbort
	case failure.ResourceExhaustion, failure.BudgetExceeded, failure.MaxIterations:
		return pipeline.TerminationResourceExhaustion
	}
	return pipeline.TerminationFailure
}

func (ex *execution) taskSnapshot() map[string]any {
	return map[string]any{
		"goal":       ex.task.Goal,
		"context_id": ex.task.ContextID,
		"payload":    orEmpty(ex.task.Payload),
	}
}

func (ex *execution) baseMetadata() map[string]any {
	return map[string]any{
		"model_metadata":   ex.cfg.Model.Payload(),
		"contract_version": ex.cfg.ContractVersion,
	}
}
