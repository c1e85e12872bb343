// Package runner is the reference orchestrator for the auditable pipeline.
//
// A Runner owns nothing between runs. Each Run creates its own state
// machine and trace recorder, walks INIT→PLAN→EXECUTE→JUDGE→VERIFY, loops
// back to EXECUTE while convergence says another pass could change the
// result, and finishes with FINALIZE→DONE. Any phase error is converted into
// a failure artifact, the machine is aborted, and the trace is sealed with
// an ABORTED entry; retryable failures are first retried as the retry
// policy allows, each failed attempt recorded as a retried entry.
//
// Usage:
//
//	r, err := runner.New(agent, cfg, runner.WithSink(st))
//	run, err := r.Run(ctx, runner.Task{Goal: "summarize the report"})
//
// RunAll executes independent tasks in parallel, one Runner per task.
package runner
