// Package trace defines the run trace document and the recorder that builds
// it in lockstep with a pipeline state machine.
//
// A RunTrace is a header (identity, provenance, derived replay status and
// fingerprint), a non-empty ordered list of entries, and at most one terminal
// failure artifact. Every field is registered as deterministic or
// observational; observational fields (timestamps, host data, run id) are
// excluded from entry digests and from any determinism comparison.
//
// Lifecycle:
//
//	rec, _ := trace.NewRecorder(machine, header)
//	rec.RecordEntry(pipeline.PhaseInit, in, out, trace.StatusCompleted, md)
//	...
//	run, _ := rec.Seal(fingerprint)
//
// After Seal the recorder rejects all writes.
package trace
