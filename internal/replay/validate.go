// Package replay validates persisted run traces without re-executing them.
//
// Validation is a pure function of the document: it parses, upgrades to the
// current schema, and re-checks header completeness, entry ordering against
// the fixed phase graph and its loop-back bound, every embedded failure
// artifact, the derived replay status, entry digests and, optionally, the
// pipeline definition and run fingerprint. The input is never modified and
// violations are reported in a fixed order.
package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/pipeline"
	"github.com/roach88/phaseledger/internal/schema"
	"github.com/roach88/phaseledger/internal/trace"
)

// Violation codes.
const (
	CodeParse        = "parse"
	CodeSchema       = "schema_version"
	CodeHeader       = "header"
	CodeEntries      = "entries"
	CodeSequence     = "sequence"
	CodeOrder        = "phase_order"
	CodeStatus       = "status"
	CodeFailure      = "failure"
	CodeReplayStatus = "replay_status"
	CodeDigest       = "digest"
	CodeFingerprint  = "fingerprint"
)

// Violation is one failed check.
type Violation struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return fmt.Sprintf("[%s] %s", v.Code, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Code, v.Path, v.Message)
}

// Report is the outcome of validating one document. Violations holds the
// rendered form of each entry of Details, in the same order.
type Report struct {
	Valid      bool        `json:"valid"`
	Violations []string    `json:"violations"`
	Details    []Violation `json:"details"`
}

// Has reports whether any violation carries code.
func (r Report) Has(code string) bool {
	return slices.ContainsFunc(r.Details, func(v Violation) bool { return v.Code == code })
}

// Option configures validation.
type Option func(*options)

type options struct {
	fingerprint bool
	upgrader    *schema.Upgrader
}

// WithFingerprintCheck recomputes the fingerprint from the recorded
// pipeline_definition, config_snapshot and contract versions.
func WithFingerprintCheck() Option {
	return func(o *options) {
		o.fingerprint = true
	}
}

// WithUpgrader replaces the schema upgrader.
func WithUpgrader(u *schema.Upgrader) Option {
	return func(o *options) {
		o.upgrader = u
	}
}

// Validate parses raw JSON and validates it.
func Validate(raw []byte, opts ...Option) Report {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return report([]Violation{{Code: CodeParse, Message: err.Error()}})
	}
	if doc == nil {
		return report([]Violation{{Code: CodeParse, Message: "document is null"}})
	}
	return ValidateDocument(doc, opts...)
}

// ValidateTrace validates an in-memory trace through its document form.
func ValidateTrace(t trace.RunTrace, opts ...Option) Report {
	doc, err := t.Payload()
	if err != nil {
		return report([]Violation{{Code: CodeParse, Message: err.Error()}})
	}
	return ValidateDocument(doc, opts...)
}

// ValidateDocument validates a decoded document. doc is not modified.
func ValidateDocument(doc map[string]any, opts ...Option) Report {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.upgrader == nil {
		o.upgrader = schema.NewUpgrader()
	}

	upgraded, err := o.upgrader.Upgrade(doc)
	if err != nil {
		return report([]Violation{{Code: CodeSchema, Path: schema.VersionField, Message: err.Error()}})
	}

	// Documents written at version 2 or later carry entry digests; upgraded
	// version 1 documents may not.
	original, _ := schema.Version(doc)
	v := &validator{doc: upgraded, digestsRequired: original >= 2}
	v.header()
	v.entries()
	v.terminalFailure()
	v.replayStatus()
	v.convergence()
	if o.fingerprint {
		v.definition()
		v.fingerprint()
	}
	return report(v.violations)
}

func report(details []Violation) Report {
	if details == nil {
		details = []Violation{}
	}
	rendered := make([]string, len(details))
	for i, d := range details {
		rendered[i] = d.String()
	}
	return Report{Valid: len(details) == 0, Violations: rendered, Details: details}
}

type validator struct {
	doc             map[string]any
	violations      []Violation
	entryList       []map[string]any
	digestsRequired bool
}

func (v *validator) add(code, path, format string, args ...any) {
	v.violations = append(v.violations, Violation{Code: code, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) header() {
	for _, key := range []string{"runtime_version", "fingerprint"} {
		if s, ok := v.doc[key].(string); !ok || s == "" {
			v.add(CodeHeader, key, "required non-empty string")
		}
	}
	for _, key := range []string{"run_id", "contract_version", "agent_contract_version", "convergence_hash", "convergence_reason"} {
		if raw, present := v.doc[key]; present {
			if _, ok := raw.(string); !ok {
				v.add(CodeHeader, key, "expected string, got %T", raw)
			}
		}
	}

	switch rs := v.doc["replay_status"].(type) {
	case string:
		if rs != string(trace.Replayable) && rs != string(trace.NonReplayable) {
			v.add(CodeHeader, "replay_status", "unknown value %q", rs)
		}
	default:
		v.add(CodeHeader, "replay_status", "required string")
	}

	if raw, present := v.doc["termination_reason"]; present {
		if s, ok := raw.(string); !ok || !pipeline.TerminationReason(s).Valid() {
			v.add(CodeHeader, "termination_reason", "unknown value %v", raw)
		}
	}

	md, ok := v.doc["model_metadata"].(map[string]any)
	if !ok {
		v.add(CodeHeader, "model_metadata", "required object")
		return
	}
	for _, key := range []string{"provider", "model_name"} {
		if s, ok := md[key].(string); !ok || s == "" {
			v.add(CodeHeader, "model_metadata."+key, "required non-empty string")
		}
	}
	if temp, ok := schema.Float(md["temperature"]); !ok || temp < 0 {
		v.add(CodeHeader, "model_metadata.temperature", "required finite non-negative number")
	}
	if n, ok := schema.Int(md["max_tokens"]); !ok || n < 0 {
		v.add(CodeHeader, "model_metadata.max_tokens", "required non-negative integer")
	}
}

func (v *validator) entries() {
	raw, ok := v.doc["entries"].([]any)
	if !ok {
		v.add(CodeEntries, "entries", "required array")
		return
	}
	if len(raw) == 0 {
		v.add(CodeEntries, "entries", "a trace must have at least one entry")
		return
	}
	for i, e := range raw {
		rec, ok := e.(map[string]any)
		if !ok {
			v.add(CodeEntries, entryPath(i), "expected object, got %T", e)
			v.entryList = nil
			return
		}
		v.entryList = append(v.entryList, rec)
	}

	v.sequence()
	v.order()
	v.embeddedFailures()
	v.digests()
}

func (v *validator) sequence() {
	var prev int64
	for i, rec := range v.entryList {
		seq, ok := schema.Int(rec["seq"])
		if !ok {
			v.add(CodeSequence, entryPath(i)+".seq", "required integer")
			return
		}
		if i == 0 && seq != 1 {
			v.add(CodeSequence, entryPath(i)+".seq", "sequence must start at 1, got %d", seq)
		}
		if i > 0 && seq <= prev {
			v.add(CodeSequence, entryPath(i)+".seq", "sequence must strictly increase, got %d after %d", seq, prev)
		}
		prev = seq
	}
}

func (v *validator) order() {
	phases := make([]pipeline.Phase, len(v.entryList))
	statuses := make([]trace.Status, len(v.entryList))
	for i, rec := range v.entryList {
		name, _ := rec["phase"].(string)
		p, err := pipeline.ParsePhase(name)
		if err != nil {
			v.add(CodeOrder, entryPath(i)+".phase", "%v", err)
			return
		}
		phases[i] = p
		status, _ := rec["status"].(string)
		statuses[i] = trace.Status(status)
		if !statuses[i].Valid() {
			v.add(CodeStatus, entryPath(i)+".status", "unknown status %q", status)
		}
	}

	if phases[0] != pipeline.PhaseInit {
		v.add(CodeOrder, entryPath(0)+".phase", "first entry must be INIT, got %s", phases[0])
	}

	last := len(phases) - 1
	loopBacks := 0
	for i := 1; i <= last; i++ {
		prev, cur := phases[i-1], phases[i]
		path := entryPath(i) + ".phase"
		if prev == pipeline.PhaseVerify && cur == pipeline.PhaseExecute && statuses[i-1] != trace.StatusRetried {
			loopBacks++
			if bound, ok := v.loopBackBound(); ok && loopBacks > bound {
				v.add(CodeOrder, path, "loop-back %d exceeds the bound of %d for max_iterations %d", loopBacks, bound, bound+1)
			}
		}
		switch {
		case prev == pipeline.PhaseAborted:
			v.add(CodeOrder, path, "entry after ABORTED")
		case cur == pipeline.PhaseAborted:
			v.abortEntry(i, prev)
		case statuses[i-1] == trace.StatusRetried:
			if cur != prev {
				v.add(CodeOrder, path, "retried %s must be followed by %s, got %s", prev, prev, cur)
			}
		case !pipeline.CanTransition(prev, cur):
			v.add(CodeOrder, path, "illegal transition %s → %s", prev, cur)
		}
	}

	switch phases[last] {
	case pipeline.PhaseFinalize, pipeline.PhaseDone, pipeline.PhaseAborted:
	default:
		v.add(CodeOrder, entryPath(last)+".phase", "trace ends in %s, expected FINALIZE, DONE or ABORTED", phases[last])
	}
	if statuses[last] == trace.StatusRetried {
		v.add(CodeStatus, entryPath(last)+".status", "trace cannot end with a retried entry")
	}

	for i, s := range statuses {
		if s == trace.StatusIncomplete && phases[i] != pipeline.PhaseAborted {
			v.add(CodeStatus, entryPath(i)+".status", "incomplete status outside an ABORTED entry")
		}
		if phases[i] == pipeline.PhaseAborted && s != trace.StatusIncomplete {
			v.add(CodeStatus, entryPath(i)+".status", "ABORTED entry must be incomplete, got %q", s)
		}
	}
}

// loopBackBound is the number of VERIFY→EXECUTE edges a run may take:
// one fewer than config_snapshot.convergence.max_iterations.
func (v *validator) loopBackBound() (int, bool) {
	cfg, _ := v.doc["config_snapshot"].(map[string]any)
	conv, _ := cfg["convergence"].(map[string]any)
	n, ok := schema.Int(conv["max_iterations"])
	if !ok || n < 1 {
		return 0, false
	}
	return int(n) - 1, true
}

// abortEntry checks that the interrupted phase is the previous entry's
// phase or one of its successors.
func (v *validator) abortEntry(i int, prev pipeline.Phase) {
	path := entryPath(i) + ".interrupted_phase"
	name, _ := v.entryList[i]["interrupted_phase"].(string)
	interrupted, err := pipeline.ParsePhase(name)
	if err != nil {
		v.add(CodeOrder, path, "%v", err)
		return
	}
	if interrupted != prev && !slices.Contains(pipeline.Successors(prev), interrupted) {
		v.add(CodeOrder, path, "%s cannot be in flight after %s", interrupted, prev)
	}
}

func (v *validator) embeddedFailures() {
	for i, rec := range v.entryList {
		raw, present := rec["failure"]
		if !present || raw == nil {
			if rec["phase"] == string(pipeline.PhaseAborted) {
				v.add(CodeFailure, entryPath(i)+".failure", "ABORTED entry must carry a failure artifact")
			}
			continue
		}
		if rec["phase"] != string(pipeline.PhaseAborted) {
			v.add(CodeFailure, entryPath(i)+".failure", "failure artifact outside an ABORTED entry")
		}
		v.artifact(entryPath(i)+".failure", raw)
	}
}

func (v *validator) artifact(path string, raw any) (failure.Artifact, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		v.add(CodeFailure, path, "expected object, got %T", raw)
		return failure.Artifact{}, false
	}
	a, err := failure.ParseArtifact(obj)
	if err != nil {
		v.add(CodeFailure, path, "%v", err)
		return failure.Artifact{}, false
	}
	return a, true
}

func (v *validator) digests() {
	for i, rec := range v.entryList {
		raw, present := rec["digest"]
		if !present {
			if v.digestsRequired {
				v.add(CodeDigest, entryPath(i)+".digest", "required on schema version 2 documents")
			}
			continue
		}
		recorded, ok := raw.(string)
		if !ok {
			v.add(CodeDigest, entryPath(i)+".digest", "expected string, got %T", raw)
			continue
		}
		actual, err := trace.EntryDigest(rec)
		if err != nil {
			v.add(CodeDigest, entryPath(i), "cannot recompute digest: %v", err)
			continue
		}
		if actual != recorded {
			v.add(CodeDigest, entryPath(i)+".digest", "recorded %s, recomputed %s", recorded, actual)
		}
	}
}

func (v *validator) terminalFailure() {
	if len(v.entryList) == 0 {
		return
	}
	raw, present := v.doc["failure"]
	hasFailure := present && raw != nil
	lastEntry := v.entryList[len(v.entryList)-1]
	aborted := lastEntry["phase"] == string(pipeline.PhaseAborted)

	switch {
	case hasFailure && !aborted:
		v.add(CodeFailure, "failure", "terminal failure present but the trace does not end ABORTED")
	case aborted && !hasFailure:
		v.add(CodeFailure, "failure", "trace ends ABORTED without a terminal failure")
	}
	if aborted {
		if reason, _ := v.doc["termination_reason"].(string); reason == string(pipeline.TerminationCompleted) || reason == string(pipeline.TerminationConvergence) {
			v.add(CodeHeader, "termination_reason", "aborted run cannot terminate with %q", reason)
		}
	}
	if !hasFailure {
		return
	}

	top, ok := v.artifact("failure", raw)
	if !ok || !aborted {
		return
	}
	entryFailure, isObj := lastEntry["failure"].(map[string]any)
	if !isObj {
		return
	}
	if entryArtifact, err := failure.ParseArtifact(entryFailure); err == nil && entryArtifact != top {
		v.add(CodeFailure, "failure", "terminal failure differs from the ABORTED entry's artifact")
	}
}

func (v *validator) replayStatus() {
	md, ok := v.doc["model_metadata"].(map[string]any)
	if !ok {
		return
	}
	temp, ok := schema.Float(md["temperature"])
	if !ok {
		return
	}
	recorded, _ := v.doc["replay_status"].(string)
	expected := trace.ReplayStatusFor(temp)
	if recorded != "" && recorded != string(expected) {
		v.add(CodeReplayStatus, "replay_status", "recorded %s, temperature %v implies %s", recorded, temp, expected)
	}
}

// convergence requires a convergence_hash on runs that reached FINALIZE.
func (v *validator) convergence() {
	if len(v.entryList) == 0 {
		return
	}
	switch v.entryList[len(v.entryList)-1]["phase"] {
	case string(pipeline.PhaseFinalize), string(pipeline.PhaseDone):
	default:
		return
	}
	if s, _ := v.doc["convergence_hash"].(string); s == "" {
		v.add(CodeHeader, "convergence_hash", "required on a run that reached FINALIZE")
	}
}

// definition checks the recorded pipeline_definition against the fixed
// graph this build executes.
func (v *validator) definition() {
	def, ok := v.doc["pipeline_definition"].(map[string]any)
	if !ok {
		return
	}
	recorded, err := canonical.Marshal(def)
	if err != nil {
		v.add(CodeFingerprint, "pipeline_definition", "not canonicalizable: %v", err)
		return
	}
	expected, err := canonical.Marshal(pipeline.StandardDefinition().Payload())
	if err != nil {
		v.add(CodeFingerprint, "pipeline_definition", "cannot canonicalize the standard definition: %v", err)
		return
	}
	if !bytes.Equal(recorded, expected) {
		v.add(CodeFingerprint, "pipeline_definition", "differs from the standard pipeline definition")
	}
}

func (v *validator) fingerprint() {
	def, ok := v.doc["pipeline_definition"].(map[string]any)
	if !ok {
		v.add(CodeFingerprint, "pipeline_definition", "required object for fingerprint check")
		return
	}
	cfg, ok := v.doc["config_snapshot"].(map[string]any)
	if !ok {
		v.add(CodeFingerprint, "config_snapshot", "required object for fingerprint check")
		return
	}
	contract, _ := v.doc["contract_version"].(string)
	agentContract, _ := v.doc["agent_contract_version"].(string)

	actual, err := canonical.Fingerprint(def, cfg, contract, agentContract)
	if err != nil {
		v.add(CodeFingerprint, "fingerprint", "cannot recompute: %v", err)
		return
	}
	if recorded, _ := v.doc["fingerprint"].(string); recorded != actual {
		v.add(CodeFingerprint, "fingerprint", "recorded %s, recomputed %s", recorded, actual)
	}
}

func entryPath(i int) string {
	return fmt.Sprintf("entries[%d]", i)
}
