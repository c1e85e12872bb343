package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/phaseledger/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes the phase sequence of the run to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Phases   []string // Entry phases with status, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Phases) > 0 {
		fmt.Fprintf(&buf, "\nEntries:\n")
		for i, p := range e.Phases {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, p)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion against the result and returns
// the failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	run := result.Run
	switch a.Type {
	case AssertEntryCount:
		return assertEntryCount(run, a)
	case AssertPhaseOrder:
		return assertPhaseOrder(run, a)
	case AssertReplayStatus:
		return assertValue(run, a, string(run.ReplayStatus))
	case AssertFailureClass:
		actual := "none"
		if run.Failure != nil {
			actual = run.Failure.Class().String()
		}
		return assertValue(run, a, actual)
	case AssertFinalPhase:
		if len(run.Entries) == 0 {
			return assertValue(run, a, "")
		}
		return assertValue(run, a, string(run.Last().Phase))
	case AssertTerminationReason:
		return assertValue(run, a, string(run.TerminationReason))
	case AssertConvergenceReason:
		return assertValue(run, a, run.ConvergenceReason)
	case AssertValidReplay:
		return assertValidReplay(run, result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertEntryCount checks the trace has exactly the expected number of entries.
func assertEntryCount(run trace.RunTrace, a Assertion) error {
	if len(run.Entries) != a.Count {
		return &AssertionError{
			Type:     AssertEntryCount,
			Expected: fmt.Sprintf("%d entries", a.Count),
			Actual:   fmt.Sprintf("%d entries", len(run.Entries)),
			Phases:   entryPhases(run),
		}
	}
	return nil
}

// assertPhaseOrder checks the entry phases match the expected sequence
// exactly, retried entries included.
func assertPhaseOrder(run trace.RunTrace, a Assertion) error {
	actual := make([]string, len(run.Entries))
	for i, e := range run.Entries {
		actual[i] = string(e.Phase)
	}
	if !slices.Equal(actual, a.Phases) {
		return &AssertionError{
			Type:     AssertPhaseOrder,
			Expected: strings.Join(a.Phases, " → "),
			Actual:   strings.Join(actual, " → "),
			Phases:   entryPhases(run),
		}
	}
	return nil
}

// assertValue compares a single string-valued property of the run.
func assertValue(run trace.RunTrace, a Assertion, actual string) error {
	if actual != a.Value {
		return &AssertionError{
			Type:     a.Type,
			Expected: a.Value,
			Actual:   actual,
			Phases:   entryPhases(run),
		}
	}
	return nil
}

// assertValidReplay checks the outcome of validating the stored document.
func assertValidReplay(run trace.RunTrace, result *Result, a Assertion) error {
	if result.Report.Valid == *a.Valid {
		return nil
	}
	actual := "valid"
	if !result.Report.Valid {
		actual = "invalid: " + strings.Join(result.Report.Violations, "; ")
	}
	return &AssertionError{
		Type:     AssertValidReplay,
		Expected: fmt.Sprintf("valid=%t", *a.Valid),
		Actual:   actual,
		Phases:   entryPhases(run),
	}
}

func entryPhases(run trace.RunTrace) []string {
	out := make([]string, len(run.Entries))
	for i, e := range run.Entries {
		out[i] = fmt.Sprintf("%s (%s)", e.Phase, e.Status)
	}
	return out
}
