// Package failure defines the closed failure taxonomy and the immutable
// artifacts that record a failure in a trace.
//
// Every class has exactly one profile (category, retryability,
// replayability). The profile table is a fixed-size array indexed by class;
// adding a class without a profile fails to compile.
package failure

import (
	"encoding/json"
	"fmt"
)

// Class is one of the nine failure classes.
type Class uint8

const (
	ValidationError Class = iota + 1
	ExecutionError
	ResourceExhaustion
	FatalFailure
	UserInterruption
	BudgetExceeded
	MaxIterations
	VerificationVeto
	EpistemicUncertainty

	classEnd // sentinel, keep last
)

// NumClasses is the size of the taxonomy.
const NumClasses = int(classEnd) - 1

var classNames = [...]string{
	ValidationError:      "validation_error",
	ExecutionError:       "execution_error",
	ResourceExhaustion:   "resource_exhaustion",
	FatalFailure:         "fatal_failure",
	UserInterruption:     "user_interruption",
	BudgetExceeded:       "budget_exceeded",
	MaxIterations:        "max_iterations",
	VerificationVeto:     "verification_veto",
	EpistemicUncertainty: "epistemic_uncertainty",
}

// Both tables must have exactly one slot per class (slot 0 unused).
// A negative or out-of-range constant index is a compile error.
var (
	_ = [1]struct{}{}[len(classNames)-int(classEnd)]
	_ = [1]struct{}{}[len(profiles)-int(classEnd)]
)

// Classes returns every class in declaration order.
func Classes() []Class {
	out := make([]Class, 0, NumClasses)
	for c := ValidationError; c < classEnd; c++ {
		out = append(out, c)
	}
	return out
}

// ParseClass converts a wire name into a Class.
func ParseClass(s string) (Class, error) {
	for c := ValidationError; c < classEnd; c++ {
		if classNames[c] == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown failure class %q", s)
}

// Valid reports whether c is a member of the taxonomy.
func (c Class) Valid() bool {
	return c >= ValidationError && c < classEnd
}

func (c Class) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
	return classNames[c]
}

func (c Class) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("marshal invalid failure class %d", uint8(c))
	}
	return json.Marshal(classNames[c])
}

func (c *Class) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClass(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Category separates operational failures (the system misbehaved) from
// epistemic ones (the system behaved but the result is not trustworthy).
type Category string

const (
	Operational Category = "operational"
	Epistemic   Category = "epistemic"
)

// Profile is the fixed classification of a failure class.
type Profile struct {
	Category   Category
	Retryable  bool
	Replayable bool
}

var profiles = [...]Profile{
	ValidationError:      {Category: Operational, Retryable: false, Replayable: true},
	ExecutionError:       {Category: Operational, Retryable: true, Replayable: false},
	ResourceExhaustion:   {Category: Operational, Retryable: true, Replayable: false},
	FatalFailure:         {Category: Operational, Retryable: false, Replayable: false},
	UserInterruption:     {Category: Operational, Retryable: false, Replayable: true},
	BudgetExceeded:       {Category: Operational, Retryable: false, Replayable: true},
	MaxIterations:        {Category: Operational, Retryable: false, Replayable: true},
	VerificationVeto:     {Category: Operational, Retryable: false, Replayable: true},
	EpistemicUncertainty: {Category: Epistemic, Retryable: false, Replayable: true},
}

// ProfileFor returns the profile of c. A class outside the taxonomy can
// only come from an unchecked conversion.
func ProfileFor(c Class) (Profile, error) {
	if !c.Valid() {
		return Profile{}, fmt.Errorf("failure: no profile for %s", c)
	}
	return profiles[c], nil
}

// RetryEligible reports whether a failure of class c may be retried.
// Retry execution belongs to callers; this only answers eligibility.
func RetryEligible(c Class) bool {
	return c.Valid() && profiles[c].Retryable
}
