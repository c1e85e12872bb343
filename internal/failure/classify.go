package failure

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/phaseledger/internal/pipeline"
)

// Detection modes recorded on artifacts.
const (
	ModeCancelled = "cancelled"
	ModeDeadline  = "deadline"
	ModeLimit     = "iteration_limit"
	ModeAgent     = "agent_error"
	ModeContract  = "contract"
	ModeInternal  = "internal"
)

// Error carries an explicit failure class through ordinary error returns.
// Agents and collaborators return it when they know what kind of failure
// occurred; Classify unwraps it.
type Error struct {
	Class Class
	Mode  string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Class.String()
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns an *Error of the given class with a formatted cause.
func Errorf(class Class, format string, args ...any) error {
	return &Error{Class: class, Mode: ModeAgent, Err: fmt.Errorf(format, args...)}
}

// Classify maps an error to its failure class. Unrecognized errors are
// fatal_failure; nothing is silently treated as retryable.
func Classify(err error) Class {
	class, _ := classify(err)
	return class
}

func classify(err error) (Class, string) {
	var fe *Error
	if errors.As(err, &fe) && fe.Class.Valid() {
		mode := fe.Mode
		if mode == "" {
			mode = ModeAgent
		}
		return fe.Class, mode
	}

	switch {
	case errors.Is(err, context.Canceled):
		return UserInterruption, ModeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return BudgetExceeded, ModeDeadline
	case pipeline.IsIterationLimit(err):
		return MaxIterations, ModeLimit
	case IsContractViolation(err), pipeline.IsIllegalTransition(err):
		return FatalFailure, ModeContract
	}
	return FatalFailure, ModeInternal
}

// FromError classifies err and builds the artifact for it. The artifact is
// marked recoverable exactly when its class is retry-eligible.
func FromError(err error, phase pipeline.Phase) (Artifact, error) {
	if err == nil {
		return Artifact{}, errors.New("failure: FromError called with nil error")
	}
	class, mode := classify(err)
	return NewArtifact(class, phase, mode, err.Error(), RetryEligible(class))
}
