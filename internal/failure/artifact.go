package failure

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/phaseledger/internal/pipeline"
)

// ContractViolation reports an artifact (or other value object) whose
// fields contradict the taxonomy. Such values are never constructed.
type ContractViolation struct {
	Field  string
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation: %s: %s", e.Field, e.Reason)
}

// IsContractViolation reports whether err is or wraps a *ContractViolation.
func IsContractViolation(err error) bool {
	var target *ContractViolation
	return errors.As(err, &target)
}

// Artifact is the immutable record of one failure. Fields are unexported so
// that every Artifact in circulation came through NewArtifact or a
// validating decoder.
type Artifact struct {
	class       Class
	category    Category
	phase       pipeline.Phase
	recoverable bool
	mode        string
	message     string
}

// NewArtifact builds an artifact whose category is derived from the class
// profile. Requesting recoverable for a non-retryable class is rejected with
// a *ContractViolation rather than silently downgraded.
func NewArtifact(class Class, phase pipeline.Phase, mode, message string, recoverable bool) (Artifact, error) {
	profile, err := ProfileFor(class)
	if err != nil {
		return Artifact{}, &ContractViolation{Field: "failure_class", Reason: err.Error()}
	}
	if !phase.Valid() || phase.IsTerminal() {
		return Artifact{}, &ContractViolation{
			Field:  "phase",
			Reason: fmt.Sprintf("%q is not a phase a failure can occur in", phase),
		}
	}
	if recoverable && !profile.Retryable {
		return Artifact{}, &ContractViolation{
			Field:  "recoverable",
			Reason: fmt.Sprintf("class %s is not retryable", class),
		}
	}
	if mode == "" {
		return Artifact{}, &ContractViolation{Field: "mode", Reason: "must not be empty"}
	}
	return Artifact{
		class:       class,
		category:    profile.Category,
		phase:       phase,
		recoverable: recoverable,
		mode:        mode,
		message:     message,
	}, nil
}

// Class returns the failure class.
func (a Artifact) Class() Class { return a.class }

// Category is derived from the class profile.
func (a Artifact) Category() Category { return a.category }

func (a Artifact) Phase() pipeline.Phase { return a.phase }

func (a Artifact) Recoverable() bool { return a.recoverable }

// Mode describes how the failure was detected.
func (a Artifact) Mode() string { return a.mode }

func (a Artifact) Message() string { return a.message }

// IsZero reports whether a is the zero Artifact (no failure).
func (a Artifact) IsZero() bool { return a.class == 0 }

// RetryEligible reports whether the artifact's class may be retried.
func (a Artifact) RetryEligible() bool { return RetryEligible(a.class) }

func (a Artifact) String() string {
	return fmt.Sprintf("%s at %s (%s): %s", a.class, a.phase, a.mode, a.message)
}

type artifactJSON struct {
	FailureClass string `json:"failure_class"`
	Category     string `json:"category"`
	Phase        string `json:"phase"`
	Recoverable  bool   `json:"recoverable"`
	Mode         string `json:"mode"`
	Message      string `json:"message"`
}

func (a Artifact) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return nil, errors.New("marshal zero failure artifact")
	}
	return json.Marshal(artifactJSON{
		FailureClass: a.class.String(),
		Category:     string(a.category),
		Phase:        string(a.phase),
		Recoverable:  a.recoverable,
		Mode:         a.mode,
		Message:      a.message,
	})
}

// UnmarshalJSON decodes and re-validates an artifact. A stored category that
// disagrees with the profile is rejected.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	parsed, err := ParseArtifact(rec)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Payload returns the artifact as a generic JSON object.
func (a Artifact) Payload() map[string]any {
	return map[string]any{
		"failure_class": a.class.String(),
		"category":      string(a.category),
		"phase":         string(a.phase),
		"recoverable":   a.recoverable,
		"mode":          a.mode,
		"message":       a.message,
	}
}

// ValidateArtifact re-checks a constructed artifact against the taxonomy.
func ValidateArtifact(a Artifact) error {
	if a.IsZero() {
		return &ContractViolation{Field: "failure_class", Reason: "missing"}
	}
	rebuilt, err := NewArtifact(a.class, a.phase, a.mode, a.message, a.recoverable)
	if err != nil {
		return err
	}
	if rebuilt.category != a.category {
		return &ContractViolation{
			Field:  "category",
			Reason: fmt.Sprintf("%s does not match profile category %s", a.category, rebuilt.category),
		}
	}
	return nil
}

// ParseArtifact validates a generic JSON object (as found in a trace
// document) and builds the artifact it describes. Every problem found is
// reported, joined, in field order.
func ParseArtifact(rec map[string]any) (Artifact, error) {
	var errs []error
	str := func(field string) string {
		v, ok := rec[field]
		if !ok {
			errs = append(errs, &ContractViolation{Field: field, Reason: "missing"})
			return ""
		}
		s, ok := v.(string)
		if !ok {
			errs = append(errs, &ContractViolation{Field: field, Reason: fmt.Sprintf("expected string, got %T", v)})
		}
		return s
	}

	className := str("failure_class")
	category := str("category")
	phaseName := str("phase")
	mode := str("mode")
	message := str("message")

	recoverable := false
	switch v := rec["recoverable"].(type) {
	case bool:
		recoverable = v
	case nil:
		if _, present := rec["recoverable"]; present {
			errs = append(errs, &ContractViolation{Field: "recoverable", Reason: "expected bool, got null"})
		}
	default:
		errs = append(errs, &ContractViolation{Field: "recoverable", Reason: fmt.Sprintf("expected bool, got %T", v)})
	}

	if len(errs) > 0 {
		return Artifact{}, errors.Join(errs...)
	}

	class, err := ParseClass(className)
	if err != nil {
		return Artifact{}, &ContractViolation{Field: "failure_class", Reason: err.Error()}
	}
	phase, err := pipeline.ParsePhase(phaseName)
	if err != nil {
		return Artifact{}, &ContractViolation{Field: "phase", Reason: err.Error()}
	}

	a, err := NewArtifact(class, phase, mode, message, recoverable)
	if err != nil {
		return Artifact{}, err
	}
	if Category(category) != a.category {
		return Artifact{}, &ContractViolation{
			Field:  "category",
			Reason: fmt.Sprintf("%q does not match profile category %q for %s", category, a.category, class),
		}
	}
	return a, nil
}
