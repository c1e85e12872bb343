package harness

import (
	"github.com/roach88/phaseledger/internal/replay"
	"github.com/roach88/phaseledger/internal/trace"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Run is the sealed trace as read back from the store.
	Run trace.RunTrace `json:"run"`

	// Report is the replay validation of the stored document.
	Report replay.Report `json:"report"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
