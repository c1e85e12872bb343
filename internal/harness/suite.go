package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// DiscoverScenarios returns the scenario files at path. A file is returned
// as is; a directory yields its *.yaml and *.yml files sorted by name.
func DiscoverScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

// SuiteResult summarizes a batch of scenario runs.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one scenario that did not pass.
type ScenarioFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// RunSuite loads and runs every scenario at path.
//
// For each scenario file:
// 1. Load and validate the scenario
// 2. Run it via Run
// 3. Record pass, or the load, execution or assertion failure
//
// A scenario failure never stops the suite; only an unreadable path does.
func RunSuite(ctx context.Context, path string) (*SuiteResult, error) {
	paths, err := DiscoverScenarios(path)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	fail := func(p, msg string) {
		result.Failed++
		result.Failures = append(result.Failures, ScenarioFailure{ScenarioPath: p, Error: msg})
	}

	for _, p := range paths {
		result.Total++

		scenario, err := LoadScenario(p)
		if err != nil {
			fail(p, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		run, err := Run(ctx, scenario)
		if err != nil {
			fail(p, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !run.Pass {
			fail(p, fmt.Sprintf("scenario assertions failed: %v", run.Errors))
			continue
		}
		result.Passed++
	}
	return result, nil
}
