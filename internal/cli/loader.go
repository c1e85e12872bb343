package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"
	"github.com/joho/godotenv"

	"github.com/roach88/phaseledger/internal/config"
)

// Environment variables read by the CLI after an optional .env is loaded.
const (
	EnvDatabase       = "PHASELEDGER_DB"
	EnvRuntimeVersion = "PHASELEDGER_RUNTIME_VERSION"
)

// LoadError represents an error that occurred while loading CLI input.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeParse        = "E002" // Input is not a JSON object
	ErrCodeConfig       = "E003" // Config file failed schema validation
	ErrCodeSchema       = "E004" // Trace schema version cannot be upgraded
	ErrCodeNotFound     = "E005" // Path or run not found
	ErrCodeStore        = "E006" // Database error
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeInvalidTrace = "E101" // Trace failed replay validation
	ErrCodeMismatch     = "E102" // Two traces disagree
	ErrCodeRunAborted   = "E103" // Run ended in ABORTED
	ErrCodeScenario     = "E104" // Scenario failed
)

// loadEnv loads .env from the working directory if present. Variables
// already set in the environment win.
func loadEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

// databasePath returns the --db flag, falling back to PHASELEDGER_DB.
func databasePath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvDatabase)
}

// LoadConfig loads a run configuration, or the defaults when path is empty.
// PHASELEDGER_RUNTIME_VERSION overrides the configured runtime version.
func LoadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			var cfgErr *config.Error
			if errors.As(err, &cfgErr) {
				return config.Config{}, &LoadError{Code: ErrCodeConfig, Message: cfgErr.Error(), Pos: cfgErr.Pos}
			}
			return config.Config{}, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
		}
	}
	if v := os.Getenv(EnvRuntimeVersion); v != "" {
		cfg.RuntimeVersion = v
	}
	return cfg, nil
}

// LoadDocument reads a trace document as raw bytes and as a generic object.
// Numbers keep their literal form via json.Number.
func LoadDocument(path string) ([]byte, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("trace file not found: %s", path)}
	}
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		msg := "not a JSON object"
		if err != nil {
			msg = err.Error()
		}
		return nil, nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("%s: %s", path, msg)}
	}
	return raw, doc, nil
}

// loadErrorCode returns the code of a *LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}
