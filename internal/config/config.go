// Package config loads run configuration from CUE or YAML files.
//
// Both formats are validated against the embedded CUE schema, which also
// supplies defaults for every omitted field. YAML documents are decoded with
// gopkg.in/yaml.v3 and encoded into CUE before unification, so the two
// formats share one set of constraints and one set of error positions.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/phaseledger/internal/convergence"
	"github.com/roach88/phaseledger/internal/trace"
)

//go:embed schema.cue
var schemaCUE []byte

// Config is a fully defaulted, validated run configuration.
type Config struct {
	RuntimeVersion       string              `json:"runtime_version"`
	ContractVersion      string              `json:"contract_version"`
	AgentContractVersion string              `json:"agent_contract_version"`
	Model                trace.ModelMetadata `json:"model"`
	Convergence          convergence.Config  `json:"convergence"`
	Retry                Retry               `json:"retry"`
}

// Retry bounds how many times a retryable phase may be attempted.
type Retry struct {
	MaxAttempts int `json:"max_attempts"`
}

// Error reports an unreadable or invalid configuration.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Default returns the configuration an empty file produces.
func Default() Config {
	cfg, err := decode(cuecontext.New(), nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema defaults are invalid: %v", err))
	}
	return cfg
}

// Load reads the configuration at path. A directory is loaded as a CUE
// instance; files are dispatched on their extension.
func Load(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, &Error{Path: path, Message: fmt.Sprintf("cannot read config: %v", err)}
	}

	ctx := cuecontext.New()
	if info.IsDir() {
		v, err := loadInstance(ctx, path)
		if err != nil {
			return Config{}, err
		}
		return decode(ctx, &v)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Path: path, Message: fmt.Sprintf("cannot read config: %v", err)}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return Parse(ctx, data, path)
	case ".yaml", ".yml":
		return ParseYAML(ctx, data, path)
	default:
		return Config{}, &Error{Path: path, Message: "unsupported config format (want .cue, .yaml or .yml)"}
	}
}

// Parse compiles CUE source and validates it against the schema.
func Parse(ctx *cue.Context, src []byte, filename string) (Config, error) {
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, cueError(filename, err)
	}
	return decode(ctx, &v)
}

// ParseYAML decodes a YAML document and validates it against the schema.
func ParseYAML(ctx *cue.Context, src []byte, filename string) (Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return Config{}, &Error{Path: filename, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return Config{}, cueError(filename, err)
	}
	return decode(ctx, &v)
}

func loadInstance(ctx *cue.Context, dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, &Error{Path: dir, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, cueError(dir, inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, cueError(dir, err)
	}
	return v, nil
}

// decode unifies v with the schema and extracts the result. A nil v yields
// the schema defaults.
func decode(ctx *cue.Context, v *cue.Value) (Config, error) {
	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, cueError("schema.cue", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	unified := def
	if v != nil {
		unified = def.Unify(*v)
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError("", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, cueError("", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Message: err.Error()}
	}
	return cfg, nil
}

// cueError keeps the first CUE error with its source position.
func cueError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Path: path, Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Path: path, Message: first.Error()}
	if p := strings.Join(first.Path(), "."); p != "" {
		e.Message = p + ": " + strings.TrimPrefix(e.Message, p+": ")
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

// Validate re-checks the decoded values through the owning packages.
func (c Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Convergence.Validate(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// Snapshot is the behavioral part of the configuration recorded in the trace
// header and folded into the run fingerprint. Model metadata and versions are
// recorded separately.
func (c Config) Snapshot() map[string]any {
	strategies := make([]any, 0, len(c.Convergence.Strategies))
	for _, name := range c.Convergence.Strategies {
		strategies = append(strategies, name)
	}
	return map[string]any{
		"convergence": map[string]any{
			"stability_window":     c.Convergence.StabilityWindow,
			"epsilon":              c.Convergence.Epsilon,
			"confidence_tolerance": c.Convergence.ConfidenceTolerance,
			"max_iterations":       c.Convergence.MaxIterations,
			"policy":               string(c.Convergence.Policy),
			"strategies":           strategies,
			"combine":              string(c.Convergence.Combine),
			"quorum":               c.Convergence.Quorum,
		},
		"retry": map[string]any{
			"max_attempts": c.Retry.MaxAttempts,
		},
	}
}
