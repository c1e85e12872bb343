// Package schema upgrades persisted trace documents to the current
// trace_schema_version.
//
// Documents are handled as generic JSON objects so that any historical
// layout can be read. Migrations form an ordered chain keyed by the version
// they upgrade from; Upgrade walks the chain on a private copy and returns
// either a fully upgraded document or an error, never a partial result.
package schema

import (
	"errors"
	"fmt"
	"log/slog"
)

// CurrentVersion is the trace_schema_version written by this build.
const CurrentVersion = 2

// VersionField is the document key holding the schema version.
const VersionField = "trace_schema_version"

// IncompatibleVersionError reports a document that cannot be brought to the
// current version.
type IncompatibleVersionError struct {
	Found   int
	Current int
	Reason  string
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("incompatible trace schema version %d (current %d): %s", e.Found, e.Current, e.Reason)
}

// IsIncompatibleVersion reports whether err is an *IncompatibleVersionError.
func IsIncompatibleVersion(err error) bool {
	var target *IncompatibleVersionError
	return errors.As(err, &target)
}

// Migration upgrades a document from version N to N+1 in place. It receives
// a private copy and must not retain it.
type Migration func(doc map[string]any) error

// Upgrader holds the migration chain.
type Upgrader struct {
	current    int
	migrations map[int]Migration
	logger     *slog.Logger
}

// UpgraderOption configures an Upgrader.
type UpgraderOption func(*Upgrader)

// WithLogger sets the logger used for migration steps.
func WithLogger(logger *slog.Logger) UpgraderOption {
	return func(u *Upgrader) {
		u.logger = logger
	}
}

// WithMigrations replaces the chain; used to exercise other chains in tests.
func WithMigrations(current int, migrations map[int]Migration) UpgraderOption {
	return func(u *Upgrader) {
		u.current = current
		u.migrations = migrations
	}
}

// NewUpgrader returns an upgrader with the built-in chain.
func NewUpgrader(opts ...UpgraderOption) *Upgrader {
	u := &Upgrader{
		current: CurrentVersion,
		migrations: map[int]Migration{
			1: migrateV1toV2,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upgrade upgrades doc with the built-in chain.
func Upgrade(doc map[string]any) (map[string]any, error) {
	return NewUpgrader().Upgrade(doc)
}

// Upgrade returns doc brought to the current version. The input is never
// modified. A document already at the current version is returned as an
// equal copy.
func (u *Upgrader) Upgrade(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return nil, errors.New("upgrade: nil document")
	}
	version, err := Version(doc)
	if err != nil {
		return nil, err
	}
	if version > u.current {
		return nil, &IncompatibleVersionError{Found: version, Current: u.current, Reason: "document is newer than this build"}
	}

	out := deepCopy(doc).(map[string]any)
	for v := version; v < u.current; v++ {
		migrate, ok := u.migrations[v]
		if !ok {
			return nil, &IncompatibleVersionError{Found: version, Current: u.current, Reason: fmt.Sprintf("no migration from version %d", v)}
		}
		if err := migrate(out); err != nil {
			return nil, fmt.Errorf("migrate v%d→v%d: %w", v, v+1, err)
		}
		out[VersionField] = v + 1
		u.logger.Debug("trace schema migrated", "from", v, "to", v+1)
	}
	return out, nil
}

// Version reads the schema version of doc. A missing field means version 1.
func Version(doc map[string]any) (int, error) {
	raw, ok := doc[VersionField]
	if !ok {
		return 1, nil
	}
	n, ok := Int(raw)
	if !ok {
		return 0, &IncompatibleVersionError{Found: 0, Current: CurrentVersion, Reason: fmt.Sprintf("%s is not an integer: %v", VersionField, raw)}
	}
	if n < 1 {
		return 0, &IncompatibleVersionError{Found: int(n), Current: CurrentVersion, Reason: "version must be at least 1"}
	}
	return int(n), nil
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return val
	}
}
