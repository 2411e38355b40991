// Package updater discovers Nix package definitions, probes their upstream
// sources for new versions, and drives the edit, build, and publish pipeline
// for each one.
package updater

import (
	"errors"
	"fmt"

	"github.com/nixbump/nixbump/internal/nixfile"
)

// Error variables for package classification errors
var (
	// ErrUnknownKind is returned when a kind string cannot be parsed
	ErrUnknownKind = errors.New("unknown package kind")
	// ErrNoKind is returned when no update strategy can be inferred for a file
	ErrNoKind = errors.New("cannot determine update strategy")
)

// Kind classifies how a package's upstream is probed and how its source is
// fetched. The set is closed; dispatch is by switch.
type Kind int

const (
	// KindRegistry tracks a language package registry (PyPI)
	KindRegistry Kind = iota
	// KindRelease tracks GitHub release assets
	KindRelease
	// KindSource tracks a crate built from source with a tag-pinned archive
	KindSource
	// KindVCS tracks the head of the upstream default branch
	KindVCS
)

// String returns the kind name used in CLI flags and reports.
func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindRelease:
		return "release"
	case KindSource:
		return "source"
	case KindVCS:
		return "vcs"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name as accepted by the --type flag.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "registry":
		return KindRegistry, nil
	case "release":
		return KindRelease, nil
	case "source":
		return KindSource, nil
	case "vcs":
		return KindVCS, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Status is the terminal state of one package's run.
type Status int

const (
	// StatusUpToDate means upstream matched the current version
	StatusUpToDate Status = iota
	// StatusUpdated means edits were applied and verified
	StatusUpdated
	// StatusSkipped means the package was deliberately not modified
	StatusSkipped
	// StatusFailed means a pipeline step failed
	StatusFailed
)

// String returns the status label used in the report table.
func (s Status) String() string {
	switch s {
	case StatusUpToDate:
		return "up-to-date"
	case StatusUpdated:
		return "updated"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of one package. It is set exactly once.
type Result struct {
	Status Status
	// OldVersion and NewVersion frame the change for updated packages
	OldVersion string
	NewVersion string
	// Reason explains skips and failures
	Reason string
	// Err carries the failure cause for StatusFailed
	Err error
	// LogPath points at the build log when a build ran
	LogPath string
}

// Package is one discovered Nix package definition and its update state.
type Package struct {
	// Name is the pname binding of the definition
	Name string
	// Path is the definition file path
	Path string
	// Kind selects the probe and edit strategy
	Kind Kind
	// Homepage is the meta.homepage binding, when present
	Homepage string
	// CurrentVersion is the version binding at discovery time
	CurrentVersion string
	// Doc is the loaded definition document, owned by this package
	Doc *nixfile.Document
	// Platforms is the per-platform artifact matrix, empty for single-source
	// packages
	Platforms []nixfile.PlatformEntry

	result *Result
}

// Finish records the package's terminal result. The first call wins;
// later calls are ignored.
func (p *Package) Finish(r Result) {
	if p.result == nil {
		p.result = &r
	}
}

// Result returns the terminal result, or nil while the package is still in
// flight.
func (p *Package) Result() *Result {
	return p.result
}

// Fail is shorthand for finishing with StatusFailed.
func (p *Package) Fail(reason string, err error) {
	p.Finish(Result{Status: StatusFailed, Reason: reason, Err: err})
}
