// Package nixcmd wraps the external nix, nurl, and cachix invocations the
// updater performs. All operations go through the Executor interface so
// tests can substitute a mock.
package nixcmd

import "context"

// Executor defines the external command operations the updater needs.
// This interface allows for mocking command execution in tests.
type Executor interface {
	// PrefetchFile downloads a URL into the nix store and returns its hash
	PrefetchFile(ctx context.Context, url string) (PrefetchResult, error)

	// FetchGit prefetches a git source, optionally pinned to a revision,
	// and returns its hash and resolved revision
	FetchGit(ctx context.Context, url, rev string) (FetchGitResult, error)

	// Build builds a flake attribute and returns the combined build log
	Build(ctx context.Context, attr string) (BuildResult, error)

	// PathInfo returns the store paths of a built flake attribute
	PathInfo(ctx context.Context, attr string) ([]string, error)

	// CachixPush pushes store paths to a cachix binary cache
	CachixPush(ctx context.Context, cache string, paths []string) (string, error)

	// WorkDir returns the flake directory commands run in
	WorkDir() string
}

// PrefetchResult is the outcome of a nix store prefetch-file invocation.
type PrefetchResult struct {
	// Hash is the SRI hash of the downloaded file
	Hash string `json:"hash"`
	// StorePath is where the file landed in the nix store
	StorePath string `json:"storePath"`
}

// FetchGitResult is the outcome of a nurl invocation.
type FetchGitResult struct {
	// Hash is the SRI hash of the fetched source tree
	Hash string
	// Rev is the resolved revision
	Rev string
	// Fetcher is the nixpkgs fetcher nurl selected
	Fetcher string
}

// BuildResult is the outcome of a nix build invocation. Success reflects the
// exit status only; the log is kept verbatim either way.
type BuildResult struct {
	// Attr is the flake attribute that was built
	Attr string
	// Success is true when the build exited zero
	Success bool
	// Log is the combined stdout and stderr of the build
	Log string
}
