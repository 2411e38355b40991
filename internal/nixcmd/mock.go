package nixcmd

import "context"

// MockExecutor implements Executor for testing.
// Each method can be configured with a custom function to control behavior,
// and every invocation is recorded in Calls.
type MockExecutor struct {
	PrefetchFileFunc func(ctx context.Context, url string) (PrefetchResult, error)
	FetchGitFunc     func(ctx context.Context, url, rev string) (FetchGitResult, error)
	BuildFunc        func(ctx context.Context, attr string) (BuildResult, error)
	PathInfoFunc     func(ctx context.Context, attr string) ([]string, error)
	CachixPushFunc   func(ctx context.Context, cache string, paths []string) (string, error)
	workDir          string

	// Calls records each invocation as "op arg" in order
	Calls []string
}

// NewMockExecutor creates a new MockExecutor with the specified working directory.
func NewMockExecutor(workDir string) *MockExecutor {
	return &MockExecutor{
		workDir: workDir,
	}
}

// WorkDir returns the flake directory commands run in.
func (m *MockExecutor) WorkDir() string {
	return m.workDir
}

// PrefetchFile downloads a URL into the nix store and returns its hash.
func (m *MockExecutor) PrefetchFile(ctx context.Context, url string) (PrefetchResult, error) {
	m.Calls = append(m.Calls, "prefetch-file "+url)
	if m.PrefetchFileFunc != nil {
		return m.PrefetchFileFunc(ctx, url)
	}
	return PrefetchResult{Hash: "sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="}, nil
}

// FetchGit prefetches a git source and returns its hash and revision.
func (m *MockExecutor) FetchGit(ctx context.Context, url, rev string) (FetchGitResult, error) {
	m.Calls = append(m.Calls, "fetch-git "+url+" "+rev)
	if m.FetchGitFunc != nil {
		return m.FetchGitFunc(ctx, url, rev)
	}
	return FetchGitResult{
		Hash:    "sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		Rev:     rev,
		Fetcher: "fetchFromGitHub",
	}, nil
}

// Build builds a flake attribute and returns the combined build log.
func (m *MockExecutor) Build(ctx context.Context, attr string) (BuildResult, error) {
	m.Calls = append(m.Calls, "build "+attr)
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, attr)
	}
	return BuildResult{Attr: attr, Success: true}, nil
}

// PathInfo returns the store paths of a built flake attribute.
func (m *MockExecutor) PathInfo(ctx context.Context, attr string) ([]string, error) {
	m.Calls = append(m.Calls, "path-info "+attr)
	if m.PathInfoFunc != nil {
		return m.PathInfoFunc(ctx, attr)
	}
	return []string{"/nix/store/0000000000000000000000000000000-" + attr}, nil
}

// CachixPush pushes store paths to a cachix binary cache.
func (m *MockExecutor) CachixPush(ctx context.Context, cache string, paths []string) (string, error) {
	m.Calls = append(m.Calls, "cachix-push "+cache)
	if m.CachixPushFunc != nil {
		return m.CachixPushFunc(ctx, cache, paths)
	}
	return "", nil
}
