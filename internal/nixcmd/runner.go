package nixcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	ErrCommandFailed = errors.New("command failed")
	ErrNoHash        = errors.New("no hash in prefetch output")
	ErrNoStorePaths  = errors.New("no store paths for attribute")
)

// CommandRunner implements Executor by running the real nix, nurl, and
// cachix binaries in a flake directory.
type CommandRunner struct {
	workDir string
}

// NewCommandRunner creates a CommandRunner for the specified flake directory.
func NewCommandRunner(workDir string) *CommandRunner {
	return &CommandRunner{
		workDir: workDir,
	}
}

// WorkDir returns the flake directory commands run in.
func (r *CommandRunner) WorkDir() string {
	return r.workDir
}

// runCommand executes a command and returns stdout, stderr, and any error.
func (r *CommandRunner) runCommand(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.workDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil && stderr != "" {
		err = errors.Join(ErrCommandFailed, errors.New(strings.TrimSpace(stderr)))
	}

	return stdout, stderr, err
}

// PrefetchFile downloads a URL into the nix store via
// `nix store prefetch-file <url> --json` and returns its SRI hash.
func (r *CommandRunner) PrefetchFile(ctx context.Context, url string) (PrefetchResult, error) {
	stdout, _, err := r.runCommand(ctx, "nix", "store", "prefetch-file", url, "--json")
	if err != nil {
		return PrefetchResult{}, fmt.Errorf("prefetch of %s: %w", url, err)
	}

	var result PrefetchResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return PrefetchResult{}, fmt.Errorf("failed to parse prefetch output: %w", err)
	}
	if result.Hash == "" {
		return PrefetchResult{}, fmt.Errorf("%w: %s", ErrNoHash, url)
	}
	return result, nil
}

// nurlOutput is the JSON shape nurl emits with --json.
type nurlOutput struct {
	Args map[string]interface{} `json:"args"`
	// Fetcher names the nixpkgs fetcher nurl selected
	Fetcher string `json:"fetcher"`
}

// FetchGit prefetches a git source via `nurl --json <url> [rev]` and returns
// its hash and resolved revision. An empty rev lets nurl pick the head of
// the default branch.
func (r *CommandRunner) FetchGit(ctx context.Context, url, rev string) (FetchGitResult, error) {
	args := []string{"--json", url}
	if rev != "" {
		args = append(args, rev)
	}

	stdout, _, err := r.runCommand(ctx, "nurl", args...)
	if err != nil {
		return FetchGitResult{}, fmt.Errorf("nurl fetch of %s: %w", url, err)
	}

	result, err := parseNurlOutput([]byte(stdout), rev)
	if err != nil {
		return FetchGitResult{}, fmt.Errorf("nurl fetch of %s: %w", url, err)
	}
	return result, nil
}

// parseNurlOutput decodes nurl's JSON output. fallbackRev fills in the
// revision when nurl omits it from the fetcher arguments.
func parseNurlOutput(data []byte, fallbackRev string) (FetchGitResult, error) {
	var out nurlOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return FetchGitResult{}, fmt.Errorf("failed to parse nurl output: %w", err)
	}

	result := FetchGitResult{Fetcher: out.Fetcher}
	if h, ok := out.Args["hash"].(string); ok {
		result.Hash = h
	}
	if rv, ok := out.Args["rev"].(string); ok {
		result.Rev = rv
	}
	if result.Hash == "" {
		return FetchGitResult{}, ErrNoHash
	}
	if result.Rev == "" {
		result.Rev = fallbackRev
	}
	return result, nil
}

// Build builds a flake attribute via `nix build .#<attr> --no-link`. A
// non-zero exit is reported through BuildResult.Success rather than the
// error return; the combined log is kept verbatim either way.
func (r *CommandRunner) Build(ctx context.Context, attr string) (BuildResult, error) {
	stdout, stderr, err := r.runCommand(ctx, "nix", "build", ".#"+attr, "--no-link")

	result := BuildResult{
		Attr:    attr,
		Success: err == nil,
		Log:     stdout + stderr,
	}
	if err != nil && ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// PathInfo returns the store paths of a built flake attribute via
// `nix path-info .#<attr>`.
func (r *CommandRunner) PathInfo(ctx context.Context, attr string) ([]string, error) {
	stdout, _, err := r.runCommand(ctx, "nix", "path-info", ".#"+attr)
	if err != nil {
		return nil, fmt.Errorf("path-info for %s: %w", attr, err)
	}

	var paths []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoStorePaths, attr)
	}
	return paths, nil
}

// CachixPush pushes store paths to a cachix binary cache and returns the
// command output.
func (r *CommandRunner) CachixPush(ctx context.Context, cache string, paths []string) (string, error) {
	args := append([]string{"push", cache}, paths...)
	stdout, stderr, err := r.runCommand(ctx, "cachix", args...)
	if err != nil {
		return stdout + stderr, fmt.Errorf("cachix push to %s: %w", cache, err)
	}
	return stdout + stderr, nil
}
