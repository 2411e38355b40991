package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nixbump/nixbump/internal/clients"
	"github.com/nixbump/nixbump/internal/common/logger"
	"github.com/nixbump/nixbump/internal/version"
)

// Error variables for probe errors
var (
	// ErrProbeFailed is returned when an upstream query fails
	ErrProbeFailed = errors.New("upstream probe failed")
	// ErrNoUpstreamVersion is returned when upstream has no usable version
	ErrNoUpstreamVersion = errors.New("no upstream version found")
	// ErrNoRepo is returned when no GitHub repository can be derived for a
	// package
	ErrNoRepo = errors.New("cannot determine upstream repository")
)

// ProbeResult is what an upstream probe learned about a package.
type ProbeResult struct {
	// Version is the latest upstream version, normalized (no v prefix)
	Version string
	// Tag is the release tag the version came from, when applicable
	Tag string
	// Rev is the upstream head commit, for branch-tracking packages
	Rev string
	// Files are the registry artifacts of the new version, when the probe
	// already fetched them
	Files []clients.PyPIReleaseFile
	// FromCache is true when the result came from the probe cache
	FromCache bool
}

// Prober queries upstream sources for the latest version of a package.
// One Prober is built per run and shared by all workers.
type Prober struct {
	http      *clients.RetryableHTTPClient
	pypi      *clients.PyPIClient
	crates    *clients.CratesClient
	github    *clients.GitHubClient
	cache     *Cache
	overrides *Overrides
	// nowFunc allows injecting time for testing
	nowFunc func() time.Time
}

// NewProber creates a Prober sharing one HTTP client and rate limiter
// across all upstream APIs. cache and overrides may be nil.
func NewProber(httpClient *clients.RetryableHTTPClient, githubToken string, cache *Cache, overrides *Overrides) *Prober {
	return &Prober{
		http:      httpClient,
		pypi:      clients.NewPyPIClient(httpClient),
		crates:    clients.NewCratesClient(httpClient),
		github:    clients.NewGitHubClient(httpClient, githubToken),
		cache:     cache,
		overrides: overrides,
		nowFunc:   time.Now,
	}
}

// Probe returns the latest upstream version for a package. force bypasses
// the probe cache.
func (p *Prober) Probe(ctx context.Context, pkg *Package, force bool) (ProbeResult, error) {
	if p.cache != nil {
		if entry, ok := p.cache.Get(pkg.Name, force); ok {
			logger.Debug("probe cache hit for %s: %s", pkg.Name, entry.Version)
			return ProbeResult{
				Version:   entry.Version,
				Tag:       entry.Tag,
				Rev:       entry.Rev,
				FromCache: true,
			}, nil
		}
	}

	result, err := p.probeUpstream(ctx, pkg)
	if err != nil {
		return ProbeResult{}, err
	}

	if p.cache != nil {
		if err := p.cache.Set(pkg.Name, result.Version, result.Tag, result.Rev); err != nil {
			logger.Warn("failed to persist probe cache: %v", err)
		}
	}
	return result, nil
}

func (p *Prober) probeUpstream(ctx context.Context, pkg *Package) (ProbeResult, error) {
	if p.overrides != nil {
		if ov, ok := p.overrides.For(pkg.Name); ok && ov.URL != "" {
			return p.probeCustom(ctx, pkg, ov)
		}
	}

	switch pkg.Kind {
	case KindRegistry:
		return p.probeRegistry(ctx, pkg)
	case KindSource:
		return p.probeCrate(ctx, pkg)
	case KindRelease:
		return p.probeRelease(ctx, pkg)
	case KindVCS:
		return p.probeBranchHead(ctx, pkg)
	default:
		return ProbeResult{}, fmt.Errorf("%w: kind %v", ErrProbeFailed, pkg.Kind)
	}
}

// probeCustom fetches an override URL and extracts the version with the
// configured parser.
func (p *Prober) probeCustom(ctx context.Context, pkg *Package, ov Override) (ProbeResult, error) {
	parser, err := clients.NewParser(ov.Parser, ov.Expr)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	body, err := p.http.GetBody(ctx, ov.URL, nil)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	version, err := parser.Parse(body)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return ProbeResult{Version: normalizeVersion(version)}, nil
}

func (p *Prober) probeRegistry(ctx context.Context, pkg *Package) (ProbeResult, error) {
	project, err := p.pypi.Project(ctx, pkg.Name)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if project == nil {
		return ProbeResult{}, fmt.Errorf("%w: %s not on PyPI", ErrNoUpstreamVersion, pkg.Name)
	}
	return ProbeResult{
		Version: project.Info.Version,
		Files:   project.Releases[project.Info.Version],
	}, nil
}

func (p *Prober) probeCrate(ctx context.Context, pkg *Package) (ProbeResult, error) {
	info, err := p.crates.Crate(ctx, pkg.Name)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if info == nil || info.LatestVersion() == "" {
		return ProbeResult{}, fmt.Errorf("%w: %s not on crates.io", ErrNoUpstreamVersion, pkg.Name)
	}
	version := info.LatestVersion()
	return ProbeResult{Version: version, Tag: "v" + version}, nil
}

func (p *Prober) probeRelease(ctx context.Context, pkg *Package) (ProbeResult, error) {
	owner, repo, err := p.ownerRepo(pkg)
	if err != nil {
		return ProbeResult{}, err
	}

	allowPrerelease := false
	if p.overrides != nil {
		if ov, ok := p.overrides.For(pkg.Name); ok {
			allowPrerelease = ov.AllowPrerelease
		}
	}

	tag, err := p.github.LatestRelease(ctx, owner, repo, allowPrerelease)
	if err != nil {
		if !errors.Is(err, clients.ErrNoReleases) {
			return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
		}
		// Repos that tag versions without publishing releases.
		tags, tagErr := p.github.Tags(ctx, owner, repo)
		if tagErr != nil {
			return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, tagErr)
		}
		tag = version.Latest(tags)
	}
	return ProbeResult{Version: normalizeVersion(tag), Tag: tag}, nil
}

func (p *Prober) probeBranchHead(ctx context.Context, pkg *Package) (ProbeResult, error) {
	owner, repo, err := p.ownerRepo(pkg)
	if err != nil {
		return ProbeResult{}, err
	}

	rev, err := p.github.DefaultBranchHead(ctx, owner, repo)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	// Branch-tracking packages version as unstable-<date>; others keep
	// their version attribute and only move the pinned revision.
	version := pkg.CurrentVersion
	if strings.HasPrefix(version, "unstable-") || version == "" {
		version = "unstable-" + p.nowFunc().UTC().Format("2006-01-02")
	}
	return ProbeResult{Version: version, Rev: rev}, nil
}

// ownerRepo derives the GitHub owner and repo from the fetcher block, then
// from the homepage.
func (p *Prober) ownerRepo(pkg *Package) (string, string, error) {
	if owner, repo, ok := pkg.Doc.OwnerRepo(); ok {
		return owner, repo, nil
	}
	if pkg.Homepage != "" {
		if owner, repo, err := clients.ParseRepoURL(pkg.Homepage); err == nil {
			return owner, repo, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrNoRepo, pkg.Name)
}

// normalizeVersion strips the conventional v prefix from tags.
func normalizeVersion(tag string) string {
	return strings.TrimPrefix(tag, "v")
}
