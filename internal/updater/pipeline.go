package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nixbump/nixbump/internal/clients"
	"github.com/nixbump/nixbump/internal/common/logger"
	"github.com/nixbump/nixbump/internal/nixcmd"
	"github.com/nixbump/nixbump/internal/nixfile"
	"github.com/nixbump/nixbump/internal/version"
)

// Error variables for pipeline errors
var (
	// ErrNoSourceFile is returned when upstream has no artifact for a
	// platform
	ErrNoSourceFile = errors.New("no matching upstream artifact")
)

// Options control a pipeline run.
type Options struct {
	// Force updates packages even when upstream matches the current version
	Force bool
	// DryRun probes and plans but never writes, builds, or pushes
	DryRun bool
	// BuildOnly skips probing and editing and only rebuilds
	BuildOnly bool
	// SkipBuild applies and flushes edits without build verification; the
	// package finishes as skipped
	SkipBuild bool
	// CachixCache, when set, is the binary cache pushed to after a
	// successful build
	CachixCache string
	// LogDir is where per-package build logs are written
	LogDir string
	// Jobs is the worker pool size
	Jobs int
	// BuildTimeout bounds one package build; zero means no limit
	BuildTimeout time.Duration
}

// Pipeline runs the probe, edit, build, and publish steps for packages.
type Pipeline struct {
	prober *Prober
	exec   nixcmd.Executor
	opts   Options
}

// NewPipeline creates a Pipeline.
func NewPipeline(prober *Prober, exec nixcmd.Executor, opts Options) *Pipeline {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.LogDir == "" {
		opts.LogDir = filepath.Join(exec.WorkDir(), "build-results")
	}
	return &Pipeline{
		prober: prober,
		exec:   exec,
		opts:   opts,
	}
}

// Run processes packages through a fixed worker pool. Cancelling ctx stops
// dispatching new packages; packages already in flight run to completion.
// Undispatched packages are marked skipped.
func (pl *Pipeline) Run(ctx context.Context, pkgs []*Package) {
	queue := make(chan *Package)

	var wg sync.WaitGroup
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < pl.opts.Jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pkg := range queue {
				pl.UpdatePackage(workCtx, pkg)
			}
		}()
	}

dispatch:
	for _, pkg := range pkgs {
		select {
		case queue <- pkg:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(queue)
	wg.Wait()

	for _, pkg := range pkgs {
		if pkg.Result() == nil {
			pkg.Finish(Result{Status: StatusSkipped, Reason: "interrupted"})
		}
	}
}

// UpdatePackage runs the full pipeline for one package and records its
// terminal result.
func (pl *Pipeline) UpdatePackage(ctx context.Context, pkg *Package) {
	if pl.opts.BuildOnly {
		pl.verifyBuild(ctx, pkg, Result{
			Status:     StatusUpdated,
			OldVersion: pkg.CurrentVersion,
			NewVersion: pkg.CurrentVersion,
			Reason:     "rebuild",
		})
		return
	}

	probe, err := pl.prober.Probe(ctx, pkg, pl.opts.Force)
	if err != nil {
		pkg.Fail("probe failed", err)
		return
	}

	if !pl.opts.Force {
		reason := ""
		if probe.FromCache {
			reason = "cached"
		}
		// A pinned revision decides for packages that carry one; everything
		// else compares versions, whether or not the probe found a commit.
		if rev, ok := pkg.Doc.Get("rev"); ok && probe.Rev != "" {
			if rev == probe.Rev {
				pkg.Finish(Result{Status: StatusUpToDate, OldVersion: pkg.CurrentVersion, Reason: reason})
				return
			}
		} else if probe.Version == pkg.CurrentVersion {
			pkg.Finish(Result{Status: StatusUpToDate, OldVersion: pkg.CurrentVersion, Reason: reason})
			return
		}
		if pkg.CurrentVersion != "" && probe.Rev == "" &&
			!version.IsNewer(probe.Version, pkg.CurrentVersion) {
			pkg.Finish(Result{
				Status: StatusSkipped,
				Reason: fmt.Sprintf("upstream %s is not newer than %s", probe.Version, pkg.CurrentVersion),
			})
			return
		}
	}

	if pl.opts.DryRun {
		pkg.Finish(Result{
			Status:     StatusUpdated,
			OldVersion: pkg.CurrentVersion,
			NewVersion: probe.Version,
			Reason:     "dry-run",
		})
		return
	}

	changed, err := pl.applyUpdate(ctx, pkg, probe)
	if err != nil {
		pkg.Fail("update failed", err)
		return
	}
	if !changed {
		pkg.Finish(Result{
			Status: StatusSkipped,
			Reason: "all edit targets are interpolated",
		})
		return
	}

	if err := pkg.Doc.Flush(); err != nil {
		pkg.Fail("write failed", err)
		return
	}

	if pkg.Kind == KindSource && pkg.Doc.Has("cargoHash") && !pkg.Doc.IsDynamic("cargoHash") && !pl.opts.SkipBuild {
		if err := pl.refreshVendorHash(ctx, pkg); err != nil {
			pkg.Fail("vendor hash refresh failed", err)
			return
		}
	}

	pl.verifyBuild(ctx, pkg, Result{
		Status:     StatusUpdated,
		OldVersion: pkg.CurrentVersion,
		NewVersion: probe.Version,
	})
}

// applyUpdate computes and applies all edits for a package in memory.
// Interpolated targets are skipped without failing; a missing binding or a
// broken splice aborts before anything is written. Returns whether any byte
// changed.
func (pl *Pipeline) applyUpdate(ctx context.Context, pkg *Package, probe ProbeResult) (bool, error) {
	changed := false

	set := func(attr, value string) error {
		err := pkg.Doc.Set(attr, value)
		switch {
		case err == nil:
			changed = true
			return nil
		case errors.Is(err, nixfile.ErrDynamicValue):
			logger.ForPackage(pkg.Name).Debug("%s is interpolated, leaving as is", attr)
			return nil
		default:
			return fmt.Errorf("setting %s: %w", attr, err)
		}
	}

	if pkg.Doc.Has("version") {
		if err := set("version", probe.Version); err != nil {
			return false, err
		}
	}

	if len(pkg.Platforms) > 0 {
		if err := pl.updatePlatforms(ctx, pkg, probe, set); err != nil {
			return false, err
		}
		return changed, nil
	}
	if err := pl.updateSingleSource(ctx, pkg, probe, set); err != nil {
		return false, err
	}
	return changed, nil
}

// updatePlatforms refreshes the hash of every row in the platform matrix.
func (pl *Pipeline) updatePlatforms(ctx context.Context, pkg *Package, probe ProbeResult, set func(string, string) error) error {
	for _, entry := range pkg.Platforms {
		url, err := pl.platformURL(ctx, pkg, probe, entry)
		if err != nil {
			return err
		}

		fetched, err := pl.exec.PrefetchFile(ctx, url)
		if err != nil {
			return err
		}
		if err := set(entry.HashPath, fetched.Hash); err != nil {
			return err
		}
	}
	return nil
}

// platformURL builds the download URL of one platform artifact for the new
// version.
func (pl *Pipeline) platformURL(ctx context.Context, pkg *Package, probe ProbeResult, entry nixfile.PlatformEntry) (string, error) {
	switch pkg.Kind {
	case KindRegistry:
		files := probe.Files
		if files == nil {
			project, err := pl.prober.pypi.Project(ctx, pkg.Name)
			if err != nil {
				return "", err
			}
			if project == nil {
				return "", fmt.Errorf("%w: %s", ErrNoUpstreamVersion, pkg.Name)
			}
			files = project.Releases[probe.Version]
		}
		file, ok := clients.FileForPlatform(files, entry.Platform)
		if !ok {
			return "", fmt.Errorf("%w: %s for %s", ErrNoSourceFile, entry.ID, pkg.Name)
		}
		return file.URL, nil
	default:
		owner, repo, err := pl.prober.ownerRepo(pkg)
		if err != nil {
			return "", err
		}
		filename := renderTemplate(entry.Filename, probe.Version)
		return clients.ReleaseDownloadURL(owner, repo, probe.Tag, filename), nil
	}
}

// updateSingleSource refreshes the hash (and rev, for git sources) of a
// package with one source fetch.
func (pl *Pipeline) updateSingleSource(ctx context.Context, pkg *Package, probe ProbeResult, set func(string, string) error) error {
	doc := pkg.Doc

	// Git-backed sources go through nurl so the hash matches the fetcher.
	if doc.ContainsCall("fetchFromGitHub") || doc.ContainsCall("fetchgit") {
		owner, repo, err := pl.prober.ownerRepo(pkg)
		if err != nil {
			return err
		}
		ref := probe.Rev
		if ref == "" {
			ref = probe.Tag
		}

		fetched, err := pl.exec.FetchGit(ctx, "https://github.com/"+owner+"/"+repo, ref)
		if err != nil {
			return err
		}
		if doc.Has("rev") {
			if err := set("rev", fetched.Rev); err != nil {
				return err
			}
		}
		return set(hashAttr(doc), fetched.Hash)
	}

	url, err := pl.sourceURL(ctx, pkg, probe)
	if err != nil {
		return err
	}
	fetched, err := pl.exec.PrefetchFile(ctx, url)
	if err != nil {
		return err
	}
	return set(hashAttr(doc), fetched.Hash)
}

// sourceURL builds the URL of the single source artifact for the new
// version.
func (pl *Pipeline) sourceURL(ctx context.Context, pkg *Package, probe ProbeResult) (string, error) {
	switch pkg.Kind {
	case KindRegistry:
		files := probe.Files
		if files == nil {
			project, err := pl.prober.pypi.Project(ctx, pkg.Name)
			if err != nil {
				return "", err
			}
			if project == nil {
				return "", fmt.Errorf("%w: %s", ErrNoUpstreamVersion, pkg.Name)
			}
			files = project.Releases[probe.Version]
		}
		for _, f := range files {
			if strings.HasSuffix(f.Filename, ".tar.gz") {
				return f.URL, nil
			}
		}
		return "", fmt.Errorf("%w: sdist for %s", ErrNoSourceFile, pkg.Name)
	case KindSource:
		return fmt.Sprintf("https://crates.io/api/v1/crates/%s/%s/download", pkg.Name, probe.Version), nil
	default:
		owner, repo, err := pl.prober.ownerRepo(pkg)
		if err != nil {
			return "", err
		}
		return clients.TagArchiveURL(owner, repo, probe.Tag), nil
	}
}

// vendorHashMismatch extracts the expected hash nix prints when the recorded
// hash of a fixed-output derivation no longer matches.
var vendorHashMismatch = regexp.MustCompile(`got:\s+(sha256-[A-Za-z0-9+/=]+)`)

// refreshVendorHash recomputes cargoHash after a source bump. The first build
// is expected to fail with a hash mismatch; the hash nix reports is written
// back, and the verification build then runs against it. A failure without a
// mismatch in the log is left for build verification to report.
func (pl *Pipeline) refreshVendorHash(ctx context.Context, pkg *Package) error {
	result, err := pl.exec.Build(ctx, pkg.Name)
	if err != nil {
		return err
	}
	if result.Success {
		return nil
	}

	m := vendorHashMismatch.FindStringSubmatch(result.Log)
	if m == nil {
		return nil
	}
	logger.ForPackage(pkg.Name).Debug("refreshing cargoHash to %s", m[1])
	if err := pkg.Doc.Set("cargoHash", m[1]); err != nil {
		return fmt.Errorf("setting cargoHash: %w", err)
	}
	return pkg.Doc.Flush()
}

// verifyBuild runs the build and optional cachix push, then finishes the
// package. Build failures leave the updated definition in place so the log
// can be inspected against it. In build-skip mode the flushed patch stands
// and the package reports skipped.
func (pl *Pipeline) verifyBuild(ctx context.Context, pkg *Package, onSuccess Result) {
	if pl.opts.SkipBuild {
		onSuccess.Status = StatusSkipped
		onSuccess.Reason = "build skipped"
		pkg.Finish(onSuccess)
		return
	}

	if pl.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pl.opts.BuildTimeout)
		defer cancel()
	}

	result, err := pl.exec.Build(ctx, pkg.Name)
	if err != nil {
		pkg.Fail("build error", err)
		return
	}

	logPath, logErr := pl.writeBuildLog(pkg.Name, result.Log)
	if logErr != nil {
		logger.ForPackage(pkg.Name).Warn("failed to write build log: %v", logErr)
	}

	if !result.Success {
		pkg.Finish(Result{
			Status:  StatusFailed,
			Reason:  "build failed",
			LogPath: logPath,
		})
		return
	}

	if pl.opts.CachixCache != "" {
		pl.pushToCache(ctx, pkg)
	}

	onSuccess.LogPath = logPath
	pkg.Finish(onSuccess)
}

// pushToCache pushes the package's store paths to the configured cachix
// cache. Failures are warnings only.
func (pl *Pipeline) pushToCache(ctx context.Context, pkg *Package) {
	plog := logger.ForPackage(pkg.Name)
	paths, err := pl.exec.PathInfo(ctx, pkg.Name)
	if err != nil {
		plog.Warn("cachix push skipped: %v", err)
		return
	}
	if _, err := pl.exec.CachixPush(ctx, pl.opts.CachixCache, paths); err != nil {
		plog.Warn("cachix push failed: %v", err)
	}
}

// writeBuildLog stores the verbatim build output, overwriting any log from
// a previous run.
func (pl *Pipeline) writeBuildLog(name, log string) (string, error) {
	if err := os.MkdirAll(pl.opts.LogDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(pl.opts.LogDir, name+".log")
	if err := os.WriteFile(path, []byte(log), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// hashAttr picks the editable hash binding of a single-source definition.
func hashAttr(doc *nixfile.Document) string {
	for _, attr := range []string{"hash", "sha256"} {
		if doc.Has(attr) {
			return attr
		}
	}
	// Set on a missing attribute reports ErrAttrNotFound with the name.
	return "hash"
}

// renderTemplate substitutes ${version} placeholders in an interpolated
// filename template.
func renderTemplate(tmpl, version string) string {
	return strings.ReplaceAll(tmpl, "${version}", version)
}
