package updater

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nixbump/nixbump/internal/nixfile"
)

func mustDoc(t *testing.T, src string) *nixfile.Document {
	t.Helper()
	doc, err := nixfile.Parse("test.nix", []byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return doc
}

func TestProbeRegistry(t *testing.T) {
	prober := newGitHubProber(t, map[string]string{
		"/pypi/mypkg/json": `{
			"info": {"version": "4.1.0"},
			"releases": {"4.1.0": [{"filename": "mypkg-4.1.0.tar.gz", "url": "https://files.pythonhosted.org/mypkg-4.1.0.tar.gz"}]}
		}`,
	})

	pkg := &Package{Name: "mypkg", Kind: KindRegistry}
	result, err := prober.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Version != "4.1.0" {
		t.Errorf("Version = %q", result.Version)
	}
	if len(result.Files) != 1 {
		t.Errorf("Files = %v, want the release artifacts", result.Files)
	}
}

func TestProbeRegistryMissing(t *testing.T) {
	prober := newGitHubProber(t, nil)

	pkg := &Package{Name: "ghost", Kind: KindRegistry}
	_, err := prober.Probe(context.Background(), pkg, false)
	if !errors.Is(err, ErrNoUpstreamVersion) {
		t.Errorf("Probe() error = %v, want ErrNoUpstreamVersion", err)
	}
}

func TestProbeCrate(t *testing.T) {
	prober := newGitHubProber(t, map[string]string{
		"/api/v1/crates/mycrate": `{"crate": {"max_stable_version": "0.9.2", "max_version": "1.0.0-rc.1"}}`,
	})

	pkg := &Package{Name: "mycrate", Kind: KindSource}
	result, err := prober.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Version != "0.9.2" {
		t.Errorf("Version = %q, want stable version", result.Version)
	}
	if result.Tag != "v0.9.2" {
		t.Errorf("Tag = %q", result.Tag)
	}
}

func TestProbeBranchHead(t *testing.T) {
	prober := newGitHubProber(t, map[string]string{
		"/repos/acme/nightly/git/ref/heads/main": `{"object": {"sha": "0123456789abcdef0123456789abcdef01234567"}}`,
	})
	prober.nowFunc = func() time.Time {
		return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	}

	doc := mustDoc(t, `{
  pname = "nightly";
  version = "unstable-2026-01-01";
  homepage = "https://github.com/acme/nightly";
}
`)
	pkg := &Package{
		Name:           "nightly",
		Kind:           KindVCS,
		CurrentVersion: "unstable-2026-01-01",
		Homepage:       "https://github.com/acme/nightly",
		Doc:            doc,
	}

	result, err := prober.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Rev != "0123456789abcdef0123456789abcdef01234567" {
		t.Errorf("Rev = %q", result.Rev)
	}
	if result.Version != "unstable-2026-08-25" {
		t.Errorf("Version = %q, want date-stamped unstable version", result.Version)
	}
}

func TestProbeCustomOverride(t *testing.T) {
	prober := newGitHubProber(t, map[string]string{
		"/downloads": `<html><span id="ver">release v5.5.0</span></html>`,
	})
	server := prober.github.BaseURL
	prober.overrides = &Overrides{Packages: map[string]Override{
		"custom-tool": {
			URL:    server + "/downloads",
			Parser: "regex",
			Expr:   `release v(\d+\.\d+\.\d+)`,
		},
	}}

	pkg := &Package{Name: "custom-tool", Kind: KindRelease}
	result, err := prober.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Version != "5.5.0" {
		t.Errorf("Version = %q", result.Version)
	}
}

func TestProbeReleaseAllowsPrerelease(t *testing.T) {
	fixtures := map[string]string{
		"/repos/acme/edgy/releases": `[
			{"tag_name": "v2.0.0-rc.1", "prerelease": true, "draft": false},
			{"tag_name": "v1.9.0", "prerelease": false, "draft": false}
		]`,
	}
	doc := mustDoc(t, `{
  pname = "edgy";
  homepage = "https://github.com/acme/edgy";
}
`)
	pkg := &Package{Name: "edgy", Kind: KindRelease, Homepage: "https://github.com/acme/edgy", Doc: doc}

	stable := newGitHubProber(t, fixtures)
	result, err := stable.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Version != "1.9.0" {
		t.Errorf("Version = %q, want the stable release by default", result.Version)
	}

	pre := newGitHubProber(t, fixtures)
	pre.overrides = &Overrides{Packages: map[string]Override{
		"edgy": {AllowPrerelease: true},
	}}
	result, err = pre.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Version != "2.0.0-rc.1" {
		t.Errorf("Version = %q, want the prerelease when allowed", result.Version)
	}
}

func TestProbeUsesCache(t *testing.T) {
	prober := newGitHubProber(t, map[string]string{
		"/pypi/cached/json": `{"info": {"version": "1.0.0"}, "releases": {}}`,
	})

	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	prober.cache = cache

	pkg := &Package{Name: "cached", Kind: KindRegistry}

	first, err := prober.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("first Probe() error = %v", err)
	}
	if first.FromCache {
		t.Error("first probe must hit upstream")
	}

	second, err := prober.Probe(context.Background(), pkg, false)
	if err != nil {
		t.Fatalf("second Probe() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second probe should come from cache")
	}
	if second.Version != "1.0.0" {
		t.Errorf("cached Version = %q", second.Version)
	}

	forced, err := prober.Probe(context.Background(), pkg, true)
	if err != nil {
		t.Fatalf("forced Probe() error = %v", err)
	}
	if forced.FromCache {
		t.Error("force must bypass the cache")
	}
}

func TestOwnerRepoFallsBackToHomepage(t *testing.T) {
	prober := newGitHubProber(t, nil)

	doc := mustDoc(t, `{
  pname = "x";
  homepage = "https://gitlab.com/acme/x";
}
`)
	pkg := &Package{Name: "x", Doc: doc, Homepage: "https://gitlab.com/acme/x"}
	if _, _, err := prober.ownerRepo(pkg); !errors.Is(err, ErrNoRepo) {
		t.Errorf("ownerRepo() error = %v, want ErrNoRepo for non-GitHub homepage", err)
	}
}

func TestNormalizeVersion(t *testing.T) {
	if got := normalizeVersion("v1.2.3"); got != "1.2.3" {
		t.Errorf("normalizeVersion(v1.2.3) = %q", got)
	}
	if got := normalizeVersion("1.2.3"); got != "1.2.3" {
		t.Errorf("normalizeVersion(1.2.3) = %q", got)
	}
}
