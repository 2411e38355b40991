package updater

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nixbump/nixbump/internal/common/logger"
	"github.com/nixbump/nixbump/internal/nixfile"
)

// Finder discovers package definitions under one or more root directories.
type Finder struct {
	// Roots are the directories walked for .nix files
	Roots []string
	// Exclude lists package names never returned
	Exclude []string
}

// NewFinder creates a Finder over the given roots.
func NewFinder(roots []string, exclude []string) *Finder {
	return &Finder{
		Roots:   roots,
		Exclude: exclude,
	}
}

// FindAll walks the roots and returns every definition that has a pname
// binding and a recognizable update strategy, sorted by name. Unreadable or
// unclassifiable files are logged and skipped.
func (f *Finder) FindAll() ([]*Package, error) {
	var packages []*Package
	seen := make(map[string]bool)

	for _, root := range f.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".nix") {
				return nil
			}

			pkg, ok := f.loadPackage(path)
			if !ok {
				return nil
			}
			if seen[pkg.Name] {
				logger.Warn("duplicate package %s at %s, keeping first", pkg.Name, path)
				return nil
			}
			seen[pkg.Name] = true
			packages = append(packages, pkg)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})
	return packages, nil
}

// Find restricts FindAll to the named packages. Names are matched against
// pname values; "all" (or an empty list) selects everything.
func (f *Finder) Find(names []string) ([]*Package, error) {
	all, err := f.FindAll()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 || (len(names) == 1 && names[0] == "all") {
		return all, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var selected []*Package
	for _, pkg := range all {
		if want[pkg.Name] {
			selected = append(selected, pkg)
		}
	}
	return selected, nil
}

// loadPackage parses a candidate file and classifies it. Files without a
// pname binding are not package definitions and are skipped silently; parse
// and classification problems are logged.
func (f *Finder) loadPackage(path string) (*Package, bool) {
	doc, err := nixfile.Load(path)
	if err != nil {
		logger.Warn("skipping %s: %v", path, err)
		return nil, false
	}

	name, ok := doc.Get("pname")
	if !ok || name == "" {
		return nil, false
	}
	if f.excluded(name) {
		logger.Debug("excluding %s per configuration", name)
		return nil, false
	}

	kind, ok := detectKind(doc)
	if !ok {
		logger.Warn("skipping %s: %v", name, ErrNoKind)
		return nil, false
	}

	pkg := &Package{
		Name: name,
		Path: path,
		Kind: kind,
		Doc:  doc,
	}
	if v, ok := doc.Get("version"); ok {
		pkg.CurrentVersion = v
	}
	if hp, ok := doc.Get("homepage"); ok {
		pkg.Homepage = hp
	}
	pkg.Platforms = doc.Platforms()
	return pkg, true
}

func (f *Finder) excluded(name string) bool {
	for _, e := range f.Exclude {
		if e == name {
			return true
		}
	}
	return false
}

// detectKind infers the update strategy from the fetchers and URLs a
// definition uses.
func detectKind(doc *nixfile.Document) (Kind, bool) {
	if doc.ContainsCall("fetchPypi") {
		return KindRegistry, true
	}
	if doc.ContainsCall("rustPlatform.buildRustPackage") || doc.Has("cargoHash") {
		return KindSource, true
	}

	if url, ok := doc.Get("url"); ok && strings.Contains(url, "releases/download") {
		return KindRelease, true
	}
	if len(doc.Platforms()) > 0 {
		return KindRelease, true
	}

	if doc.ContainsCall("fetchFromGitHub") || doc.ContainsCall("fetchgit") {
		if rev, ok := doc.Get("rev"); ok {
			if looksLikeCommit(rev) {
				return KindVCS, true
			}
			return KindRelease, true
		}
		return KindVCS, true
	}

	if hp, ok := doc.Get("homepage"); ok && strings.Contains(hp, "github.com") {
		return KindRelease, true
	}
	return 0, false
}

// looksLikeCommit reports whether a rev value is a full commit hash rather
// than a tag reference.
func looksLikeCommit(rev string) bool {
	if len(rev) != 40 {
		return false
	}
	for i := 0; i < len(rev); i++ {
		c := rev[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
