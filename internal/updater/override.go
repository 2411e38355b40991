package updater

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// overridesFile is the repository-relative location of probe overrides.
const overridesFile = ".nixbump/packages.toml"

// Override replaces or tunes the probe for one package.
type Override struct {
	// URL is a custom page or API endpoint to fetch instead of the
	// kind-specific probe
	URL string `toml:"url"`
	// Parser selects how the fetched content is interpreted: json, regex,
	// css, or xpath
	Parser string `toml:"parser"`
	// Expr is the parser's path, pattern, selector, or expression
	Expr string `toml:"expr"`
	// AllowPrerelease makes prerelease versions eligible winners
	AllowPrerelease bool `toml:"allow_prerelease"`
}

// Overrides maps package names to their probe overrides.
type Overrides struct {
	Packages map[string]Override `toml:"packages"`
}

// LoadOverrides reads .nixbump/packages.toml under the flake root. A missing
// file yields an empty set.
func LoadOverrides(root string) (*Overrides, error) {
	path := filepath.Join(root, overridesFile)

	var overrides Overrides
	if _, err := toml.DecodeFile(path, &overrides); err != nil {
		if os.IsNotExist(err) {
			return &Overrides{Packages: map[string]Override{}}, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if overrides.Packages == nil {
		overrides.Packages = map[string]Override{}
	}
	return &overrides, nil
}

// For returns the override for a package, if any.
func (o *Overrides) For(name string) (Override, bool) {
	ov, ok := o.Packages[name]
	return ov, ok
}
