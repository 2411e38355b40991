package nixfile

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Error variables for edit errors
var (
	// ErrAttrNotFound is returned when the targeted attribute path does not exist
	ErrAttrNotFound = errors.New("attribute not found")
	// ErrDynamicValue is returned when the targeted value is not a plain string literal
	ErrDynamicValue = errors.New("value is not a plain string literal")
	// ErrReparse is returned when the buffer fails to re-parse after a splice
	ErrReparse = errors.New("document failed to re-parse after edit")
)

// Document is the lossless in-memory form of one .nix file. The buffer is
// authoritative; the binding index is rebuilt from it after every edit so the
// two are never observably out of sync. A Document is owned by exactly one
// package for the duration of a run and is not safe for concurrent use.
type Document struct {
	path  string
	buf   []byte
	binds []binding
	calls map[string]struct{}
}

// Parse builds a Document from source bytes. The path is retained for Flush.
func Parse(path string, src []byte) (*Document, error) {
	binds, calls, err := scan(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &Document{path: path, buf: src, binds: binds, calls: calls}, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(path, src)
}

// Path returns the on-disk location of the document.
func (d *Document) Path() string {
	return d.path
}

// Bytes returns the current buffer. Callers must not modify it.
func (d *Document) Bytes() []byte {
	return d.buf
}

// find resolves an attribute path against the index. An exact dotted match
// wins; a single-segment path additionally matches the first binding whose
// final segment equals it, so `hash` finds the fetcher hash regardless of how
// deeply the fetch call nests.
func (d *Document) find(path string) *binding {
	for i := range d.binds {
		if d.binds[i].path == path {
			return &d.binds[i]
		}
	}
	if !strings.Contains(path, ".") {
		for i := range d.binds {
			if p := d.binds[i].path; p == path || strings.HasSuffix(p, "."+path) {
				return &d.binds[i]
			}
		}
	}
	return nil
}

// Has reports whether the attribute path exists in the document.
func (d *Document) Has(path string) bool {
	return d.find(path) != nil
}

// Get returns the value at the attribute path. String literals are returned
// decoded; interpolated strings are returned as their raw inner text (with
// ${...} intact); identifier references return the identifier. Compound
// expressions report absent.
func (d *Document) Get(path string) (string, bool) {
	b := d.find(path)
	if b == nil || b.kind == kindOther {
		return "", false
	}
	return b.value, true
}

// IsDynamic reports whether the value at path is a string containing
// interpolation.
func (d *Document) IsDynamic(path string) bool {
	b := d.find(path)
	return b != nil && b.kind == kindString && b.dynamic
}

// Set replaces the string literal at the attribute path with newValue. Only
// plain, non-interpolated string literals are editable; anything else returns
// ErrDynamicValue so computed expressions are never corrupted. The splice is
// followed by a full re-scan; if that fails the previous buffer is kept and
// ErrReparse is returned.
func (d *Document) Set(path, newValue string) error {
	b := d.find(path)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrAttrNotFound, path)
	}
	if b.kind != kindString || b.dynamic {
		return fmt.Errorf("%w: %s", ErrDynamicValue, path)
	}

	lit := quote(newValue)
	next := make([]byte, 0, len(d.buf)-(b.valEnd-b.valStart)+len(lit))
	next = append(next, d.buf[:b.valStart]...)
	next = append(next, lit...)
	next = append(next, d.buf[b.valEnd:]...)

	binds, calls, err := scan(next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReparse, err)
	}
	d.buf, d.binds, d.calls = next, binds, calls
	return nil
}

// Flush writes the buffer back to the document's path.
func (d *Document) Flush() error {
	if err := os.WriteFile(d.path, d.buf, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	return nil
}

// ContainsCall reports whether the document applies the named function
// (e.g. "fetchPypi", "rustPlatform.buildRustPackage").
func (d *Document) ContainsCall(name string) bool {
	_, ok := d.calls[name]
	return ok
}

// OwnerRepo extracts the owner and repo attributes of a fetchFromGitHub
// block. A `repo = pname;` reference is resolved through the pname binding.
func (d *Document) OwnerRepo() (owner, repo string, ok bool) {
	owner, okOwner := d.Get("owner")
	repo, okRepo := d.Get("repo")
	if !okOwner || !okRepo {
		return "", "", false
	}
	if b := d.find("repo"); b != nil && b.kind == kindIdent && repo == "pname" {
		if pname, okName := d.Get("pname"); okName {
			repo = pname
		}
	}
	return owner, repo, true
}

// quote encodes s as a Nix double-quoted string literal.
func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '$' && i+1 < len(s) && s[i+1] == '{':
			sb.WriteString("\\$")
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
