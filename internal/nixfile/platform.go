package nixfile

import "strings"

// Matrix attribute names recognized at the top of a platform table.
var matrixAttrs = []string{"platformData", "dists"}

// PlatformEntry is one row of a per-platform artifact table.
type PlatformEntry struct {
	// ID is the platform identifier used as the table key (e.g. "x86_64-linux")
	ID string
	// Filename is the artifact filename, possibly containing a ${version} placeholder
	Filename string
	// Platform is the upstream platform tag used to match registry release files
	Platform string
	// Hash is the current content hash for this platform's artifact
	Hash string
	// HashPath is the dotted attribute path of the hash, for targeted edits
	HashPath string
}

// Platforms extracts the per-platform matrix from the document. Both
// recognized shapes (a `platformData` table and a `dists` table) normalize to
// the same entries, ordered by document declaration order. A document without
// a matrix yields an empty slice; that is the common case, not an error.
func (d *Document) Platforms() []PlatformEntry {
	var order []string
	entries := make(map[string]*PlatformEntry)

	for _, b := range d.binds {
		segs := strings.Split(b.path, ".")
		if len(segs) != 3 || !isMatrixAttr(segs[0]) {
			continue
		}
		id := segs[1]
		e, ok := entries[id]
		if !ok {
			e = &PlatformEntry{ID: id}
			entries[id] = e
			order = append(order, id)
		}
		switch segs[2] {
		case "filename":
			e.Filename = b.value
		case "platform":
			e.Platform = b.value
		case "hash":
			e.Hash = b.value
			e.HashPath = b.path
		}
	}

	out := make([]PlatformEntry, 0, len(order))
	for _, id := range order {
		e := entries[id]
		if e.HashPath == "" {
			// A row without a hash has nothing to update.
			continue
		}
		out = append(out, *e)
	}
	return out
}

func isMatrixAttr(name string) bool {
	for _, a := range matrixAttrs {
		if name == a {
			return true
		}
	}
	return false
}
