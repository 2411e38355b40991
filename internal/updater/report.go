package updater

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/nixbump/nixbump/internal/common/output"
)

// PrintReport prints the per-package result table and the failure summary.
// It returns the number of failed packages. When every package succeeded the
// build log directory is removed.
func PrintReport(pkgs []*Package, logDir string) int {
	sorted := make([]*Package, len(pkgs))
	copy(sorted, pkgs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tSTATUS\tVERSION")
	for _, pkg := range sorted {
		r := pkg.Result()
		if r == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			output.FormatPackage(pkg.Name, pkg.Homepage),
			output.FormatStatus(r.Status.String()),
			versionColumn(r))
	}
	w.Flush()

	var failed []*Package
	for _, pkg := range sorted {
		if r := pkg.Result(); r != nil && r.Status == StatusFailed {
			failed = append(failed, pkg)
		}
	}

	if len(failed) == 0 {
		// Logs from this run are only interesting when something broke.
		if logDir != "" {
			os.RemoveAll(logDir)
		}
		return 0
	}

	fmt.Println()
	output.PrintError("%d package(s) failed:", len(failed))
	for _, pkg := range failed {
		r := pkg.Result()
		line := fmt.Sprintf("  %s: %s", pkg.Name, r.Reason)
		if r.Err != nil {
			line += fmt.Sprintf(" (%v)", r.Err)
		}
		fmt.Println(line)
		if r.LogPath != "" {
			output.Printf(output.Dim, "    log: %s\n", r.LogPath)
		}
	}
	return len(failed)
}

// versionColumn renders the version transition for the report table.
func versionColumn(r *Result) string {
	switch {
	case r.Status == StatusUpdated && r.OldVersion != r.NewVersion:
		s := fmt.Sprintf("%s -> %s", r.OldVersion, r.NewVersion)
		if r.Reason == "dry-run" {
			s += " (dry-run)"
		}
		return s
	case r.Status == StatusUpdated:
		return r.NewVersion
	case r.Status == StatusUpToDate:
		return r.OldVersion
	case r.Reason != "":
		return r.Reason
	default:
		return ""
	}
}
