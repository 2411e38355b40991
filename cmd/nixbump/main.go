package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nixbump/nixbump/internal/clients"
	"github.com/nixbump/nixbump/internal/common/config"
	"github.com/nixbump/nixbump/internal/common/logger"
	"github.com/nixbump/nixbump/internal/common/output"
	"github.com/nixbump/nixbump/internal/nixcmd"
	"github.com/nixbump/nixbump/internal/updater"
	"github.com/spf13/cobra"
)

var (
	// flagPackages selects packages by pname, comma separated; "all" is
	// everything
	flagPackages string
	// flagType restricts the run to one update strategy
	flagType string
	// flagNoUpdate rebuilds without probing or editing
	flagNoUpdate bool
	// flagForce updates and rebuilds even when upstream matches
	flagForce bool
	// flagDryRun probes and reports without writing
	flagDryRun bool
	// flagSkipBuild flushes edits without build verification
	flagSkipBuild bool
	// flagCache enables pushing successful builds to cachix
	flagCache bool
	// flagJobs overrides the configured worker pool size
	flagJobs int

	verbose bool
	quiet   bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "nixbump",
	Short: "Update Nix package definitions from their upstream sources",
	Long: `nixbump scans a flake repository for package definitions, checks each
package's upstream source for a newer version, rewrites the version, hash,
and revision attributes in place, and verifies the result with a build.

Examples:
  nixbump                          Update every package
  nixbump --packages foo,bar       Update only foo and bar
  nixbump --type release           Update only GitHub release packages
  nixbump --dry-run                Show what would change
  nixbump --no-update --force      Rebuild everything without updating
  nixbump --cache                  Push successful builds to cachix`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetVerbose(true)
		}
		if quiet {
			logger.SetQuiet(true)
		}
		if noColor {
			output.NoColor()
		}
	},
	RunE: runUpdate,
}

func init() {
	rootCmd.Flags().StringVar(&flagPackages, "packages", "all", "Comma-separated package names to process")
	rootCmd.Flags().StringVar(&flagType, "type", "", "Only process packages of one type (registry|release|source|vcs)")
	rootCmd.Flags().BoolVar(&flagNoUpdate, "no-update", false, "Skip probing and editing, only rebuild")
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "Update even when upstream matches the current version")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report planned updates without writing anything")
	rootCmd.Flags().BoolVar(&flagSkipBuild, "skip-build", false, "Write updates without verifying they build")
	rootCmd.Flags().BoolVar(&flagCache, "cache", false, "Push successful builds to the configured cachix cache")
	rootCmd.Flags().IntVar(&flagJobs, "jobs", 0, "Number of packages processed in parallel")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flakeRoot, err := cfg.FlakeRoot()
	if err != nil {
		return err
	}

	pkgs, err := discoverPackages(cfg, flakeRoot)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		output.PrintWarning("no packages matched")
		return nil
	}

	pipeline, logDir, err := buildPipeline(cfg, flakeRoot)
	if err != nil {
		return err
	}

	// SIGINT stops dispatching new packages; in-flight ones finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline.Run(ctx, pkgs)

	if failed := updater.PrintReport(pkgs, logDir); failed > 0 {
		os.Exit(1)
	}
	return nil
}

// discoverPackages finds and filters the packages this run operates on.
func discoverPackages(cfg *config.Config, flakeRoot string) ([]*updater.Package, error) {
	finder := updater.NewFinder(cfg.PackageRoots(flakeRoot), cfg.Update.Exclude)

	var names []string
	if flagPackages != "" && flagPackages != "all" {
		names = strings.Split(flagPackages, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
	}

	pkgs, err := finder.Find(names)
	if err != nil {
		return nil, fmt.Errorf("discovering packages: %w", err)
	}

	if flagType != "" {
		kind, err := updater.ParseKind(flagType)
		if err != nil {
			return nil, err
		}
		var filtered []*updater.Package
		for _, pkg := range pkgs {
			if pkg.Kind == kind {
				filtered = append(filtered, pkg)
			}
		}
		pkgs = filtered
	}
	return pkgs, nil
}

// buildPipeline wires the shared HTTP client, probe cache, overrides, and
// command runner into a pipeline.
func buildPipeline(cfg *config.Config, flakeRoot string) (*updater.Pipeline, string, error) {
	overrides, err := updater.LoadOverrides(flakeRoot)
	if err != nil {
		return nil, "", err
	}

	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, "", err
	}
	cache, err := updater.NewCache(cacheDir)
	if err != nil {
		logger.Warn("probe cache disabled: %v", err)
		cache = nil
	}

	httpClient := clients.NewRetryableHTTPClient()
	prober := updater.NewProber(httpClient, cfg.GitHub.Token, cache, overrides)

	cachixCache := ""
	if flagCache {
		cachixCache = cfg.Cachix.Cache
		if cachixCache == "" {
			return nil, "", fmt.Errorf("--cache requires cachix.cache in the config")
		}
	}

	jobs := flagJobs
	if jobs <= 0 {
		jobs = cfg.Update.Jobs
	}

	logDir := filepath.Join(flakeRoot, "build-results")
	opts := updater.Options{
		Force:        flagForce,
		DryRun:       flagDryRun,
		BuildOnly:    flagNoUpdate,
		SkipBuild:    flagSkipBuild,
		CachixCache:  cachixCache,
		Jobs:         jobs,
		LogDir:       logDir,
		BuildTimeout: cfg.BuildTimeout(),
	}
	pipeline := updater.NewPipeline(prober, nixcmd.NewCommandRunner(flakeRoot), opts)
	return pipeline, logDir, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
