// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Command debootstrap bootstraps a Debian-family package set into an empty
// target directory: stage 1 extracts essential packages directly, stage 2
// runs the target's own installer inside a chroot to unpack and configure
// the rest.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb"
	"github.com/fatih/color"
	"github.com/google/go-debootstrap/internal/cache"
	"github.com/google/go-debootstrap/internal/httpx"
	"github.com/google/go-debootstrap/pkg/apt"
	"github.com/google/go-debootstrap/pkg/bootstrap"
	"github.com/google/go-debootstrap/pkg/chroot"
	"github.com/google/go-debootstrap/pkg/dpkgdb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var cfg = bootstrap.NewConfig()

var (
	componentsCSV string
	packagesCSV   string
	noRequired    bool
	noImportant   bool
	noRecommends  bool
)

var rootCmd = &cobra.Command{
	Use:   "debootstrap SUITE TARGET [MIRROR]",
	Short: "Bootstrap a Debian-family package set into TARGET",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVarP(&cfg.DryRun, "dry-run", "n", false, "resolve and print the package set without installing anything")
	flags.StringVarP(&cfg.Arch, "arch", "a", "", "target architecture (defaults to the host's)")
	flags.StringVar(&componentsCSV, "components", "main", "comma-separated archive components")
	flags.StringVar(&packagesCSV, "packages", "", "comma-separated extra packages to install")
	flags.StringVar(&cfg.Keyring, "keyring", "", "path to a GPG keyring to install into the target")
	flags.BoolVar(&cfg.Required, "required", true, "include Required-priority packages")
	flags.BoolVar(&noRequired, "no-required", false, "exclude Required-priority packages")
	flags.BoolVar(&cfg.Important, "important", true, "include Important-priority packages")
	flags.BoolVar(&noImportant, "no-important", false, "exclude Important-priority packages")
	flags.BoolVar(&cfg.Recommends, "recommends", true, "follow Recommends when resolving dependencies")
	flags.BoolVar(&noRecommends, "no-recommends", false, "exclude Recommends when resolving dependencies")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "prefix log lines with \"debootstrap: \"")
	flags.BoolVar(&cfg.Debug, "debug", false, "include child-process command lines and exit status in error output")
}

func run(cmd *cobra.Command, args []string) error {
	cfg.Suite = args[0]
	cfg.Target = args[1]
	if len(args) == 3 {
		cfg.MirrorURL = args[2]
	}
	cfg.Components = splitCSV(componentsCSV)
	cfg.Packages = splitCSV(packagesCSV)
	if noRequired {
		cfg.Required = false
	}
	if noImportant {
		cfg.Important = false
	}
	if noRecommends {
		cfg.Recommends = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	warn := func(format string, a ...any) {
		fmt.Fprintln(os.Stderr, color.YellowString("warning: "+format, a...))
	}

	client := httpx.NewCachedClient(
		&httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "go-debootstrap"},
		&cache.CoalescingMemoryCache{},
	)
	index := &apt.HTTPIndex{
		Client:     client,
		MirrorURL:  cfg.MirrorURL,
		Suite:      cfg.Suite,
		Components: cfg.Components,
		Arch:       cfg.Arch,
		CacheDir:   filepath.Join(cfg.Target, "var/cache/apt/archives"),
		Target:     cfg.Target,
		Recommends: cfg.Recommends,
	}
	env := &chroot.Env{Target: cfg.Target, Warn: warn}
	db := &dpkgdb.DB{Target: cfg.Target}

	b := bootstrap.New(cfg, index, env, db, nil)
	if cfg.Verbose {
		b.Log.SetPrefix("debootstrap: ")
	}
	if !cfg.DryRun {
		b.FetchProgress = fetchBar()
		b.CommitProgress = commitBar()
	}

	if err := b.Run(cmd.Context(), cmd.OutOrStdout()); err != nil {
		return explain(err, cfg.Debug)
	}
	return nil
}

// fetchBar renders a byte-based progress bar across FetchArchives, created
// lazily on first callback since the total isn't known until then.
func fetchBar() func(fetched, total int64) {
	var bar *pb.ProgressBar
	return func(fetched, total int64) {
		if bar == nil {
			bar = pb.New64(total).SetUnits(pb.U_BYTES)
			bar.Output = os.Stderr
			bar.ShowTimeLeft = true
			bar.Start()
		}
		bar.Set64(fetched)
		if fetched >= total {
			bar.Finish()
		}
	}
}

// commitBar renders a package-count progress bar across Commit.
func commitBar() func(done, total int) {
	var bar *pb.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = pb.New(total)
			bar.Output = os.Stderr
			bar.Start()
		}
		bar.Set(done)
		if done >= total {
			bar.Finish()
		}
	}
}

// explain renders a bootstrap.Error as a one-line message, including the
// wrapped child-process detail when debug is set.
func explain(err error, debug bool) error {
	var berr *bootstrap.Error
	if !errors.As(err, &berr) {
		return err
	}
	msg := fmt.Sprintf("%s: %s", berr.Kind, berr.Error())
	if debug {
		msg = fmt.Sprintf("%s\n%+v", msg, err)
	}
	return errors.New(msg)
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
