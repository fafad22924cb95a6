// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap drives the two-stage state machine that turns an empty
// directory into a bootable Debian-family package set: stage 1 extracts
// essential packages directly into the target tree, stage 2 runs the
// target's own installer inside a chroot to unpack and configure
// everything else.
package bootstrap

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-debootstrap/internal/run"
	"github.com/google/go-debootstrap/pkg/apt"
	"github.com/google/go-debootstrap/pkg/archive"
	"github.com/google/go-debootstrap/pkg/chroot"
	"github.com/google/go-debootstrap/pkg/dpkgdb"
	"github.com/pkg/errors"
)

// earlyInstallOrder is the fixed, ordered list of packages the native
// installer runs against first in EARLY_INSTALLED, so that dpkg's own
// database catches up with the packages stage 1 already extracted by hand.
var earlyInstallOrder = []string{
	"base-passwd", "base-files", "dpkg", "libc6", "perl-base",
	"mawk", "debconf", "debianutils", "passwd",
}

// forceFlags are applied to every native-installer invocation during
// EARLY_INSTALLED and UNPACKED: the target has no running init system or
// prior state for dpkg's usual safety checks to reason about.
var forceFlags = []string{"--force-depends", "--force-unsafe-io"}

func childEnv() []string {
	return []string{
		"LC_ALL=C",
		"DEBIAN_FRONTEND=noninteractive",
		"PATH=/usr/sbin:/usr/bin:/sbin:/bin",
	}
}

// Bootstrapper owns one bootstrap run against one target directory. It is
// constructed once per target and must not be reused across targets.
type Bootstrapper struct {
	Config Config
	Index  apt.Index
	Env    *chroot.Env
	DB     *dpkgdb.DB
	Exec   run.Executor
	Log    *log.Logger

	// FetchProgress and CommitProgress, if set, are forwarded to the
	// corresponding Index calls so a caller can render a progress bar;
	// either may be left nil.
	FetchProgress  func(fetched, total int64)
	CommitProgress func(done, total int)

	// dryRun is captured at construction time, not re-read from Config
	// during Run, so a caller mutating Config after construction can't
	// change the behavior of an in-flight run.
	dryRun        bool
	keyringPath   string
	essentialByID map[string]apt.Package
}

// New constructs a Bootstrapper. cfg must already have passed Validate.
func New(cfg Config, index apt.Index, env *chroot.Env, db *dpkgdb.DB, exec run.Executor) *Bootstrapper {
	if exec == nil {
		exec = run.NewExecutor()
	}
	if db.Index == nil {
		db.Index = index
	}
	return &Bootstrapper{
		Config: cfg,
		Index:  index,
		Env:    env,
		DB:     db,
		Exec:   exec,
		Log:    log.New(os.Stderr, "", log.LstdFlags),
		dryRun: cfg.DryRun,
	}
}

// Run drives the state machine from INIT to DONE (or, in dry-run mode, to
// the dry-run's own terminal output). Cleanup — draining any remaining
// mount stack entries and removing a keyring this run installed — always
// runs, on both the success and failure path.
func (b *Bootstrapper) Run(ctx context.Context, stdout io.Writer) (err error) {
	defer func() {
		if b.Env != nil && b.Env.Mounts.Len() > 0 {
			if uerr := b.Env.Mounts.UnmountAll(); uerr != nil && err == nil {
				err = wrap(MountFailed, "cleanup", uerr)
			}
		}
		if b.keyringPath != "" {
			if rerr := os.Remove(b.keyringPath); rerr != nil && !os.IsNotExist(rerr) && err == nil {
				err = errors.Wrap(rerr, "removing temporary keyring")
			}
		}
	}()

	// INIT -> UPDATED
	if err := b.Index.Update(ctx); err != nil {
		return wrap(FetchFailed, "update", err)
	}
	if err := b.Index.Open(); err != nil {
		return wrap(UnknownError, "open", err)
	}

	if b.dryRun {
		return b.dryRunOutput(stdout)
	}

	// A prior run that aborted mid-configuration may have left
	// start-stop-daemon swapped out and policy-rc.d in place; heal that
	// before proceeding rather than only at finish().
	if b.Env.NeedsDaemonHeal() {
		if err := b.Env.RestoreDaemons(); err != nil {
			return wrap(UnknownError, "heal-daemons", err)
		}
	}

	// Skeleton + usrmerge happen before any mounts, so a UsrMergeConflict
	// leaves the MountStack empty (testable property / scenario S2).
	if err := b.Env.Skeleton(b.Config.MirrorURL, b.Config.Suite, b.Config.Components); err != nil {
		return wrap(UnknownError, "skeleton", err)
	}
	if err := b.installKeyring(); err != nil {
		return err
	}
	if err := b.Env.UsrMerge(); err != nil {
		if errors.Is(err, chroot.ErrUsrMergeConflict) {
			return wrap(UsrMergeConflict, "usrmerge", err)
		}
		return wrap(UnknownError, "usrmerge", err)
	}

	// UPDATED -> MARKED(essential)
	if err := b.markEssential(); err != nil {
		return err
	}

	// MARKED -> FETCHED
	if err := b.Index.FetchArchives(ctx, b.FetchProgress); err != nil {
		return wrap(FetchFailed, "fetch-essential", err)
	}

	// FETCHED -> EXTRACTED
	if err := b.extractEssential(); err != nil {
		return err
	}

	// EXTRACTED -> FAKE_INSTALLED(dpkg)
	if err := b.fakeInstallDpkg(); err != nil {
		return err
	}

	// -> CHROOT_PREPARED
	if err := b.prepareChroot(ctx); err != nil {
		return err
	}

	// -> EARLY_INSTALLED
	if err := b.earlyInstall(ctx); err != nil {
		return err
	}

	// -> UNPACKED
	if err := b.unpackRemaining(ctx); err != nil {
		return err
	}

	// -> CONFIGURED
	if err := b.configure(ctx); err != nil {
		return err
	}

	// -> MARKED(+required,+important,+requested)
	if err := b.markRemainingPriorities(); err != nil {
		return err
	}

	// -> COMMITTED
	if err := b.Index.Commit(ctx, b.CommitProgress); err != nil {
		return wrap(InstallerFailed, "commit", err)
	}

	// -> DONE
	return b.finish()
}

func (b *Bootstrapper) installKeyring() error {
	if b.Config.Keyring == "" {
		b.Log.Printf("warning: no keyring configured; fetches are unauthenticated")
		return nil
	}
	blob, err := os.ReadFile(b.Config.Keyring)
	if err != nil {
		return wrap(ConfigError, "keyring", err)
	}
	path, err := b.Env.InstallKeyring(blob)
	if err != nil {
		return wrap(UnknownError, "keyring", err)
	}
	b.keyringPath = path
	return nil
}

func (b *Bootstrapper) markEssential() error {
	for _, pkg := range b.Index.FilterByPriority(apt.ClassEssential) {
		if err := b.Index.MarkInstall(pkg.Name); err != nil {
			return wrap(DependencyUnresolved, "mark-essential", err)
		}
	}
	// apt-utils is marked as a workaround for a debconf dependency the
	// archive metadata doesn't otherwise surface at this stage.
	if err := b.Index.MarkInstall("apt-utils"); err != nil {
		return wrap(DependencyUnresolved, "mark-essential", err)
	}
	b.essentialByID = make(map[string]apt.Package)
	for _, pkg := range b.Index.Changes() {
		b.essentialByID[pkg.Name] = pkg
	}
	return nil
}

func (b *Bootstrapper) extractEssential() error {
	for _, pkg := range b.Index.Changes() {
		if err := b.extractOne(pkg); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bootstrapper) extractOne(pkg apt.Package) error {
	h, err := archive.Open(b.Index.ArchivePath(pkg))
	if err != nil {
		return wrap(MalformedArchive, "extract:"+pkg.Name, err)
	}
	defer h.Close()
	err = h.Each(func(m archive.Member, body io.Reader) error {
		return archive.Extract(m, body, b.Config.Target)
	})
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrPathEscape):
			return wrap(PathEscape, "extract:"+pkg.Name, err)
		case errors.Is(err, archive.ErrUnsupportedMember):
			return wrap(UnsupportedMember, "extract:"+pkg.Name, err)
		case errors.Is(err, archive.ErrMalformedArchive):
			return wrap(MalformedArchive, "extract:"+pkg.Name, err)
		default:
			return wrap(UnknownError, "extract:"+pkg.Name, err)
		}
	}
	return nil
}

func (b *Bootstrapper) fakeInstallDpkg() error {
	installer, ok := b.essentialByID["dpkg"]
	if !ok {
		return wrap(UnknownPackage, "fake-install", errors.New("dpkg not among essential packages"))
	}
	if err := b.DB.FakeInstall(installer.Name, installer.Version); err != nil {
		return wrap(UnknownError, "fake-install", err)
	}
	return nil
}

func (b *Bootstrapper) prepareChroot(ctx context.Context) error {
	if err := b.Env.Makedev(); err != nil {
		return wrap(UnknownError, "makedev", err)
	}
	if _, err := b.Env.Mounts.Mount("proc", "proc", filepath.Join(b.Config.Target, "proc"), 0, ""); err != nil {
		return wrap(MountFailed, "mount-proc", err)
	}
	if _, err := b.Env.Mounts.Mount("sysfs", "sysfs", filepath.Join(b.Config.Target, "sys"), 0, ""); err != nil {
		return wrap(MountFailed, "mount-sys", err)
	}
	if _, err := b.Env.Mounts.BindMount("/tmp", filepath.Join(b.Config.Target, "tmp")); err != nil {
		return wrap(MountFailed, "mount-tmp", err)
	}
	if err := b.Exec.Execute(ctx, run.Options{Chroot: b.Config.Target, Env: childEnv()}, "ldconfig"); err != nil {
		return wrap(InstallerFailed, "ldconfig", err)
	}
	awk := filepath.Join(b.Config.Target, "usr/bin/awk")
	if _, err := os.Lstat(awk); os.IsNotExist(err) {
		if err := os.Symlink("mawk", awk); err != nil {
			return wrap(UnknownError, "awk-symlink", err)
		}
	}
	localtime := filepath.Join(b.Config.Target, "etc/localtime")
	if _, err := os.Lstat(localtime); os.IsNotExist(err) {
		if err := os.Symlink("/usr/share/zoneinfo/UTC", localtime); err != nil {
			return wrap(UnknownError, "localtime-symlink", err)
		}
	}
	if err := b.Env.SuppressDaemons(); err != nil {
		return wrap(UnknownError, "suppress-daemons", err)
	}
	return nil
}

// archiveRelPath returns a target-relative path to pkg's cached .deb,
// staging a copy under var/cache/apt/archives if the cache directory isn't
// already inside the target.
func (b *Bootstrapper) archiveRelPath(pkg apt.Package) (string, error) {
	src := b.Index.ArchivePath(pkg)
	rel, err := filepath.Rel(b.Config.Target, src)
	if err == nil && !strings.HasPrefix(rel, "..") {
		return "/" + rel, nil
	}
	dest := filepath.Join(b.Config.Target, "var/cache/apt/archives", filepath.Base(src))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	return "/var/cache/apt/archives/" + filepath.Base(src), nil
}

func (b *Bootstrapper) earlyInstall(ctx context.Context) error {
	for _, name := range earlyInstallOrder {
		pkg, ok := b.essentialByID[name]
		if !ok {
			return wrap(UnknownPackage, "early-install", errors.Errorf("%s not among essential packages", name))
		}
		rel, err := b.archiveRelPath(pkg)
		if err != nil {
			return wrap(UnknownError, "early-install:"+name, err)
		}
		args := append([]string{"--install"}, forceFlags...)
		args = append(args, rel)
		if err := b.Exec.Execute(ctx, run.Options{Chroot: b.Config.Target, Env: childEnv()}, "dpkg", args...); err != nil {
			return wrap(InstallerFailed, "early-install:"+name, err)
		}
	}
	return nil
}

func (b *Bootstrapper) unpackRemaining(ctx context.Context) error {
	early := make(map[string]bool, len(earlyInstallOrder))
	for _, name := range earlyInstallOrder {
		early[name] = true
	}
	for _, pkg := range b.Index.Changes() {
		if early[pkg.Name] {
			continue
		}
		rel, err := b.archiveRelPath(pkg)
		if err != nil {
			return wrap(UnknownError, "unpack:"+pkg.Name, err)
		}
		args := append([]string{"--unpack"}, forceFlags...)
		args = append(args, rel)
		if err := b.Exec.Execute(ctx, run.Options{Chroot: b.Config.Target, Env: childEnv()}, "dpkg", args...); err != nil {
			return wrap(InstallerFailed, "unpack:"+pkg.Name, err)
		}
	}
	return nil
}

func (b *Bootstrapper) configure(ctx context.Context) error {
	args := []string{"--pending", "--force-configure-any", "--force-depends", "--force-unsafe-io"}
	if err := b.Exec.Execute(ctx, run.Options{Chroot: b.Config.Target, Env: childEnv()}, "dpkg", args...); err != nil {
		return wrap(InstallerFailed, "configure", err)
	}
	return nil
}

func (b *Bootstrapper) markRemainingPriorities() error {
	if err := b.DB.Refresh(); err != nil {
		return wrap(UnknownError, "refresh", err)
	}
	if b.Config.Required {
		for _, pkg := range b.Index.FilterByPriority(apt.ClassRequired) {
			if err := b.Index.MarkInstall(pkg.Name); err != nil {
				return wrap(DependencyUnresolved, "mark-required", err)
			}
		}
	}
	if b.Config.Important {
		for _, pkg := range b.Index.FilterByPriority(apt.ClassImportant) {
			if err := b.Index.MarkInstall(pkg.Name); err != nil {
				return wrap(DependencyUnresolved, "mark-important", err)
			}
		}
	}
	for _, name := range b.Config.Packages {
		if err := b.Index.MarkInstall(name); err != nil {
			return wrap(UnknownPackage, "mark-requested:"+name, err)
		}
	}
	return nil
}

func (b *Bootstrapper) finish() error {
	if err := b.Env.RestoreDaemons(); err != nil {
		return wrap(UnknownError, "restore-daemons", err)
	}
	target := b.Config.Target
	for _, path := range []string{
		filepath.Join(target, "sys"),
		filepath.Join(target, "proc"),
		filepath.Join(target, "tmp"),
	} {
		if err := b.Env.Mounts.Unmount(path); err != nil {
			return wrap(MountFailed, "unmount:"+path, err)
		}
	}
	if b.keyringPath != "" {
		if err := os.Remove(b.keyringPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing temporary keyring")
		}
		b.keyringPath = ""
	}
	b.Log.Printf("Installation complete")
	return nil
}

// dryRunOutput marks the union of priority classes dry-run would have
// installed and writes one "<name>\t<version>" (or "<name>:<arch>\t<version>"
// for multi-arch-same packages) line per package, sorted by name, with no
// duplicates.
func (b *Bootstrapper) dryRunOutput(stdout io.Writer) error {
	marked := map[string]apt.Package{}
	mark := func(pkg apt.Package) error {
		if err := b.Index.MarkInstall(pkg.Name); err != nil {
			return err
		}
		return nil
	}
	for _, pkg := range b.Index.FilterByPriority(apt.ClassEssential) {
		if err := mark(pkg); err != nil {
			return wrap(DependencyUnresolved, "dry-run", err)
		}
	}
	if b.Config.Required {
		for _, pkg := range b.Index.FilterByPriority(apt.ClassRequired) {
			if err := mark(pkg); err != nil {
				return wrap(DependencyUnresolved, "dry-run", err)
			}
		}
	}
	if b.Config.Important {
		for _, pkg := range b.Index.FilterByPriority(apt.ClassImportant) {
			if err := mark(pkg); err != nil {
				return wrap(DependencyUnresolved, "dry-run", err)
			}
		}
	}
	for _, name := range b.Config.Packages {
		if err := b.Index.MarkInstall(name); err != nil {
			return wrap(UnknownPackage, "dry-run", err)
		}
	}
	for _, pkg := range b.Index.Changes() {
		marked[pkg.Identity()] = pkg
	}
	identities := make([]string, 0, len(marked))
	for id := range marked {
		identities = append(identities, id)
	}
	sort.Strings(identities)
	for _, id := range identities {
		pkg := marked[id]
		if _, err := io.WriteString(stdout, pkg.Identity()+"\t"+pkg.Version+"\n"); err != nil {
			return err
		}
	}
	return nil
}
