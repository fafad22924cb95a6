// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package chroot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrUsrMergeConflict indicates one of {bin,sbin,lib,lib64} already exists
// as a real (non-symlink) directory, so the usrmerge convention cannot be
// established without destroying existing content.
var ErrUsrMergeConflict = errors.New("usrmerge conflict")

// skeletonDirs are created (with parents) by Skeleton, per the Target
// invariants.
var skeletonDirs = []string{
	"etc/apt/apt.conf.d",
	"etc/apt/preferences.d",
	"etc/apt/trusted.gpg.d",
	"var/lib/apt/lists/partial",
	"var/cache/apt/archives/partial",
	"var/log/apt",
	"var/lib/dpkg/updates",
	"var/lib/dpkg/info",
}

// usrMergeDirs are the top-level directories that become symlinks into usr/.
var usrMergeDirs = []string{"bin", "sbin", "lib", "lib64"}

// devNode describes one character device Env.Makedev creates.
type devNode struct {
	name       string
	major      uint32
	minor      uint32
	mode       uint32
	uid, gid   int
}

var devNodes = []devNode{
	{"full", 1, 7, 0666, 0, 0},
	{"null", 1, 3, 0666, 0, 0},
	{"random", 1, 8, 0666, 0, 0},
	{"tty", 5, 0, 0666, 0, 5},
	{"urandom", 1, 9, 0666, 0, 0},
	{"zero", 1, 5, 0666, 0, 0},
}

var devSymlinks = map[string]string{
	"fd":     "/proc/self/fd",
	"stderr": "fd/2",
	"stdin":  "fd/0",
	"stdout": "fd/1",
}

// Env manages the target directory tree for one bootstrap invocation.
type Env struct {
	Target string
	Mounts MountStack

	// Warn is called by Makedev when it falls back to a dev/ptmx symlink.
	// It is not called for an already-mounted target (MountStack.Mount only
	// reports that through its return value) or for a missing keyring.
	// Defaults to a no-op.
	Warn func(format string, args ...any)
}

func (e *Env) warn(format string, args ...any) {
	if e.Warn != nil {
		e.Warn(format, args...)
	}
}

func (e *Env) path(rel string) string {
	return filepath.Join(e.Target, rel)
}

// Skeleton creates the directory layout, sources.list, and the empty
// dpkg/apt database files required before any package is installed.
// Re-running Skeleton on an already-prepared target is a no-op.
func (e *Env) Skeleton(url, suite string, components []string) error {
	for _, d := range skeletonDirs {
		if err := os.MkdirAll(e.path(d), 0755); err != nil {
			return errors.Wrapf(err, "creating %s", d)
		}
	}
	sourcesList := e.path("etc/apt/sources.list")
	if _, err := os.Stat(sourcesList); os.IsNotExist(err) {
		line := fmt.Sprintf("deb %s %s %s\n", url, suite, joinSpace(components))
		if err := os.WriteFile(sourcesList, []byte(line), 0644); err != nil {
			return errors.Wrap(err, "writing sources.list")
		}
	}
	for _, f := range []string{"var/lib/dpkg/status", "var/lib/dpkg/available"} {
		p := e.path(f)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if err := os.WriteFile(p, nil, 0644); err != nil {
				return errors.Wrapf(err, "creating %s", f)
			}
		}
	}
	return nil
}

// InstallKeyring copies the keyring blob to
// etc/apt/trusted.gpg.d/apt-bootstrap.gpg and returns the installed path,
// for later removal by the caller on success.
func (e *Env) InstallKeyring(keyring []byte) (string, error) {
	dest := e.path("etc/apt/trusted.gpg.d/apt-bootstrap.gpg")
	if err := os.WriteFile(dest, keyring, 0644); err != nil {
		return "", errors.Wrap(err, "installing keyring")
	}
	return dest, nil
}

// UsrMerge ensures bin, sbin, lib, lib64 are symlinks to their usr/
// counterparts, mirroring the same merge under usr/lib/debug/.
func (e *Env) UsrMerge() error {
	for _, d := range usrMergeDirs {
		if err := e.usrMergeOne(e.Target, d); err != nil {
			return err
		}
	}
	debugRoot := e.path("usr/lib/debug")
	if err := os.MkdirAll(debugRoot, 0755); err != nil {
		return errors.Wrap(err, "creating usr/lib/debug")
	}
	for _, d := range usrMergeDirs {
		if err := e.usrMergeOne(debugRoot, d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) usrMergeOne(base, d string) error {
	usrDir := filepath.Join(base, "usr", d)
	if err := os.MkdirAll(usrDir, 0755); err != nil {
		return errors.Wrapf(err, "creating usr/%s", d)
	}
	link := filepath.Join(base, d)
	fi, err := os.Lstat(link)
	if err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return nil // already merged
		}
		return errors.Wrapf(ErrUsrMergeConflict, "%s exists and is not a symlink", link)
	}
	if !os.IsNotExist(err) {
		return errors.Wrapf(err, "stat %s", link)
	}
	if err := os.Symlink(filepath.Join("usr", d), link); err != nil {
		return errors.Wrapf(err, "symlinking %s", link)
	}
	return nil
}

// Makedev populates /dev with the fixed set of character devices, symlinks,
// and directories a minimal chroot needs. If mknod for ptmx (5,2) is denied
// by the kernel, it falls back to a symlink and warns, per spec.
func (e *Env) Makedev() error {
	devDir := e.path("dev")
	if err := os.MkdirAll(devDir, 0755); err != nil {
		return errors.Wrap(err, "creating dev")
	}
	for _, n := range devNodes {
		path := filepath.Join(devDir, n.name)
		os.Remove(path)
		dev := unix.Mkdev(n.major, n.minor)
		if err := unix.Mknod(path, unix.S_IFCHR|n.mode, int(dev)); err != nil {
			return errors.Wrapf(err, "mknod dev/%s", n.name)
		}
		if err := os.Chown(path, n.uid, n.gid); err != nil {
			return errors.Wrapf(err, "chown dev/%s", n.name)
		}
	}
	for name, target := range devSymlinks {
		path := filepath.Join(devDir, name)
		os.Remove(path)
		if err := os.Symlink(target, path); err != nil {
			return errors.Wrapf(err, "symlinking dev/%s", name)
		}
	}
	for _, d := range []string{"shm", "pts"} {
		if err := os.MkdirAll(filepath.Join(devDir, d), 0755); err != nil {
			return errors.Wrapf(err, "creating dev/%s", d)
		}
	}
	ptmx := filepath.Join(devDir, "ptmx")
	os.Remove(ptmx)
	if err := unix.Mknod(ptmx, unix.S_IFCHR|0666, int(unix.Mkdev(5, 2))); err != nil {
		if err := os.Symlink("pts/ptmx", ptmx); err != nil {
			return errors.Wrap(err, "falling back to dev/ptmx symlink")
		}
		e.warn("mknod dev/ptmx denied (%v); created symlink to pts/ptmx instead — mount devpts with ptmxmode=666", err)
	}
	return nil
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
