// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package chroot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSkeletonCreatesInvariants(t *testing.T) {
	target := t.TempDir()
	env := &Env{Target: target}
	if err := env.Skeleton("http://deb.debian.org/debian", "bookworm", []string{"main", "contrib"}); err != nil {
		t.Fatalf("Skeleton() failed: %v", err)
	}
	for _, d := range []string{
		"etc/apt/apt.conf.d",
		"etc/apt/preferences.d",
		"etc/apt/trusted.gpg.d",
		"var/lib/apt/lists/partial",
		"var/cache/apt/archives/partial",
		"var/log/apt",
		"var/lib/dpkg/updates",
		"var/lib/dpkg/info",
	} {
		if fi, err := os.Stat(filepath.Join(target, d)); err != nil || !fi.IsDir() {
			t.Errorf("expected directory %s to exist", d)
		}
	}
	data, err := os.ReadFile(filepath.Join(target, "etc/apt/sources.list"))
	if err != nil {
		t.Fatalf("reading sources.list: %v", err)
	}
	want := "deb http://deb.debian.org/debian bookworm main contrib\n"
	if string(data) != want {
		t.Errorf("sources.list = %q, want %q", data, want)
	}
	for _, f := range []string{"var/lib/dpkg/status", "var/lib/dpkg/available"} {
		if _, err := os.Stat(filepath.Join(target, f)); err != nil {
			t.Errorf("expected %s to exist", f)
		}
	}
}

func TestSkeletonIdempotent(t *testing.T) {
	target := t.TempDir()
	env := &Env{Target: target}
	if err := env.Skeleton("http://example.invalid", "suite", []string{"main"}); err != nil {
		t.Fatalf("Skeleton() first call failed: %v", err)
	}
	marker := filepath.Join(target, "var/lib/dpkg/status")
	if err := os.WriteFile(marker, []byte("sentinel"), 0644); err != nil {
		t.Fatalf("writing sentinel: %v", err)
	}
	if err := env.Skeleton("http://example.invalid", "suite", []string{"main"}); err != nil {
		t.Fatalf("Skeleton() second call failed: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if string(data) != "sentinel" {
		t.Errorf("Skeleton() re-run clobbered status file: got %q", data)
	}
}

func TestUsrMergeCreatesSymlinks(t *testing.T) {
	target := t.TempDir()
	env := &Env{Target: target}
	if err := env.UsrMerge(); err != nil {
		t.Fatalf("UsrMerge() failed: %v", err)
	}
	for _, d := range []string{"bin", "sbin", "lib", "lib64"} {
		fi, err := os.Lstat(filepath.Join(target, d))
		if err != nil {
			t.Fatalf("Lstat(%s) failed: %v", d, err)
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			t.Errorf("%s is not a symlink", d)
		}
		link, err := os.Readlink(filepath.Join(target, d))
		if err != nil {
			t.Fatalf("Readlink(%s) failed: %v", d, err)
		}
		if link != filepath.Join("usr", d) {
			t.Errorf("%s -> %q, want %q", d, link, filepath.Join("usr", d))
		}
	}
}

func TestUsrMergeConflict(t *testing.T) {
	target := t.TempDir()
	if err := os.MkdirAll(filepath.Join(target, "bin"), 0755); err != nil {
		t.Fatalf("setup MkdirAll: %v", err)
	}
	env := &Env{Target: target}
	err := env.UsrMerge()
	if !errors.Is(err, ErrUsrMergeConflict) {
		t.Errorf("UsrMerge() error = %v, want ErrUsrMergeConflict", err)
	}
	if env.Mounts.Len() != 0 {
		t.Errorf("expected no mounts performed on conflict, got %d", env.Mounts.Len())
	}
}

func TestUsrMergeIdempotent(t *testing.T) {
	target := t.TempDir()
	env := &Env{Target: target}
	if err := env.UsrMerge(); err != nil {
		t.Fatalf("UsrMerge() first call failed: %v", err)
	}
	if err := env.UsrMerge(); err != nil {
		t.Fatalf("UsrMerge() second call failed: %v", err)
	}
}

func TestDaemonSuppressionHeal(t *testing.T) {
	target := t.TempDir()
	env := &Env{Target: target}
	if err := os.MkdirAll(filepath.Join(target, "sbin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "sbin/start-stop-daemon"), []byte("real"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := env.SuppressDaemons(); err != nil {
		t.Fatalf("SuppressDaemons() failed: %v", err)
	}
	if !env.NeedsDaemonHeal() {
		t.Fatalf("expected heal to be needed after suppression without restore")
	}
	// Simulate a fresh invocation that must detect and heal before proceeding.
	fresh := &Env{Target: target}
	if err := fresh.RestoreDaemons(); err != nil {
		t.Fatalf("RestoreDaemons() failed: %v", err)
	}
	if fresh.NeedsDaemonHeal() {
		t.Errorf("expected heal to be resolved after RestoreDaemons")
	}
	data, err := os.ReadFile(filepath.Join(target, "sbin/start-stop-daemon"))
	if err != nil {
		t.Fatalf("reading restored binary: %v", err)
	}
	if string(data) != "real" {
		t.Errorf("restored binary content = %q, want %q", data, "real")
	}
}

func TestMakedev(t *testing.T) {
	target := t.TempDir()
	var warnings []string
	env := &Env{Target: target, Warn: func(format string, args ...any) {
		warnings = append(warnings, format)
	}}
	if err := env.Makedev(); err != nil {
		t.Skipf("mknod not permitted in this environment: %v", err)
	}
	for _, name := range []string{"null", "zero", "full", "random", "urandom", "tty"} {
		if _, err := os.Lstat(filepath.Join(target, "dev", name)); err != nil {
			t.Errorf("expected dev/%s to exist: %v", name, err)
		}
	}
	for _, name := range []string{"fd", "stdin", "stdout", "stderr"} {
		if _, err := os.Lstat(filepath.Join(target, "dev", name)); err != nil {
			t.Errorf("expected dev/%s symlink to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(target, "dev/shm")); err != nil {
		t.Errorf("expected dev/shm to exist: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(target, "dev/ptmx")); err != nil {
		t.Errorf("expected dev/ptmx to exist in some form: %v", err)
	}
}
