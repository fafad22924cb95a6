// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package chroot

import (
	"os"
	"path/filepath"

	"github.com/google/go-debootstrap/internal/textwrap"
	"github.com/pkg/errors"
)

var policyRC = textwrap.Dedent(`
	#!/bin/sh
	exit 101
	`)[1:]

// SuppressDaemons replaces sbin/start-stop-daemon with a symlink to
// /bin/true (saving the original as .REAL) and writes policy-rc.d so that
// package postinst scripts don't try to start services inside the chroot.
// Idempotent: if a previous run already performed the swap and failed
// before RestoreDaemons, calling this again is a no-op for the daemon
// binary (it detects .REAL is already present).
func (e *Env) SuppressDaemons() error {
	ssd := e.path("sbin/start-stop-daemon")
	real := ssd + ".REAL"
	if _, err := os.Lstat(real); os.IsNotExist(err) {
		if _, err := os.Lstat(ssd); err == nil {
			if err := os.Rename(ssd, real); err != nil {
				return errors.Wrap(err, "saving start-stop-daemon")
			}
		}
	}
	os.Remove(ssd)
	if err := os.Symlink("/bin/true", ssd); err != nil {
		return errors.Wrap(err, "symlinking start-stop-daemon to /bin/true")
	}
	policy := e.path("usr/sbin/policy-rc.d")
	if err := os.MkdirAll(filepath.Dir(policy), 0755); err != nil {
		return errors.Wrap(err, "creating usr/sbin")
	}
	if err := os.WriteFile(policy, []byte(policyRC), 0755); err != nil {
		return errors.Wrap(err, "writing policy-rc.d")
	}
	return nil
}

// RestoreDaemons reverses SuppressDaemons: restores the real
// start-stop-daemon binary and removes policy-rc.d. Heals state left by a
// prior run that failed mid-stage: a present .REAL means restore is still
// owed, and a present policy-rc.d is removed unconditionally.
func (e *Env) RestoreDaemons() error {
	ssd := e.path("sbin/start-stop-daemon")
	real := ssd + ".REAL"
	if _, err := os.Lstat(real); err == nil {
		os.Remove(ssd)
		if err := os.Rename(real, ssd); err != nil {
			return errors.Wrap(err, "restoring start-stop-daemon")
		}
	}
	policy := e.path("usr/sbin/policy-rc.d")
	if err := os.Remove(policy); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing policy-rc.d")
	}
	return nil
}

// NeedsDaemonHeal reports whether a previous, aborted run left the chroot
// in the suppressed state (per spec.md §5: callers must detect and heal
// this before proceeding).
func (e *Env) NeedsDaemonHeal() bool {
	if _, err := os.Lstat(e.path("sbin/start-stop-daemon.REAL")); err == nil {
		return true
	}
	if _, err := os.Lstat(e.path("usr/sbin/policy-rc.d")); err == nil {
		return true
	}
	return false
}
