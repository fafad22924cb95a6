// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package chroot manages the target directory layout that a debootstrap-style
// bootstrap needs before a chrooted native installer can run: skeleton
// directories, the usrmerge symlink convention, /dev node population, the
// mount stack, and start-stop-daemon/policy-rc.d suppression during
// configuration.
package chroot

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrMountFailed wraps any mount(2)/umount(2) failure.
var ErrMountFailed = errors.New("mount failed")

// mountEntry is one LIFO entry of the MountStack.
type mountEntry struct {
	target string
}

// MountStack tracks filesystems mounted by this process under a target root
// so they can be torn down in reverse order on both success and failure
// paths. The zero value is ready to use.
type MountStack struct {
	stack []mountEntry
}

// Mount mounts fstype from source onto target with the given flags. If
// target is already a mountpoint, Mount is a no-op and returns
// (false, nil) so the caller can log a warning instead of treating it as
// an error, per spec.
func (s *MountStack) Mount(fstype, source, target string, flags uintptr, data string) (mounted bool, err error) {
	if isMountpoint(target) {
		return false, nil
	}
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return false, errors.Wrapf(ErrMountFailed, "mount %s at %s: %v", fstype, target, err)
	}
	s.stack = append(s.stack, mountEntry{target: target})
	return true, nil
}

// BindMount bind-mounts source onto target.
func (s *MountStack) BindMount(source, target string) (bool, error) {
	return s.Mount("", source, target, unix.MS_BIND, "")
}

// Unmount unmounts target and pops its entry from the stack. It is an error
// to unmount a target this MountStack did not push.
func (s *MountStack) Unmount(target string) error {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].target != target {
			continue
		}
		if err := unix.Unmount(target, 0); err != nil {
			return errors.Wrapf(ErrMountFailed, "unmount %s: %v", target, err)
		}
		s.stack = append(s.stack[:i], s.stack[i+1:]...)
		return nil
	}
	return errors.Errorf("%s is not tracked by this MountStack", target)
}

// UnmountAll drains the stack in LIFO order, collecting (not stopping on)
// any errors so cleanup always runs to completion; it returns the first
// error encountered, if any.
func (s *MountStack) UnmountAll() error {
	var first error
	for len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]
		if err := unix.Unmount(top.target, 0); err != nil && first == nil {
			first = errors.Wrapf(ErrMountFailed, "unmount %s: %v", top.target, err)
		}
		s.stack = s.stack[:len(s.stack)-1]
	}
	return first
}

// Len reports how many mounts are currently tracked.
func (s *MountStack) Len() int {
	return len(s.stack)
}

func isMountpoint(target string) bool {
	var st, parentSt unix.Stat_t
	if err := unix.Stat(target, &st); err != nil {
		return false
	}
	if err := unix.Stat(target+"/..", &parentSt); err != nil {
		return false
	}
	return st.Dev != parentSt.Dev
}
