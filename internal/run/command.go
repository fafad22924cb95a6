// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package run abstracts command execution so the bootstrap core can invoke
// the native package manager inside the target chroot (stage 2 install),
// and so tests can substitute a fake.
package run

import (
	"context"
	"io"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Options configures one command invocation.
type Options struct {
	// Input provides stdin to the command.
	Input io.Reader
	// Output streams stdout/stderr to the writer (if nil, output is discarded).
	Output io.Writer
	// Dir is the working directory the command is run from, resolved
	// inside Chroot if one is set.
	Dir string
	// Env, if non-nil, replaces the inherited environment entirely.
	Env []string
	// Chroot, if non-empty, is a directory the child process roots
	// itself to via chroot(2) before exec, for running the native
	// installer (dpkg/apt) against the bootstrap target.
	Chroot string
}

// Executor abstracts command execution for testability.
type Executor interface {
	// Execute runs a command with the given options, returns error on failure.
	Execute(ctx context.Context, opts Options, name string, args ...string) error
	// LookPath searches the host PATH for file when root is empty;
	// otherwise it searches usr/bin, usr/sbin, bin and sbin under root and
	// returns the path as seen from inside root.
	LookPath(root, file string) (string, error)
}

// realExecutor implements Executor using os/exec and, when Options.Chroot
// is set, SysProcAttr.Chroot.
type realExecutor struct{}

// NewExecutor returns an Executor that actually runs commands.
func NewExecutor() Executor {
	return &realExecutor{}
}

func (r *realExecutor) Execute(ctx context.Context, opts Options, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if opts.Input != nil {
		cmd.Stdin = opts.Input
	}
	if opts.Output != nil {
		cmd.Stdout = opts.Output
		cmd.Stderr = opts.Output
	}
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	if opts.Chroot != "" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: opts.Chroot}
		if cmd.Dir == "" {
			cmd.Dir = "/"
		}
	}
	return cmd.Run()
}

func (r *realExecutor) LookPath(root, file string) (string, error) {
	if root == "" {
		return exec.LookPath(file)
	}
	// exec.LookPath always resolves against the host filesystem, so
	// rooted lookups check a fixed list of directories under root for an
	// executable file via unix.Access, without starting a child process.
	for _, dir := range []string{"usr/bin", "usr/sbin", "bin", "sbin"} {
		candidate := root + "/" + dir + "/" + file
		if unix.Access(candidate, unix.X_OK) == nil {
			return "/" + dir + "/" + file, nil
		}
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}
