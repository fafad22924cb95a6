// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package runtest provides a fake run.Executor for driving the bootstrap
// state machine in tests without invoking real subprocesses.
package runtest

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/google/go-debootstrap/internal/run"
)

// Invocation records one Execute call for later assertion.
type Invocation struct {
	Name   string
	Args   []string
	Input  string
	Chroot string
	Error  error
}

// Executor is an in-memory run.Executor.
type Executor struct {
	mu           sync.RWMutex
	invocations  []Invocation
	executeFunc  func(ctx context.Context, opts run.Options, name string, args ...string) error
	lookPathFunc func(root, file string) (string, error)
}

// New returns an Executor that records invocations and succeeds by default.
func New() *Executor {
	return &Executor{}
}

// SetExecuteFunc overrides the default success behavior.
func (e *Executor) SetExecuteFunc(f func(ctx context.Context, opts run.Options, name string, args ...string) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executeFunc = f
}

// SetLookPathFunc overrides the default found-everywhere behavior.
func (e *Executor) SetLookPathFunc(f func(root, file string) (string, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lookPathFunc = f
}

func (e *Executor) Execute(ctx context.Context, opts run.Options, name string, args ...string) error {
	e.mu.Lock()
	f := e.executeFunc
	e.mu.Unlock()

	input := ""
	if opts.Input != nil {
		if data, err := io.ReadAll(opts.Input); err == nil {
			input = string(data)
		}
	}

	var err error
	if f != nil {
		err = f(ctx, opts, name, args...)
	} else if opts.Output != nil {
		fmt.Fprintf(opts.Output, "mock output for: %s %s\n", name, strings.Join(args, " "))
	}

	e.mu.Lock()
	e.invocations = append(e.invocations, Invocation{
		Name:   name,
		Args:   slices.Clone(args),
		Input:  input,
		Chroot: opts.Chroot,
		Error:  err,
	})
	e.mu.Unlock()
	return err
}

func (e *Executor) LookPath(root, file string) (string, error) {
	e.mu.RLock()
	f := e.lookPathFunc
	e.mu.RUnlock()
	if f != nil {
		return f(root, file)
	}
	return "/usr/bin/" + file, nil
}

// Invocations returns all recorded invocations, in call order.
func (e *Executor) Invocations() []Invocation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Invocation, len(e.invocations))
	copy(out, e.invocations)
	return out
}

var _ run.Executor = &Executor{}
