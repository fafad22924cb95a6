// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestExecuteCapturesOutput(t *testing.T) {
	var out bytes.Buffer
	exec := NewExecutor()
	err := exec.Execute(context.Background(), Options{Output: &out}, "echo", "hello")
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Errorf("output = %q, want it to contain %q", out.String(), "hello")
	}
}

func TestLookPathHostRoot(t *testing.T) {
	exec := NewExecutor()
	if _, err := exec.LookPath("", "echo"); err != nil {
		t.Errorf("LookPath(host, echo) failed: %v", err)
	}
}

func TestLookPathMissing(t *testing.T) {
	exec := NewExecutor()
	if _, err := exec.LookPath("", "definitely-not-a-real-command-xyz"); err == nil {
		t.Errorf("LookPath() expected error for missing command")
	}
}
