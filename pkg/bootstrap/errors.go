// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import "github.com/pkg/errors"

// Kind classifies why a bootstrap failed, for callers that want to react
// differently to different failure modes (the CLI puts it at the front of
// its one-line error message).
type Kind int

const (
	UnknownError Kind = iota
	ConfigError
	PermissionDenied
	MalformedArchive
	UnsupportedMember
	PathEscape
	UsrMergeConflict
	MountFailed
	UnknownPackage
	DependencyUnresolved
	FetchFailed
	InstallerFailed
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case PermissionDenied:
		return "PermissionDenied"
	case MalformedArchive:
		return "MalformedArchive"
	case UnsupportedMember:
		return "UnsupportedMember"
	case PathEscape:
		return "PathEscape"
	case UsrMergeConflict:
		return "UsrMergeConflict"
	case MountFailed:
		return "MountFailed"
	case UnknownPackage:
		return "UnknownPackage"
	case DependencyUnresolved:
		return "DependencyUnresolved"
	case FetchFailed:
		return "FetchFailed"
	case InstallerFailed:
		return "InstallerFailed"
	default:
		return "UnknownError"
	}
}

// Error is a state-transition failure tagged with a Kind for the caller and
// wrapping the underlying cause for %+v / debug-mode reporting.
type Error struct {
	Kind    Kind
	Stage   string
	cause   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return e.Kind.String() + " during " + e.Stage + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, stage string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, cause: cause}
}

// wrap tags cause with kind unless it is already a *Error, in which case it
// is passed through unchanged so the original, more specific kind survives.
func wrap(kind Kind, stage string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return cause
	}
	return newError(kind, stage, cause)
}
