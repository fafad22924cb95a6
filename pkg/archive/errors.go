// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import "github.com/pkg/errors"

// Sentinel error kinds surfaced by this package, matched with errors.Is by
// callers that need to distinguish them (e.g. the bootstrap state machine
// deciding whether a failed extraction is recoverable).
var (
	// ErrMalformedArchive indicates the ar container or tar payload is
	// structurally invalid, or a member's declared size doesn't match the
	// bytes actually present.
	ErrMalformedArchive = errors.New("malformed archive")
	// ErrUnsupportedMember indicates a tar entry type this package doesn't
	// know how to materialize (e.g. a pax global header).
	ErrUnsupportedMember = errors.New("unsupported archive member")
	// ErrPathEscape indicates a member name would resolve outside the
	// extraction root.
	ErrPathEscape = errors.New("member path escapes target root")
)
