// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apt

import "context"

// Index is the interface the bootstrap core requires of any package
// metadata/fetch backend. The core depends only on this interface; it
// never assumes a particular archive, transport, or resolver.
type Index interface {
	// Update refreshes metadata from configured sources (Release and
	// Packages files for the configured suite/components).
	Update(ctx context.Context) error
	// Open (re)builds in-memory resolution state. Must be callable again
	// after an external status-file mutation (see Refresher in
	// pkg/dpkgdb), to pick up packages the chrooted installer changed.
	Open() error
	// FilterByPriority returns every known package at or above class.
	FilterByPriority(class PriorityClass) []Package
	// MarkInstall schedules name for installation, propagating its
	// dependency closure subject to the recommends setting.
	MarkInstall(name string) error
	// Changes returns every package whose installed state will change on
	// the next Commit.
	Changes() []Package
	// FetchArchives downloads every marked package's .deb into the local
	// cache directory, reporting progress as bytes fetched / bytes total.
	FetchArchives(ctx context.Context, progress func(fetched, total int64)) error
	// Commit executes the marked transaction via the in-chroot installer,
	// reporting progress as packages done / packages total.
	Commit(ctx context.Context, progress func(done, total int)) error
	// ArchivePath returns the local path at which pkg's .deb resides,
	// valid after FetchArchives.
	ArchivePath(pkg Package) string
}
