// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package dpkgdb maintains the on-disk installed-package database inside a
// bootstrap target: the dpkg status file and per-package file lists.
package dpkgdb

import (
	"os"
	"path/filepath"

	"github.com/google/go-debootstrap/pkg/apt/control"
	"github.com/pkg/errors"
)

// Refresher is notified when the status file has been mutated by an
// external (chrooted) process, so it can reopen its in-memory view before
// further resolution. PackageIndex implementations satisfy this.
type Refresher interface {
	Open() error
}

// DB manages var/lib/dpkg/{status,available,info} under a target root.
type DB struct {
	Target string
	// Index is refreshed after an external mutation of the status file;
	// may be nil if the caller doesn't need Refresh to do anything.
	Index Refresher
}

func (d *DB) statusPath() string {
	return filepath.Join(d.Target, "var/lib/dpkg/status")
}

// FakeInstall rewrites the status file with a single stanza marking name as
// installed, and creates an empty var/lib/dpkg/info/<name>.list. Used once,
// for the installer package itself, between stage 1 extraction and the
// first real install.
func (d *DB) FakeInstall(name, version string) error {
	s := control.NewStanza()
	s.Set("Package", name)
	s.Set("Version", version)
	s.Set("Maintainer", "unknown")
	s.Set("Status", "install ok installed")
	if err := os.WriteFile(d.statusPath(), []byte(s.String()), 0644); err != nil {
		return errors.Wrapf(err, "writing status for %s", name)
	}
	listPath := filepath.Join(d.Target, "var/lib/dpkg/info", name+".list")
	if err := os.WriteFile(listPath, nil, 0644); err != nil {
		return errors.Wrapf(err, "creating %s.list", name)
	}
	return nil
}

// Status reads the current status file as parsed control stanzas.
func (d *DB) Status() (*control.File, error) {
	f, err := os.Open(d.statusPath())
	if err != nil {
		return nil, errors.Wrap(err, "opening status file")
	}
	defer f.Close()
	cf, err := control.Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, "parsing status file")
	}
	return cf, nil
}

// Refresh signals that the status file has been mutated by an external
// (chrooted) process and the in-memory index view must be reopened before
// further resolution.
func (d *DB) Refresh() error {
	if d.Index == nil {
		return nil
	}
	return d.Index.Open()
}
