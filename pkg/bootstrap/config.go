// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// DefaultKeyringPath is the well-known location checked when Config.Keyring
// is unset. If the file doesn't exist there, unauthenticated fetches are
// permitted and a warning is logged.
const DefaultKeyringPath = "/usr/share/keyrings/debian-archive-keyring.gpg"

// DefaultMirrorURL is used when the CLI's MIRROR positional is omitted.
const DefaultMirrorURL = "http://deb.debian.org/debian"

// Config holds all configuration for one bootstrap run.
type Config struct {
	Suite      string
	Target     string
	MirrorURL  string
	Arch       string
	Components []string
	Packages   []string
	// Keyring is a path to a GPG keyring blob to copy into the target;
	// empty means "use DefaultKeyringPath if present, else none".
	Keyring    string
	Required   bool
	Important  bool
	Recommends bool
	DryRun     bool
	Debug      bool
	Verbose    bool
}

// NewConfig returns a Config with every priority class — including
// Recommends — on, matching the data model's defaults. Callers that want a
// narrower package set (e.g. the CLI's --no-recommends) flip fields off
// after construction.
func NewConfig() Config {
	return Config{Required: true, Important: true, Recommends: true}
}

// Validate fills in defaults that depend on the host environment and
// rejects configurations the core cannot act on.
func (c *Config) Validate() error {
	if c.Suite == "" {
		return newError(ConfigError, "", errors.New("suite is required"))
	}
	if c.Target == "" {
		return newError(ConfigError, "", errors.New("target is required"))
	}
	if c.MirrorURL == "" {
		c.MirrorURL = DefaultMirrorURL
	}
	if c.Arch == "" {
		c.Arch = hostArch()
	}
	if len(c.Components) == 0 {
		c.Components = []string{"main"}
	}
	if c.Keyring == "" {
		if _, err := os.Stat(DefaultKeyringPath); err == nil {
			c.Keyring = DefaultKeyringPath
		}
	} else if _, err := os.Stat(c.Keyring); err != nil {
		return newError(ConfigError, "", errors.Wrapf(err, "keyring %s", c.Keyring))
	}
	return nil
}

// hostArch maps runtime.GOARCH to the Debian architecture name for the
// "defaults to the host's first configured architecture" tie-break.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "amd64"
	case "386":
		return "i386"
	case "arm64":
		return "arm64"
	case "arm":
		return "armhf"
	default:
		return runtime.GOARCH
	}
}
