// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package archivetest builds minimal in-memory .deb fixtures for tests,
// modeled on the fixture builder used by canonical/chisel's test suite.
package archivetest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/blakesmith/ar"
)

// Entry describes one tar entry to embed in a fixture data.tar.gz.
type Entry struct {
	Name     string
	Mode     int64
	UID, GID int
	Linkname string
	Typeflag byte // defaults to tar.TypeReg
	Content  []byte
	ModTime  time.Time
}

// BuildDeb constructs a minimal but well-formed .deb: an ar archive with a
// debian-binary member and a data.tar.gz member containing entries.
func BuildDeb(entries []Entry) ([]byte, error) {
	var dataBuf bytes.Buffer
	gw := gzip.NewWriter(&dataBuf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		typeflag := e.Typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		mtime := e.ModTime
		if mtime.IsZero() {
			mtime = time.Unix(0, 0)
		}
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     e.Mode,
			Uid:      e.UID,
			Gid:      e.GID,
			Linkname: e.Linkname,
			Typeflag: typeflag,
			Size:     int64(len(e.Content)),
			ModTime:  mtime,
		}
		if typeflag == tar.TypeSymlink || typeflag == tar.TypeLink {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", e.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(e.Content); err != nil {
				return nil, fmt.Errorf("writing tar content for %s: %w", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	var out bytes.Buffer
	aw := ar.NewWriter(&out)
	if err := aw.WriteGlobalHeader(); err != nil {
		return nil, fmt.Errorf("writing ar global header: %w", err)
	}
	members := []struct {
		name string
		body []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"data.tar.gz", dataBuf.Bytes()},
	}
	for _, mem := range members {
		if err := aw.WriteHeader(&ar.Header{
			Name: mem.name,
			Size: int64(len(mem.body)),
			Mode: 0644,
		}); err != nil {
			return nil, fmt.Errorf("writing ar header for %s: %w", mem.name, err)
		}
		if _, err := io.Copy(aw, bytes.NewReader(mem.body)); err != nil {
			return nil, fmt.Errorf("writing ar body for %s: %w", mem.name, err)
		}
	}
	return out.Bytes(), nil
}
