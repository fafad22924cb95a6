// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Handle is an open binary package ready for member iteration.
type Handle struct {
	f *os.File
}

// Open opens the .deb at path. The caller must call Handle.Close.
func Open(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening archive")
	}
	return &Handle{f: f}, nil
}

// Close releases the underlying file.
func (h *Handle) Close() error {
	return h.f.Close()
}

// Visitor is called once per member of the data.tar.* payload, with body
// positioned to read exactly Member.Size bytes.
type Visitor func(m Member, body io.Reader) error

// Each locates the data.tar.* member of the ar container, decompresses it,
// and invokes visit once per tar entry in archive order.
func (h *Handle) Each(visit Visitor) error {
	ar := ar.NewReader(h.f)
	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			return errors.Wrap(ErrMalformedArchive, "no data.tar.* member found")
		}
		if err != nil {
			return errors.Wrap(ErrMalformedArchive, err.Error())
		}
		name := strings.TrimSpace(hdr.Name)
		if !strings.HasPrefix(name, "data.tar") {
			continue
		}
		tr, err := decompress(name, ar)
		if err != nil {
			return err
		}
		return eachTarEntry(tr, visit)
	}
}

// decompress wraps r with the decompressor matching data.tar.*'s suffix.
func decompress(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedArchive, err.Error())
		}
		return gz, nil
	case strings.HasSuffix(name, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedArchive, err.Error())
		}
		return xr, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedArchive, err.Error())
		}
		return zr, nil
	case name == "data.tar":
		return r, nil
	default:
		return nil, errors.Wrapf(ErrMalformedArchive, "unrecognized data member: %s", name)
	}
}

func eachTarEntry(r io.Reader, visit Visitor) error {
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(ErrMalformedArchive, err.Error())
		}
		m, err := fromTarHeader(h)
		if err != nil {
			return err
		}
		lr := io.LimitReader(tr, h.Size)
		if err := visit(m, lr); err != nil {
			return err
		}
		// Drain whatever the visitor left unread so a truncated underlying
		// stream (fewer bytes than the header declared) surfaces here
		// rather than corrupting the next header read.
		if _, err := io.Copy(io.Discard, lr); err != nil {
			return errors.Wrap(ErrMalformedArchive, err.Error())
		}
	}
}

func fromTarHeader(h *tar.Header) (Member, error) {
	m := Member{
		Name:     strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(h.Name, "./"), "/"), "/"),
		Size:     h.Size,
		Mode:     h.Mode & 07777,
		UID:      h.Uid,
		GID:      h.Gid,
		ModTime:  h.ModTime,
		Linkname: h.Linkname,
		Major:    int64(h.Devmajor),
		Minor:    int64(h.Devminor),
	}
	switch h.Typeflag {
	case tar.TypeReg, tar.TypeRegA:
		m.Type = TypeFile
	case tar.TypeDir:
		m.Type = TypeDir
	case tar.TypeSymlink:
		m.Type = TypeSymlink
	case tar.TypeLink:
		m.Type = TypeHardlink
	case tar.TypeChar:
		m.Type = TypeCharDev
	case tar.TypeBlock:
		m.Type = TypeBlockDev
	case tar.TypeFifo:
		m.Type = TypeFIFO
	default:
		return Member{}, errors.Wrapf(ErrUnsupportedMember, "tar type %q for %s", string(h.Typeflag), h.Name)
	}
	return m, nil
}
