// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Extract materializes m under root, creating parent directories as needed
// (mode 0777, subject to umask) and dispatching on m.Type per the member's
// semantics. body is ignored for every type except TypeFile.
func Extract(m Member, body io.Reader, root string) error {
	dest, err := joinRoot(root, m.Name)
	if err != nil {
		return err
	}
	if m.Type != TypeDir {
		if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
			return errors.Wrapf(err, "creating parent directories for %s", m.Name)
		}
	}
	switch m.Type {
	case TypeFile:
		return extractFile(m, body, dest)
	case TypeDir:
		return extractDir(m, dest)
	case TypeSymlink:
		return extractSymlink(m, dest)
	case TypeHardlink:
		return extractHardlink(m, root, dest)
	case TypeCharDev:
		return extractDevice(m, dest, unix.S_IFCHR)
	case TypeBlockDev:
		return extractDevice(m, dest, unix.S_IFBLK)
	case TypeFIFO:
		return extractFIFO(m, dest)
	default:
		return errors.Wrapf(ErrUnsupportedMember, "%s", m.Name)
	}
}

// joinRoot resolves name relative to root, rejecting absolute names and any
// path that would escape root via "..".
func joinRoot(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", errors.Wrapf(ErrPathEscape, "%s", name)
	}
	clean := filepath.Clean(name)
	if clean == "." {
		return root, nil
	}
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return "", errors.Wrapf(ErrPathEscape, "%s", name)
		}
	}
	return filepath.Join(root, clean), nil
}

func extractFile(m Member, body io.Reader, dest string) error {
	tmp := dest + ".debbootstrap-tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(m.Mode))
	if err != nil {
		return errors.Wrapf(err, "creating %s", m.Name)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "writing %s", m.Name)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "closing %s", m.Name)
	}
	if n != m.Size {
		os.Remove(tmp)
		return errors.Wrapf(ErrMalformedArchive, "%s: wrote %d bytes, header declared %d", m.Name, n, m.Size)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "renaming %s into place", m.Name)
	}
	if err := os.Chmod(dest, os.FileMode(m.Mode)); err != nil {
		return errors.Wrapf(err, "chmod %s", m.Name)
	}
	if err := unix.Lchown(dest, m.UID, m.GID); err != nil {
		return errors.Wrapf(err, "chown %s", m.Name)
	}
	return setTimes(dest, m.ModTime)
}

func extractDir(m Member, dest string) error {
	if err := os.MkdirAll(dest, os.FileMode(m.Mode)); err != nil {
		return errors.Wrapf(err, "creating dir %s", m.Name)
	}
	if err := os.Chmod(dest, os.FileMode(m.Mode)); err != nil {
		return errors.Wrapf(err, "chmod dir %s", m.Name)
	}
	if err := unix.Lchown(dest, m.UID, m.GID); err != nil {
		return errors.Wrapf(err, "chown dir %s", m.Name)
	}
	return setTimes(dest, m.ModTime)
}

func extractSymlink(m Member, dest string) error {
	os.Remove(dest)
	if err := os.Symlink(m.Linkname, dest); err != nil {
		return errors.Wrapf(err, "symlinking %s -> %s", m.Name, m.Linkname)
	}
	// Non-dereferencing chown only; mode and times are never set on the
	// link itself (there is no portable lutimes/lchmod in the stdlib, and
	// neither is meaningful for a symlink's own metadata here).
	if err := unix.Lchown(dest, m.UID, m.GID); err != nil {
		return errors.Wrapf(err, "lchown symlink %s", m.Name)
	}
	return nil
}

func extractHardlink(m Member, root, dest string) error {
	src, err := joinRoot(root, m.Linkname)
	if err != nil {
		return err
	}
	os.Remove(dest)
	if err := os.Link(src, dest); err != nil {
		return errors.Wrapf(err, "hardlinking %s -> %s", m.Name, m.Linkname)
	}
	return nil
}

func extractDevice(m Member, dest string, kind uint32) error {
	os.Remove(dest)
	dev := unix.Mkdev(uint32(m.Major), uint32(m.Minor))
	if err := unix.Mknod(dest, kind|uint32(m.Mode), int(dev)); err != nil {
		return errors.Wrapf(err, "mknod %s", m.Name)
	}
	if err := unix.Lchown(dest, m.UID, m.GID); err != nil {
		return errors.Wrapf(err, "chown device %s", m.Name)
	}
	return setTimes(dest, m.ModTime)
}

func extractFIFO(m Member, dest string) error {
	os.Remove(dest)
	if err := unix.Mknod(dest, unix.S_IFIFO|uint32(m.Mode), 0); err != nil {
		return errors.Wrapf(err, "mkfifo %s", m.Name)
	}
	if err := unix.Lchown(dest, m.UID, m.GID); err != nil {
		return errors.Wrapf(err, "chown fifo %s", m.Name)
	}
	return setTimes(dest, m.ModTime)
}

func setTimes(path string, mtime time.Time) error {
	if mtime.IsZero() {
		return nil
	}
	return os.Chtimes(path, mtime, mtime)
}
