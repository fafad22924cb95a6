// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package control parses and serializes Debian control-file stanzas: the
// RFC822-like field/value format shared by dpkg's status file, apt's
// Packages/Release indices, and .dsc source descriptions.
// See https://www.debian.org/doc/debian-policy/ch-controlfields.html.
package control

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Stanza is one paragraph of a control file: an ordered set of fields, each
// with one or more lines of value (the first is the field's own line, the
// rest are indented continuation lines).
type Stanza struct {
	order  []string
	Fields map[string][]string
}

// Get returns the first line of a field's value, or "" if absent.
func (s Stanza) Get(field string) string {
	v := s.Fields[field]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Set assigns a single-line field value, preserving field order on first
// insertion.
func (s *Stanza) Set(field, value string) {
	if s.Fields == nil {
		s.Fields = map[string][]string{}
	}
	if _, ok := s.Fields[field]; !ok {
		s.order = append(s.order, field)
	}
	s.Fields[field] = []string{value}
}

// NewStanza returns an empty Stanza ready for Set calls.
func NewStanza() Stanza {
	return Stanza{Fields: map[string][]string{}}
}

// File is a sequence of stanzas separated by blank lines.
type File struct {
	Stanzas []Stanza
}

// Parse reads a control file, stopping at (and skipping) an OpenPGP
// clearsign wrapper if present.
func Parse(r io.Reader) (*File, error) {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !b.Scan() {
		return &File{}, nil
	}
	if strings.HasPrefix(b.Text(), "-----BEGIN PGP SIGNED MESSAGE-----") {
		// Skip the hash-algorithm header line and the blank line that follows.
		b.Scan()
		b.Scan()
	}
	f := File{}
	stanza := NewStanza()
	var lastField string
	for {
		if strings.HasPrefix(b.Text(), "-----BEGIN PGP SIGNATURE-----") {
			break
		}
		line := b.Text()
		switch {
		case strings.TrimSpace(line) == "":
			if len(stanza.Fields) > 0 {
				f.Stanzas = append(f.Stanzas, stanza)
				stanza = NewStanza()
				lastField = ""
			}
		case strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t"):
			if lastField == "" {
				return nil, errors.New("unexpected continuation line")
			}
			stanza.Fields[lastField] = append(stanza.Fields[lastField], strings.TrimSpace(line))
		default:
			field, value, found := strings.Cut(line, ":")
			if !found {
				return nil, errors.Errorf("expected new field: %v", line)
			}
			if _, ok := stanza.Fields[field]; ok {
				return nil, errors.Errorf("duplicate field in stanza: %s", field)
			}
			stanza.order = append(stanza.order, field)
			stanza.Fields[field] = nil
			if strings.TrimSpace(value) != "" {
				stanza.Fields[field] = []string{strings.TrimSpace(value)}
			}
			lastField = field
		}
		if !b.Scan() {
			break
		}
	}
	if err := b.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning control file")
	}
	if len(stanza.Fields) > 0 {
		f.Stanzas = append(f.Stanzas, stanza)
	}
	return &f, nil
}

// WriteTo serializes the stanza in field-insertion order, terminated by a
// blank line, matching the layout dpkg itself writes to var/lib/dpkg/status.
func (s Stanza) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, field := range s.order {
		lines := s.Fields[field]
		if len(lines) == 0 {
			continue
		}
		m, err := fmt.Fprintf(w, "%s: %s\n", field, lines[0])
		n += int64(m)
		if err != nil {
			return n, err
		}
		for _, cont := range lines[1:] {
			m, err := fmt.Fprintf(w, " %s\n", cont)
			n += int64(m)
			if err != nil {
				return n, err
			}
		}
	}
	m, err := fmt.Fprint(w, "\n")
	n += int64(m)
	return n, err
}

// String renders the stanza as it would be written to a control file.
func (s Stanza) String() string {
	var sb strings.Builder
	s.WriteTo(&sb)
	return sb.String()
}
