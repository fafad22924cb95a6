// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apt

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-debootstrap/internal/run/runtest"
)

type fakeClient struct {
	responses map[string][]byte
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	body, ok := f.responses[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Status: "404 Not Found"}, nil
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Status: "200 OK"}, nil
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const samplePackages = `Package: base-files
Version: 12.4
Architecture: amd64
Priority: required
Essential: yes

Package: mawk
Version: 1.3.4
Architecture: amd64
Priority: required
Depends: libc6 (>= 2.34)

Package: libc6
Version: 2.36-9
Architecture: amd64
Priority: essential
Size: 17

Package: vim
Version: 2:9.0
Architecture: amd64
Priority: optional
Depends: libc6 (>= 2.34), vim-common
Recommends: vim-doc

Package: vim-common
Version: 2:9.0
Architecture: amd64
Priority: optional
`

func newTestIndex(t *testing.T) (*HTTPIndex, *fakeClient) {
	t.Helper()
	fc := &fakeClient{responses: map[string][]byte{
		"http://mirror.test/dists/bookworm/main/binary-amd64/Packages.gz": gzipBytes(t, samplePackages),
	}}
	idx := &HTTPIndex{
		Client:     fc,
		MirrorURL:  "http://mirror.test",
		Suite:      "bookworm",
		Components: []string{"main"},
		Arch:       "amd64",
		CacheDir:   t.TempDir(),
		Target:     t.TempDir(),
	}
	return idx, fc
}

func TestUpdatePopulatesCatalog(t *testing.T) {
	idx, _ := newTestIndex(t)
	if err := idx.Update(context.Background()); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if len(idx.catalog) != 5 {
		t.Fatalf("catalog has %d packages, want 5", len(idx.catalog))
	}
	if idx.catalog["base-files"].Priority != PriorityRequired {
		t.Errorf("base-files priority = %v, want PriorityRequired", idx.catalog["base-files"].Priority)
	}
	if idx.catalog["libc6"].Size != 17 {
		t.Errorf("libc6 Size = %d, want 17", idx.catalog["libc6"].Size)
	}
	if idx.catalog["base-files"].Size != 0 {
		t.Errorf("base-files Size = %d, want 0 (no Size field in stanza)", idx.catalog["base-files"].Size)
	}
}

func TestFilterByPriority(t *testing.T) {
	idx, _ := newTestIndex(t)
	if err := idx.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	required := idx.FilterByPriority(ClassRequired)
	names := map[string]bool{}
	for _, p := range required {
		names[p.Name] = true
	}
	if !names["base-files"] || !names["mawk"] || !names["libc6"] {
		t.Errorf("FilterByPriority(ClassRequired) = %v, missing expected required/essential packages", names)
	}
	if names["vim"] {
		t.Errorf("FilterByPriority(ClassRequired) unexpectedly included optional package vim")
	}
}

func TestMarkInstallExpandsDependencies(t *testing.T) {
	idx, _ := newTestIndex(t)
	if err := idx.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Open(); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkInstall("vim"); err != nil {
		t.Fatalf("MarkInstall(vim) failed: %v", err)
	}
	changes := idx.Changes()
	order := map[string]int{}
	for i, p := range changes {
		order[p.Name] = i
	}
	if _, ok := order["libc6"]; !ok {
		t.Fatalf("expected libc6 to be pulled in as a dependency, got %v", changes)
	}
	if _, ok := order["vim-common"]; !ok {
		t.Fatalf("expected vim-common to be pulled in as a dependency, got %v", changes)
	}
	if order["libc6"] >= order["vim"] {
		t.Errorf("expected libc6 (dependency) before vim (dependent), got order %v", order)
	}
	if _, ok := order["vim-doc"]; ok {
		t.Errorf("did not expect vim-doc to be marked since Recommends is disabled")
	}
}

func TestMarkInstallUnknownPackage(t *testing.T) {
	idx, _ := newTestIndex(t)
	if err := idx.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Open(); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkInstall("nonexistent"); err == nil {
		t.Fatalf("MarkInstall(nonexistent) expected error")
	}
}

func TestFetchArchivesWritesCache(t *testing.T) {
	idx, fc := newTestIndex(t)
	if err := idx.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Open(); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkInstall("libc6"); err != nil {
		t.Fatal(err)
	}
	artifact := ArtifactName("libc6", "2.36-9", "amd64")
	fc.responses["http://mirror.test/pool/main/libc/libc6/"+artifact] = []byte("fake-deb-contents")
	var lastFetched, lastTotal int64
	if err := idx.FetchArchives(context.Background(), func(fetched, total int64) {
		lastFetched, lastTotal = fetched, total
	}); err != nil {
		t.Fatalf("FetchArchives() failed: %v", err)
	}
	if lastFetched == 0 || lastFetched != lastTotal {
		t.Errorf("progress callback = (%d, %d), want equal nonzero", lastFetched, lastTotal)
	}
	data, err := os.ReadFile(filepath.Join(idx.CacheDir, artifact))
	if err != nil {
		t.Fatalf("reading cached archive: %v", err)
	}
	if string(data) != "fake-deb-contents" {
		t.Errorf("cached archive content = %q, want %q", data, "fake-deb-contents")
	}
}

func TestCommitInvokesDpkgPerPackage(t *testing.T) {
	idx, fc := newTestIndex(t)
	if err := idx.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Open(); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkInstall("mawk"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"mawk", "libc6"} {
		pkg := idx.catalog[name]
		artifact := ArtifactName(pkg.Name, pkg.Version, pkg.Architecture)
		fc.responses["http://mirror.test/pool/main/"+prefixFor(name)+"/"+name+"/"+artifact] = []byte("data")
	}
	if err := idx.FetchArchives(context.Background(), nil); err != nil {
		t.Fatalf("FetchArchives() failed: %v", err)
	}
	exec := runtest.New()
	idx.Exec = exec
	var done, total int
	if err := idx.Commit(context.Background(), func(d, t int) { done, total = d, t }); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if done != total || total != 2 {
		t.Errorf("progress = (%d, %d), want (2, 2)", done, total)
	}
	invocations := exec.Invocations()
	if len(invocations) != 2 {
		t.Fatalf("got %d dpkg invocations, want 2", len(invocations))
	}
	if invocations[0].Name != "dpkg" || invocations[0].Chroot != idx.Target {
		t.Errorf("invocation[0] = %+v, want dpkg chrooted at %s", invocations[0], idx.Target)
	}
	// Each package is installed from its own staged archive.
	if invocations[0].Args[len(invocations[0].Args)-1] == invocations[1].Args[len(invocations[1].Args)-1] {
		t.Errorf("expected distinct archive args per package")
	}
}

func prefixFor(name string) string {
	if len(name) >= 4 && name[:3] == "lib" {
		return name[:4]
	}
	return name[:1]
}

func TestArchivePathEscapesEpoch(t *testing.T) {
	idx, _ := newTestIndex(t)
	got := idx.ArchivePath(Package{Name: "vim", Version: "2:9.0", Architecture: "amd64"})
	want := filepath.Join(idx.CacheDir, "vim_2%3a9.0_amd64.deb")
	if got != want {
		t.Errorf("ArchivePath() = %q, want %q", got, want)
	}
}
