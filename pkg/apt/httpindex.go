// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apt

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-debootstrap/internal/httpx"
	"github.com/google/go-debootstrap/internal/run"
	"github.com/google/go-debootstrap/pkg/apt/control"
	"github.com/pkg/errors"
)

// ErrUnknownPackage is returned by MarkInstall when name is not present in
// the catalog built by the last Update/Open.
var ErrUnknownPackage = errors.New("unknown package")

// ErrDependencyUnresolved is returned by MarkInstall when a dependency
// alternative cannot be found in the catalog.
var ErrDependencyUnresolved = errors.New("dependency unresolved")

// HTTPIndex is a reference Index implementation backed by a real apt
// mirror's dists/<suite>/<component>/binary-<arch>/Packages.gz files and
// pool/ layout, mirroring the URL conventions of the Debian archive.
//
// Dependency expansion in MarkInstall is a bounded, non-backtracking
// fixed-point: each "|" alternative group picks its first member, and an
// unresolvable alternative fails the whole mark. Full SAT-style dependency
// solving is out of scope; PackageIndex is documented (spec.md §1) as the
// external collaborator responsible for resolution policy, and this is a
// deliberately simple reference policy.
type HTTPIndex struct {
	Client     httpx.BasicClient
	MirrorURL  string
	Suite      string
	Components []string
	Arch       string
	// CacheDir is where fetched .deb files are written.
	CacheDir string
	// Target is the chroot root Commit execs the installer against.
	Target string
	// Exec runs the native installer. Defaults to run.NewExecutor().
	Exec run.Executor
	// Recommends includes Recommends fields in dependency expansion.
	Recommends bool

	catalog map[string]Package // keyed by Identity()
	marked  []string           // identities, dependency-first order
	isMarked map[string]bool
}

var _ Index = &HTTPIndex{}

func (h *HTTPIndex) client() httpx.BasicClient {
	if h.Client != nil {
		return h.Client
	}
	return &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "go-debootstrap"}
}

func (h *HTTPIndex) exec() run.Executor {
	if h.Exec != nil {
		return h.Exec
	}
	h.Exec = run.NewExecutor()
	return h.Exec
}

// packagesURL returns the Packages.gz location for one component, following
// the Debian archive's dists/ layout.
func (h *HTTPIndex) packagesURL(component string) string {
	return fmt.Sprintf("%s/dists/%s/%s/binary-%s/Packages.gz", strings.TrimRight(h.MirrorURL, "/"), h.Suite, component, h.Arch)
}

// PoolURL returns the pool/ location of artifact within component for a
// package whose name begins prefixDir (first letter, or first four letters
// for "lib*" packages, per the Debian archive convention).
func PoolURL(mirrorURL, component, name, artifact string) string {
	prefixDir := name[0:1]
	if strings.HasPrefix(name, "lib") && len(name) >= 4 {
		prefixDir = name[0:4]
	}
	return fmt.Sprintf("%s/pool/%s/%s/%s/%s", strings.TrimRight(mirrorURL, "/"), component, prefixDir, name, artifact)
}

// ArtifactName returns the .deb filename apt uses in its pool, with ':' in
// the version percent-escaped since it is reserved in the epoch separator.
func ArtifactName(name, version, arch string) string {
	return fmt.Sprintf("%s_%s_%s.deb", name, escapeVersion(version), arch)
}

func escapeVersion(version string) string {
	return strings.ReplaceAll(version, ":", "%3a")
}

func (h *HTTPIndex) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("fetching %s: %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}

// Update refreshes the catalog from the mirror's Packages.gz for each
// configured component.
func (h *HTTPIndex) Update(ctx context.Context) error {
	catalog := make(map[string]Package)
	for _, component := range h.Components {
		body, err := h.get(ctx, h.packagesURL(component))
		if err != nil {
			return errors.Wrapf(err, "fetching Packages for component %s", component)
		}
		err = func() error {
			defer body.Close()
			gz, err := gzip.NewReader(body)
			if err != nil {
				return errors.Wrap(err, "decompressing Packages.gz")
			}
			defer gz.Close()
			cf, err := control.Parse(gz)
			if err != nil {
				return errors.Wrap(err, "parsing Packages")
			}
			for _, s := range cf.Stanzas {
				pkg := packageFromStanza(s)
				if pkg.Name == "" {
					continue
				}
				catalog[pkg.Identity()] = pkg
			}
			return nil
		}()
		if err != nil {
			return err
		}
	}
	h.catalog = catalog
	return nil
}

func packageFromStanza(s control.Stanza) Package {
	size, _ := strconv.ParseInt(s.Get("Size"), 10, 64)
	return Package{
		Name:         s.Get("Package"),
		Version:      s.Get("Version"),
		Architecture: s.Get("Architecture"),
		Priority:     ParsePriority(s.Get("Priority")),
		MultiArch:    ParseMultiArch(s.Get("Multi-Arch")),
		Essential:    s.Get("Essential") == "yes",
		Size:         size,
		Depends:      splitDependsField(s.Get("Depends")),
		PreDepends:   splitDependsField(s.Get("Pre-Depends")),
		Recommends:   splitDependsField(s.Get("Recommends")),
	}
}

// splitDependsField splits a Depends-style field into its top-level
// comma-separated entries, each possibly an alternative ("a | b | c").
func splitDependsField(field string) []string {
	if strings.TrimSpace(field) == "" {
		return nil
	}
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// firstAlternativeName extracts the bare package name of the first
// alternative in an "a (>= 1.0) | b" style dependency entry.
func firstAlternativeName(entry string) string {
	first := strings.SplitN(entry, "|", 2)[0]
	first = strings.TrimSpace(first)
	if idx := strings.IndexByte(first, ' '); idx >= 0 {
		first = first[:idx]
	}
	if idx := strings.IndexByte(first, '('); idx >= 0 {
		first = strings.TrimSpace(first[:idx])
	}
	return first
}

// Open rebuilds in-memory resolution state: the transaction (marked set) is
// reset, but the catalog from the last Update is kept. Safe to call again
// after an external status-file mutation; callers that need fresh metadata
// should call Update first.
func (h *HTTPIndex) Open() error {
	h.marked = nil
	h.isMarked = make(map[string]bool)
	return nil
}

// FilterByPriority returns every catalog package in class. ClassEssential
// is the set of packages whose Essential field is true (the data model's
// own essential flag, distinct from the Priority "essential" level). Class
// Requested returns the same superset as Important: explicitly named
// packages are added directly via MarkInstall by the caller, not enumerated
// here.
func (h *HTTPIndex) FilterByPriority(class PriorityClass) []Package {
	if class == ClassEssential {
		var out []Package
		for _, pkg := range h.catalog {
			if pkg.Essential {
				out = append(out, pkg)
			}
		}
		return out
	}
	var threshold Priority
	switch class {
	case ClassRequired:
		threshold = PriorityRequired
	case ClassImportant, ClassRequested:
		threshold = PriorityImportant
	default:
		threshold = PriorityImportant
	}
	var out []Package
	for _, pkg := range h.catalog {
		if pkg.Priority >= threshold {
			out = append(out, pkg)
		}
	}
	return out
}

// MarkInstall schedules name (and its dependency closure) for installation.
func (h *HTTPIndex) MarkInstall(name string) error {
	if h.isMarked == nil {
		h.isMarked = make(map[string]bool)
	}
	return h.markClosure(name, map[string]bool{})
}

func (h *HTTPIndex) markClosure(name string, visiting map[string]bool) error {
	pkg, ok := h.catalog[name]
	if !ok {
		return errors.Wrapf(ErrUnknownPackage, "%s", name)
	}
	if h.isMarked[pkg.Identity()] {
		return nil
	}
	if visiting[name] {
		return nil // dependency cycle; already being resolved further up the stack
	}
	visiting[name] = true
	deps := append(append([]string{}, pkg.PreDepends...), pkg.Depends...)
	if h.Recommends {
		deps = append(deps, pkg.Recommends...)
	}
	for _, entry := range deps {
		depName := firstAlternativeName(entry)
		if depName == "" {
			continue
		}
		if _, ok := h.catalog[depName]; !ok {
			return errors.Wrapf(ErrDependencyUnresolved, "%s depends on %s", name, depName)
		}
		if err := h.markClosure(depName, visiting); err != nil {
			return err
		}
	}
	h.isMarked[pkg.Identity()] = true
	h.marked = append(h.marked, pkg.Identity())
	return nil
}

// Changes returns every marked package, in dependency-first order.
func (h *HTTPIndex) Changes() []Package {
	out := make([]Package, 0, len(h.marked))
	for _, id := range h.marked {
		out = append(out, h.catalog[id])
	}
	return out
}

// ArchivePath returns the local cache path for pkg's .deb.
func (h *HTTPIndex) ArchivePath(pkg Package) string {
	return filepath.Join(h.CacheDir, ArtifactName(pkg.Name, pkg.Version, pkg.Architecture))
}

// archiveURLCandidates returns the pool/ URL to try for pkg in each
// configured component, in order. Packages.gz doesn't record which
// component it came from per-entry in this simplified catalog, so the
// fetch just tries each configured component's pool path until one hits.
func (h *HTTPIndex) archiveURLCandidates(pkg Package) []string {
	artifact := ArtifactName(pkg.Name, pkg.Version, pkg.Architecture)
	urls := make([]string, 0, len(h.Components))
	for _, c := range h.Components {
		urls = append(urls, PoolURL(h.MirrorURL, c, pkg.Name, artifact))
	}
	return urls
}

// FetchArchives downloads every marked package's .deb into CacheDir,
// reporting cumulative bytes fetched against the sum of each not-yet-cached
// package's declared Size (best effort: a stanza missing Size contributes 0
// to the total, so progress may exceed 1.0 transiently for such packages).
func (h *HTTPIndex) FetchArchives(ctx context.Context, progress func(fetched, total int64)) error {
	if err := os.MkdirAll(h.CacheDir, 0755); err != nil {
		return errors.Wrap(err, "creating archive cache dir")
	}
	var total int64
	for _, id := range h.marked {
		pkg := h.catalog[id]
		if _, err := os.Stat(h.ArchivePath(pkg)); err != nil {
			total += pkg.Size
		}
	}
	var fetched int64
	for _, id := range h.marked {
		pkg := h.catalog[id]
		dest := h.ArchivePath(pkg)
		if _, err := os.Stat(dest); err == nil {
			continue // already cached
		}
		var body io.ReadCloser
		var err error
		var lastErr error
		for _, candidate := range h.archiveURLCandidates(pkg) {
			body, err = h.get(ctx, candidate)
			if err == nil {
				break
			}
			lastErr = err
		}
		if body == nil {
			return errors.Wrapf(lastErr, "fetching archive for %s", pkg.Name)
		}
		n, err := writeArchive(body, dest)
		body.Close()
		if err != nil {
			return errors.Wrapf(err, "writing archive for %s", pkg.Name)
		}
		fetched += n
		if progress != nil {
			progress(fetched, total)
		}
	}
	return nil
}

func writeArchive(body io.Reader, dest string) (int64, error) {
	tmp := dest + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, body)
	f.Close()
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return 0, err
	}
	return n, nil
}

// Commit performs the full install transaction for every currently marked
// package — fetching any archive not already cached, then installing each
// in dependency-first order via dpkg inside the configured chroot Target.
// Download pipelining is internal and opaque to the caller, per spec.
func (h *HTTPIndex) Commit(ctx context.Context, progress func(done, total int)) error {
	if err := h.FetchArchives(ctx, nil); err != nil {
		return errors.Wrap(err, "fetching archives for commit")
	}
	total := len(h.marked)
	for i, id := range h.marked {
		pkg := h.catalog[id]
		rel, err := filepath.Rel(h.Target, h.ArchivePath(pkg))
		if err != nil || strings.HasPrefix(rel, "..") {
			// Archive cache lives outside the target; dpkg needs a
			// target-relative path, so stage it under a fixed location.
			rel = filepath.Join("var/cache/apt/archives", filepath.Base(h.ArchivePath(pkg)))
			if err := stageArchive(h.ArchivePath(pkg), filepath.Join(h.Target, rel)); err != nil {
				return errors.Wrapf(err, "staging archive for %s", pkg.Name)
			}
		}
		args := []string{"--install", "--force-depends", "--force-unsafe-io", "/" + rel}
		err = h.exec().Execute(ctx, run.Options{
			Chroot: h.Target,
			Env:    []string{"LC_ALL=C", "DEBIAN_FRONTEND=noninteractive", "PATH=/usr/sbin:/usr/bin:/sbin:/bin"},
		}, "dpkg", args...)
		if err != nil {
			return errors.Wrapf(err, "installing %s", pkg.Name)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	return nil
}

func stageArchive(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = writeArchive(in, dest)
	return err
}
