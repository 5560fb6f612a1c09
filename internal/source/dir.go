// Package source resolves versions to the mapping archive and owner table
// that back them.
package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/mod/semver"

	"github.com/abramin/namelens/internal/mapping"
)

const (
	mappingsDir = "mappings"
	ownersDir   = "owners"
)

// Dir serves versions laid out on disk as
//
//	<root>/<version>/mappings/<archive>
//	<root>/<version>/owners/<owner table>
//
// The first regular file in each directory is used.
type Dir struct {
	root string
}

// NewDir creates a Dir rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory versions are read from.
func (d *Dir) Root() string {
	return d.root
}

// Fetch implements mapping.Fetcher.
func (d *Dir) Fetch(ctx context.Context, version string) (mapping.Source, error) {
	if !validVersion(version) {
		return mapping.Source{}, &mapping.NoSuchVersionError{Version: version}
	}
	archive, err := firstFile(filepath.Join(d.root, version, mappingsDir))
	if err != nil {
		return mapping.Source{}, d.missing(version, err)
	}
	owners, err := firstFile(filepath.Join(d.root, version, ownersDir))
	if err != nil {
		return mapping.Source{}, d.missing(version, err)
	}
	return mapping.Source{Version: version, Mappings: archive, Owners: owners}, nil
}

// Versions lists every version with a mappings directory, oldest first.
func (d *Dir) Versions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Errorf("reading %s: %w", d.root, err)
	}

	var versions []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(d.root, e.Name(), mappingsDir)); err != nil {
			continue
		}
		versions = append(versions, e.Name())
	}
	SortVersions(versions)
	return versions, nil
}

// LatestVersion returns the highest version on disk.
func (d *Dir) LatestVersion(ctx context.Context) (string, error) {
	versions, err := d.Versions(ctx)
	if err != nil {
		return "", err
	}
	return latest(versions)
}

func (d *Dir) missing(version string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return &mapping.NoSuchVersionError{Version: version}
	}
	return errors.Errorf("resolving %s under %s: %w", version, d.root, err)
}

func firstFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", os.ErrNotExist
}

// validVersion rejects names that would escape the version root.
func validVersion(v string) bool {
	return v != "" && v != "." && v != ".." && !strings.ContainsAny(v, `/\`)
}

// SortVersions orders versions by semantic version, oldest first. Names that
// are not versions (snapshots, for instance) sort before releases.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		if c := semver.Compare(canonical(versions[i]), canonical(versions[j])); c != 0 {
			return c < 0
		}
		return versions[i] < versions[j]
	})
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

func latest(versions []string) (string, error) {
	if len(versions) == 0 {
		return "", &mapping.NoSuchVersionError{Version: "latest"}
	}
	return versions[len(versions)-1], nil
}
